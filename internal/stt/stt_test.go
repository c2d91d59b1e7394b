package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/config"
)

type stubRecognizer struct {
	text  string
	err   error
	delay time.Duration
	calls int
}

func (s *stubRecognizer) Transcribe(ctx context.Context, _ string) (TranscriptResult, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return TranscriptResult{}, ctx.Err()
		}
	}
	if s.err != nil {
		return TranscriptResult{}, s.err
	}
	return TranscriptResult{Text: s.text}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeStandard, "standard": ModeStandard, "hq": ModeHighQuality, "high_quality": ModeHighQuality}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("turbo"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestNewRecognizerModes(t *testing.T) {
	if _, err := NewRecognizer(config.STTBackendConfig{}, audio.Decoder{}); !errors.Is(err, ErrBackendNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	if _, err := NewRecognizer(config.STTBackendConfig{Mode: "cloud"}, audio.Decoder{}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	rec, err := NewRecognizer(config.STTBackendConfig{Mode: "mock"}, audio.Decoder{})
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), "/data/speaker_01.wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.Contains(res.Text, "speaker_01") {
		t.Fatalf("unexpected mock text %q", res.Text)
	}
}

func TestExecRecognizer(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "stt.sh")
	// Echo the received flags back so the test can see what was passed.
	body := "#!/bin/sh\n" +
		"audio=\"\"\nlang=\"\"\n" +
		"while [ $# -gt 0 ]; do\n" +
		"  case \"$1\" in\n" +
		"    --audio) audio=\"$2\"; shift ;;\n" +
		"    --language) lang=\"$2\"; shift ;;\n" +
		"  esac\n" +
		"  shift\n" +
		"done\n" +
		"[ -f \"$audio\" ] || exit 3\n" +
		"printf '{\"text\":\"heard %s\",\"confidence\":0.8}' \"$lang\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	input := filepath.Join(dir, "in.wav")
	f, err := os.Create(input)
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]float64, 1600)
	if err := audio.WriteMonoWAV(f, &audio.Clip{Samples: samples, SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	rec, err := NewExecRecognizer(config.STTBackendConfig{Command: script, Language: "en"}, audio.Decoder{TempDir: dir})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), input)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "heard en" || res.Confidence != 0.8 {
		t.Fatalf("unexpected result %+v", res)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "loqa_stt_*.wav"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files not cleaned up: %v", leftovers)
	}
}

func TestExecRecognizerFailure(t *testing.T) {
	if _, err := NewExecRecognizer(config.STTBackendConfig{Command: "  "}, audio.Decoder{}); err == nil {
		t.Fatalf("expected error for empty command")
	}
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mp3")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := NewExecRecognizer(config.STTBackendConfig{Command: "false"}, audio.Decoder{})
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if _, err := rec.Transcribe(context.Background(), input); err == nil {
		t.Fatalf("expected command failure")
	}
}

func TestWhisperRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/transcribe":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if _, _, err := r.FormFile("audio"); err != nil {
				http.Error(w, "missing audio", http.StatusBadRequest)
				return
			}
			if r.FormValue("language") != "en" {
				http.Error(w, "missing language", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"text":"","language":"en","segments":[{"text":" hello "},{"text":"world"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := NewWhisperRecognizer(config.STTBackendConfig{Mode: "whisper", Endpoint: srv.URL + "/", Language: "en"})
	if !rec.IsAvailable(context.Background()) {
		t.Fatalf("expected sidecar to be available")
	}
	res, err := rec.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello world" || res.Language != "en" {
		t.Fatalf("unexpected result %+v", res)
	}

	srv.Close()
	if rec.IsAvailable(context.Background()) {
		t.Fatalf("expected closed sidecar to be unavailable")
	}
}

func TestSelectorAbsorbsFailures(t *testing.T) {
	failing := &stubRecognizer{err: errors.New("model crashed")}
	blank := &stubRecognizer{text: "   "}
	good := &stubRecognizer{text: " fine thanks "}

	sel := NewSelector(testLogger(), &Backend{Name: "exec", Recognizer: failing}, &Backend{Name: "whisper", Recognizer: good}, time.Second)
	if text, ok := sel.Transcribe(context.Background(), "a.wav", ModeStandard); ok || text != "" {
		t.Fatalf("expected absent transcript, got %q %v", text, ok)
	}
	text, ok := sel.Transcribe(context.Background(), "a.wav", ModeHighQuality)
	if !ok || text != " fine thanks " {
		t.Fatalf("expected high quality text, got %q %v", text, ok)
	}
	if sel.Backend(ModeHighQuality) != "whisper" {
		t.Fatalf("unexpected backend %q", sel.Backend(ModeHighQuality))
	}

	sel = NewSelector(testLogger(), &Backend{Name: "mock", Recognizer: blank}, nil, time.Second)
	if _, ok := sel.Transcribe(context.Background(), "a.wav", ModeStandard); ok {
		t.Fatalf("whitespace transcript must be absent")
	}
	if _, ok := sel.Transcribe(context.Background(), "a.wav", ModeHighQuality); ok {
		t.Fatalf("missing backend must be absent")
	}
	if err := sel.Require(ModeHighQuality); !errors.Is(err, ErrBackendNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	if err := sel.Require(ModeStandard); err != nil {
		t.Fatalf("standard should be available: %v", err)
	}
}

func TestSelectorTimeout(t *testing.T) {
	slow := &stubRecognizer{text: "late", delay: time.Second}
	sel := NewSelector(testLogger(), &Backend{Name: "slow", Recognizer: slow}, nil, 20*time.Millisecond)
	start := time.Now()
	if _, ok := sel.Transcribe(context.Background(), "a.wav", ModeStandard); ok {
		t.Fatalf("expected timeout to produce absent transcript")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout not applied")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().STT
	sel, err := FromConfig(cfg, audio.Decoder{}, testLogger())
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if err := sel.Require(ModeStandard); !errors.Is(err, ErrBackendNotConfigured) {
		t.Fatalf("default config must not select a backend, got %v", err)
	}

	cfg.Standard.Mode = "mock"
	sel, err = FromConfig(cfg, audio.Decoder{}, testLogger())
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if sel.Backend(ModeStandard) != "mock" {
		t.Fatalf("expected mock standard backend, got %q", sel.Backend(ModeStandard))
	}
	if sel.Require(ModeHighQuality) == nil {
		t.Fatalf("default config has no high quality backend")
	}

	cfg.HighQuality = config.STTBackendConfig{Mode: "exec"}
	if _, err := FromConfig(cfg, audio.Decoder{}, testLogger()); err == nil {
		t.Fatalf("expected error for exec backend without command")
	}
}
