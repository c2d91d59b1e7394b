package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/natsserver"
	"github.com/loqalabs/loqa-grammar/internal/protocol"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func writeTone(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	samples := make([]float64, 4000)
	for i := range samples {
		if i%16 < 8 {
			samples[i] = 0.3
		} else {
			samples[i] = -0.3
		}
	}
	if err := audio.WriteMonoWAV(f, &audio.Clip{Samples: samples, SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatal(err)
	}
}

// useMockProviders selects the mock transcription and grammar backends.
func useMockProviders(t *testing.T) {
	t.Helper()
	t.Setenv("LOQA_GRAMMAR_STT_STANDARD_MODE", "mock")
	t.Setenv("LOQA_GRAMMAR_GRAMMAR_MODE", "mock")
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionAndUsage(t *testing.T) {
	code, out, _ := runCLI(t, "-version")
	if code != exitOK || strings.TrimSpace(out) != version {
		t.Fatalf("version: code=%d out=%q", code, out)
	}
	if code, _, _ := runCLI(t); code != exitUsage {
		t.Fatalf("expected usage exit without input, got %d", code)
	}
	if code, _, _ := runCLI(t, "-workers", "-1", "x"); code != exitUsage {
		t.Fatalf("expected usage exit for negative workers, got %d", code)
	}
}

func TestScoreDirectoryJSON(t *testing.T) {
	useMockProviders(t)
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "b.wav"))
	writeTone(t, filepath.Join(dir, "a.wav"))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	code, out, stderr := runCLI(t, "-format", "json", "-workers", "2", dir)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	var doc struct {
		Summary struct {
			Total       int `json:"total"`
			Transcribed int `json:"transcribed"`
		} `json:"summary"`
		Rows []struct {
			Record struct {
				Path string `json:"path"`
			} `json:"record"`
			GrammarScore float64 `json:"grammar_score"`
		} `json:"rows"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if doc.Summary.Total != 2 || doc.Summary.Transcribed != 2 {
		t.Fatalf("unexpected summary %+v", doc.Summary)
	}
	if filepath.Base(doc.Rows[0].Record.Path) != "a.wav" || filepath.Base(doc.Rows[1].Record.Path) != "b.wav" {
		t.Fatalf("rows not sorted: %+v", doc.Rows)
	}
	if doc.Rows[0].GrammarScore <= 0 || doc.Rows[0].GrammarScore > 100 {
		t.Fatalf("score out of range: %v", doc.Rows[0].GrammarScore)
	}
	if !strings.Contains(stderr, "transcribed 2 of 2 audio files") {
		t.Fatalf("missing summary log line:\n%s", stderr)
	}
}

func TestEmptyDirectory(t *testing.T) {
	useMockProviders(t)
	code, out, _ := runCLI(t, t.TempDir())
	if code != exitOK {
		t.Fatalf("empty directory should succeed, got %d", code)
	}
	if strings.TrimSpace(out) != "No data to visualize" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSingleFileReport(t *testing.T) {
	useMockProviders(t)
	path := filepath.Join(t.TempDir(), "speech.wav")
	writeTone(t, path)
	code, out, stderr := runCLI(t, "-input", path)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(out, "===== Grammar Analysis Report =====") || !strings.Contains(out, "/100") {
		t.Fatalf("unexpected report:\n%s", out)
	}
	if !strings.Contains(stderr, "using mock providers") || !strings.Contains(stderr, "grammar,stt") {
		t.Fatalf("expected mock provider warning, got:\n%s", stderr)
	}
}

func TestDefaultConfigRefusesToScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interview.wav")
	writeTone(t, path)
	code, out, stderr := runCLI(t, path)
	if code != exitError {
		t.Fatalf("expected exit 1 without configured backends, got %d", code)
	}
	if out != "" {
		t.Fatalf("no report expected, got:\n%s", out)
	}
	if !strings.Contains(stderr, "not configured") {
		t.Fatalf("expected configuration error, got:\n%s", stderr)
	}

	t.Setenv("LOQA_GRAMMAR_GRAMMAR_MODE", "mock")
	code, _, stderr = runCLI(t, path)
	if code != exitError || !strings.Contains(stderr, "capability unavailable") {
		t.Fatalf("expected missing stt backend error, got %d:\n%s", code, stderr)
	}
}

func TestMissingFile(t *testing.T) {
	useMockProviders(t)
	code, _, stderr := runCLI(t, filepath.Join(t.TempDir(), "missing.wav"))
	if code != exitError {
		t.Fatalf("expected exit 1 for missing file, got %d", code)
	}
	if !strings.Contains(stderr, "audio file not found") {
		t.Fatalf("expected not found log, got:\n%s", stderr)
	}
	if code, _, _ := runCLI(t, filepath.Join(t.TempDir(), "missing-dir")); code != exitError {
		t.Fatalf("expected exit 1 for missing directory, got %d", code)
	}
}

func TestHighQualityRequiresBackend(t *testing.T) {
	useMockProviders(t)
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "a.wav"))
	code, _, stderr := runCLI(t, "-hq", dir)
	if code != exitError {
		t.Fatalf("expected config error without high quality backend, got %d", code)
	}
	if !strings.Contains(stderr, "capability unavailable") {
		t.Fatalf("unexpected stderr:\n%s", stderr)
	}
}

func TestExportAndOutputFile(t *testing.T) {
	useMockProviders(t)
	dir := t.TempDir()
	audioDir := filepath.Join(dir, "audio")
	if err := os.Mkdir(audioDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTone(t, filepath.Join(audioDir, "a.wav"))

	dbPath := filepath.Join(dir, "out", "results.db")
	cfgPath := filepath.Join(dir, "loqa-grammar.yaml")
	cfg := "export:\n  path: " + dbPath + "\n  retention_mode: persistent\nstt:\n  high_quality:\n    mode: mock\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	reportPath := filepath.Join(dir, "report.csv")

	code, _, stderr := runCLI(t, "-config", cfgPath, "-hq", "-format", "csv", "-output", reportPath, audioDir)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected export database: %v", err)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "path,") {
		t.Fatalf("unexpected csv report:\n%s", data)
	}
}

func TestBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte("report:\n  format: xml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code, _, _ := runCLI(t, "-config", cfgPath, t.TempDir()); code != exitError {
		t.Fatalf("expected config error, got %d", code)
	}
}

func TestPublishesRunToBus(t *testing.T) {
	useMockProviders(t)
	srv, err := natsserver.StartWithOptions(&server.Options{Host: "127.0.0.1", Port: -1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	records := make(chan *nats.Msg, 4)
	summaries := make(chan *nats.Msg, 1)
	if _, err := nc.ChanSubscribe(protocol.RecordSubject("grammar.score"), records); err != nil {
		t.Fatal(err)
	}
	if _, err := nc.ChanSubscribe(protocol.SummarySubject("grammar.score"), summaries); err != nil {
		t.Fatal(err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOQA_GRAMMAR_BUS_ENABLED", "true")
	t.Setenv("LOQA_GRAMMAR_BUS_SERVERS", srv.ClientURL())
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "a.wav"))
	writeTone(t, filepath.Join(dir, "b.wav"))

	code, _, stderr := runCLI(t, "-format", "json", dir)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	if strings.Contains(stderr, "failed to flush bus") || strings.Contains(stderr, "failed to publish") {
		t.Fatalf("publication reported a failure:\n%s", stderr)
	}

	for i, name := range []string{"a.wav", "b.wav"} {
		select {
		case msg := <-records:
			var rec protocol.RecordMessage
			if err := json.Unmarshal(msg.Data, &rec); err != nil {
				t.Fatalf("decode record: %v", err)
			}
			if filepath.Base(rec.Path) != name || rec.Position != i || !rec.Transcribed {
				t.Fatalf("unexpected record %+v", rec)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for record %d", i)
		}
	}
	select {
	case msg := <-summaries:
		var sum protocol.SummaryMessage
		if err := json.Unmarshal(msg.Data, &sum); err != nil {
			t.Fatalf("decode summary: %v", err)
		}
		if sum.Total != 2 || sum.Transcribed != 2 {
			t.Fatalf("unexpected summary %+v", sum)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for summary")
	}
}

func TestEmbeddedBusPublishesCleanly(t *testing.T) {
	useMockProviders(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	t.Setenv("LOQA_GRAMMAR_BUS_ENABLED", "true")
	t.Setenv("LOQA_GRAMMAR_BUS_EMBEDDED", "true")
	t.Setenv("LOQA_GRAMMAR_BUS_PORT", strconv.Itoa(port))
	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "a.wav"))

	code, _, stderr := runCLI(t, dir)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stderr, "embedded NATS server started") {
		t.Fatalf("expected embedded server log:\n%s", stderr)
	}
	if strings.Contains(stderr, "failed to flush bus") || strings.Contains(stderr, "failed to publish") {
		t.Fatalf("publication reported a failure:\n%s", stderr)
	}
}
