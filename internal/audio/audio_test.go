package audio

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeSine(t *testing.T, path string, freq float64, sampleRate int, seconds float64, amplitude float64) {
	t.Helper()
	n := int(float64(sampleRate) * seconds)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := WriteMonoWAV(f, &Clip{Samples: samples, SampleRate: sampleRate, Channels: 1}); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFiltersAndSorts(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "zeta.mp3"))
	touch(t, filepath.Join(root, "Alpha.WAV"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "nested", "beta.flac"))

	opts := DiscoverOptions{Extensions: []string{".wav", ".mp3", ".flac", ".ogg", ".m4a"}, Recursive: true}
	paths, err := Discover(root, opts)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{
		filepath.Join(root, "Alpha.WAV"),
		filepath.Join(root, "nested", "beta.flac"),
		filepath.Join(root, "zeta.mp3"),
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d paths, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("path %d: expected %s, got %s", i, want[i], paths[i])
		}
	}

	opts.Recursive = false
	paths, err = Discover(root, opts)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected top-level files only, got %v", paths)
	}
}

func TestDiscoverEmptyAndMissing(t *testing.T) {
	paths, err := Discover(t.TempDir(), DiscoverOptions{Extensions: []string{".wav"}})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected no paths, got %v", paths)
	}

	_, err = Discover(filepath.Join(t.TempDir(), "missing"), DiscoverOptions{Extensions: []string{".wav"}})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestResolveRootFallback(t *testing.T) {
	fallback := t.TempDir()
	if err := os.Mkdir(filepath.Join(fallback, "speech-set"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveRoot("speech-set", []string{filepath.Join(t.TempDir(), "nope"), fallback})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.Join(fallback, "speech-set") {
		t.Fatalf("unexpected root %s", got)
	}

	if _, err := ResolveRoot("does-not-exist", []string{fallback}); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestReadWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeSine(t, path, 440, 16000, 0.5, 0.5)

	clip, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if clip.SampleRate != 16000 || clip.Channels != 1 {
		t.Fatalf("unexpected format: rate=%d channels=%d", clip.SampleRate, clip.Channels)
	}
	if len(clip.Samples) != 8000 {
		t.Fatalf("expected 8000 samples, got %d", len(clip.Samples))
	}
	if d := clip.Duration(); d != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %s", d)
	}
}

func TestReadWAVDownmixesStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]int, 0, 2000)
	for i := 0; i < 1000; i++ {
		data = append(data, 16384, 0)
	}
	enc := wav.NewEncoder(f, 8000, 16, 2, 1)
	buf := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 2, SampleRate: 8000}, Data: data, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	clip, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if clip.Channels != 2 || len(clip.Samples) != 1000 {
		t.Fatalf("unexpected clip: channels=%d samples=%d", clip.Channels, len(clip.Samples))
	}
	if math.Abs(clip.Samples[10]-0.25) > 1e-9 {
		t.Fatalf("expected averaged sample 0.25, got %v", clip.Samples[10])
	}
}

func TestReadWAVUnsigned8Bit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcm8.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]int, 800)
	for i := range data {
		if i%2 == 0 {
			data[i] = 128
		} else {
			data[i] = 192
		}
	}
	enc := wav.NewEncoder(f, 8000, 8, 1, 1)
	buf := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: 1, SampleRate: 8000}, Data: data, SourceBitDepth: 8}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	clip, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if len(clip.Samples) != 800 {
		t.Fatalf("expected 800 samples, got %d", len(clip.Samples))
	}
	if clip.Samples[0] != 0 || clip.Samples[1] != 0.5 {
		t.Fatalf("expected silence at 128 and 0.5 at 192, got %v %v", clip.Samples[0], clip.Samples[1])
	}
}

func TestDecodeUnsupportedWithoutConverter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.mp3")
	touch(t, path)
	_, err := Decoder{}.Decode(context.Background(), path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestExtractSineFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeSine(t, path, 1000, 16000, 1, 0.5)

	ex := Extractor{WindowSize: 1024, HopSize: 512}
	rec, features, err := ex.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.Format != "wav" || rec.SampleRate != 16000 || rec.Duration != time.Second {
		t.Fatalf("unexpected record %+v", rec)
	}
	checks := []struct {
		name string
		want float64
		tol  float64
	}{
		{"duration", 1, 1e-9},
		{"rms", 0.5 / math.Sqrt2, 0.01},
		{"zero_crossing_rate", 0.125, 0.01},
		{"spectral_centroid", 1000, 100},
		{"spectral_rolloff", 1000, 150},
	}
	for _, c := range checks {
		got, ok := features[c.name]
		if !ok {
			t.Fatalf("missing feature %s", c.name)
		}
		if math.Abs(got-c.want) > c.tol {
			t.Fatalf("%s = %v, want %v ± %v", c.name, got, c.want, c.tol)
		}
	}
	if features["spectral_bandwidth"] <= 0 {
		t.Fatalf("expected positive bandwidth, got %v", features["spectral_bandwidth"])
	}
}

func TestExtractShortClipUsesSingleFrame(t *testing.T) {
	ex := Extractor{}
	features, err := ex.Features(&Clip{Samples: []float64{0.1, -0.1, 0.2, -0.2}, SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	if _, ok := features["spectral_centroid"]; !ok {
		t.Fatalf("expected spectral features for short clip")
	}
}

func TestExtractKeepsRecordOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	touch(t, path)
	rec, features, err := Extractor{}.Extract(context.Background(), path)
	if err == nil {
		t.Fatalf("expected error for invalid wav")
	}
	if rec.Path != path || rec.Format != "wav" {
		t.Fatalf("expected path and format on failure, got %+v", rec)
	}
	if features != nil {
		t.Fatalf("expected no features, got %v", features)
	}
}
