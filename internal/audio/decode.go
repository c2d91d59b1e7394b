package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// ErrUnsupportedFormat is returned for containers that cannot be decoded
// natively and no converter is configured.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Record describes one discovered audio file.
type Record struct {
	Path       string        `json:"path"`
	Format     string        `json:"format"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
}

// NewRecord returns a record carrying only the path and container format.
func NewRecord(path string) Record {
	return Record{Path: path, Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")}
}

// Clip is decoded mono audio normalized to [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
	Channels   int // channel count of the source before downmixing
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Decoder loads audio files into clips. WAV is decoded natively; other
// containers go through ffmpeg when FFmpegCommand is set.
type Decoder struct {
	FFmpegCommand string
	SampleRate    int
	TempDir       string
}

// Decode reads path into a mono clip.
func (d Decoder) Decode(ctx context.Context, path string) (*Clip, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return ReadWAV(path)
	}
	if d.FFmpegCommand == "" {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
	}
	converted, err := d.convert(ctx, path)
	if err != nil {
		return nil, err
	}
	defer os.Remove(converted)
	return ReadWAV(converted)
}

// convert runs ffmpeg to produce a mono PCM WAV copy of path.
func (d Decoder) convert(ctx context.Context, path string) (string, error) {
	args, err := shellwords.NewParser().Parse(d.FFmpegCommand)
	if err != nil {
		return "", fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(args) == 0 {
		return "", errors.New("ffmpeg command is empty")
	}
	tmp, err := os.CreateTemp(d.TempDir, "loqa_grammar_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	out := tmp.Name()
	tmp.Close()

	rate := d.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	cmdArgs := append(args[1:],
		"-y", "-i", path,
		"-ac", "1", "-ar", fmt.Sprint(rate),
		"-f", "wav",
		out,
	)
	cmd := exec.CommandContext(ctx, args[0], cmdArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// ReadWAV decodes a PCM WAV file, downmixing to mono.
func ReadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: invalid wav file", filepath.Base(path))
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	scale := 1.0 / math.Pow(2, float64(dec.BitDepth)-1)
	// 8-bit PCM is unsigned with silence at 128.
	offset := 0.0
	if dec.BitDepth == 8 {
		offset = 128
	}
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += (float64(buf.Data[i*channels+ch]) - offset) * scale
		}
		samples[i] = sum / float64(channels)
	}

	return &Clip{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   channels,
	}, nil
}

// WriteMonoWAV encodes clip as 16-bit mono PCM into file.
func WriteMonoWAV(file *os.File, clip *Clip) error {
	if clip == nil || clip.SampleRate <= 0 {
		return errors.New("clip has no sample rate")
	}
	data := make([]int, len(clip.Samples))
	for i, s := range clip.Samples {
		v := math.Round(s * 32767)
		data[i] = int(math.Max(-32768, math.Min(32767, v)))
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: clip.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, clip.SampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
