package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/config"
)

// ErrBackendNotConfigured is returned when a transcription mode has no backend.
var ErrBackendNotConfigured = errors.New("transcription backend not configured")

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
	Language   string
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string) (TranscriptResult, error)
}

// Mode selects between the standard and the high quality backend.
type Mode string

const (
	ModeStandard    Mode = "standard"
	ModeHighQuality Mode = "high_quality"
)

// ParseMode accepts "standard", "high_quality" or "hq".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeStandard):
		return ModeStandard, nil
	case string(ModeHighQuality), "hq":
		return ModeHighQuality, nil
	default:
		return "", fmt.Errorf("unknown transcription mode %q", s)
	}
}

// NewRecognizer builds the backend described by cfg. The decoder is used by
// the exec backend to hand the command a mono WAV file.
func NewRecognizer(cfg config.STTBackendConfig, decoder audio.Decoder) (Recognizer, error) {
	switch cfg.Mode {
	case "":
		return nil, ErrBackendNotConfigured
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg, decoder)
	case "whisper":
		return NewWhisperRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
