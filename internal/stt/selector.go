package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/config"
)

const defaultTimeout = 45 * time.Second

// Backend is a recognizer bound to the name it was configured with.
type Backend struct {
	Name       string
	Recognizer Recognizer
}

// Selector routes each file to the standard or high quality backend and turns
// every failure into an absent transcript.
type Selector struct {
	standard    *Backend
	highQuality *Backend
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSelector wraps the given backends. A nil backend means the mode is unavailable.
func NewSelector(logger *slog.Logger, standard, highQuality *Backend, timeout time.Duration) *Selector {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		standard:    standard,
		highQuality: highQuality,
		timeout:     timeout,
		logger:      logger.With(slog.String("component", "stt")),
	}
}

// FromConfig builds both backends described by cfg. The high quality backend
// is optional; an empty mode leaves it unset.
func FromConfig(cfg config.STTConfig, decoder audio.Decoder, logger *slog.Logger) (*Selector, error) {
	standard, err := backendFromConfig(cfg.Standard, decoder)
	if err != nil {
		return nil, fmt.Errorf("standard stt backend: %w", err)
	}
	highQuality, err := backendFromConfig(cfg.HighQuality, decoder)
	if err != nil {
		return nil, fmt.Errorf("high quality stt backend: %w", err)
	}
	return NewSelector(logger, standard, highQuality, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
}

func backendFromConfig(cfg config.STTBackendConfig, decoder audio.Decoder) (*Backend, error) {
	rec, err := NewRecognizer(cfg, decoder)
	if errors.Is(err, ErrBackendNotConfigured) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Backend{Name: cfg.Mode, Recognizer: rec}, nil
}

func (s *Selector) backend(mode Mode) *Backend {
	if mode == ModeHighQuality {
		return s.highQuality
	}
	return s.standard
}

// Require reports whether mode has a backend. Callers check this once at
// startup so per-file calls never fail for configuration reasons.
func (s *Selector) Require(mode Mode) error {
	if s.backend(mode) == nil {
		return fmt.Errorf("%s transcription: %w", mode, ErrBackendNotConfigured)
	}
	return nil
}

// Backend returns the configured backend name for mode, or "".
func (s *Selector) Backend(mode Mode) string {
	if b := s.backend(mode); b != nil {
		return b.Name
	}
	return ""
}

// Recognizer exposes the recognizer for mode so callers can probe it.
func (s *Selector) Recognizer(mode Mode) Recognizer {
	if b := s.backend(mode); b != nil {
		return b.Recognizer
	}
	return nil
}

// Transcribe returns the text for audioPath as the backend produced it,
// surrounding whitespace included. ok is false when the backend is missing,
// fails, times out or produces only whitespace.
func (s *Selector) Transcribe(ctx context.Context, audioPath string, mode Mode) (string, bool) {
	b := s.backend(mode)
	if b == nil {
		s.logger.Warn("no transcription backend", slog.String("mode", string(mode)), slog.String("path", audioPath))
		return "", false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := b.Recognizer.Transcribe(callCtx, audioPath)
	if err != nil {
		s.logger.Warn("transcription failed",
			slog.String("path", audioPath),
			slog.String("backend", b.Name),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	if strings.TrimSpace(result.Text) == "" {
		s.logger.Warn("empty transcript", slog.String("path", audioPath), slog.String("backend", b.Name))
		return "", false
	}
	s.logger.Debug("transcribed",
		slog.String("path", audioPath),
		slog.String("backend", b.Name),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("latency", time.Since(started)),
	)
	return result.Text, true
}
