// Package pipeline runs discovered audio files through feature extraction,
// transcription, grammar analysis and scoring, producing one row per file.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/stt"
)

// ErrNotFound is returned by ScoreFile when the input path does not exist.
var ErrNotFound = errors.New("audio file not found")

// Stage names a step whose failure is absorbed into a row.
type Stage string

const (
	StageFeatures      Stage = "features"
	StageTranscription Stage = "transcription"
	StageAnalysis      Stage = "analysis"
)

// Extractor produces record metadata and acoustic features for a file.
type Extractor interface {
	Extract(ctx context.Context, path string) (audio.Record, map[string]float64, error)
}

// Transcriber turns a file into text. ok is false when no text could be produced.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, mode stt.Mode) (string, bool)
}

// Analyzer derives grammar features from text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (grammar.Features, error)
}

// Transcription is the text produced for one file.
type Transcription struct {
	Text    string   `json:"text"`
	Present bool     `json:"present"`
	Mode    stt.Mode `json:"mode"`
	Backend string   `json:"backend,omitempty"`
}

// ScoredRecord is one finished row of a run.
type ScoredRecord struct {
	Record        audio.Record       `json:"record"`
	Transcription Transcription      `json:"transcription"`
	Grammar       grammar.Features   `json:"grammar"`
	AudioFeatures map[string]float64 `json:"audio_features"`
	TextLength    int                `json:"text_length"`
	GrammarScore  float64            `json:"grammar_score"`
	Failures      []Stage            `json:"failures,omitempty"`
}

// Failed reports whether stage failed for this row.
func (r ScoredRecord) Failed(stage Stage) bool {
	for _, s := range r.Failures {
		if s == stage {
			return true
		}
	}
	return false
}

// Summary counts how many rows received a transcript.
type Summary struct {
	Total       int `json:"total"`
	Transcribed int `json:"transcribed"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d of %d transcribed", s.Transcribed, s.Total)
}
