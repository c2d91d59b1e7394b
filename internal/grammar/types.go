package grammar

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-grammar/internal/config"
)

// ErrCheckerNotConfigured is returned when no grammar backend is selected.
var ErrCheckerNotConfigured = errors.New("grammar checker not configured")

// Match is one issue reported by a checker.
type Match struct {
	Category string `json:"category"`
	RuleID   string `json:"rule_id"`
	Message  string `json:"message"`
	Offset   int    `json:"offset"`
	Length   int    `json:"length"`
}

// Checker defines a pluggable grammar checking backend.
type Checker interface {
	Check(ctx context.Context, text string) ([]Match, error)
}

// Features summarizes the grammar of one transcript.
type Features struct {
	ErrorCount        int                `json:"error_count"`
	ErrorRate         float64            `json:"error_rate"`
	ErrorCategories   map[string]int     `json:"error_categories,omitempty"`
	WordCount         int                `json:"word_count"`
	SentenceCount     int                `json:"sentence_count"`
	AvgSentenceLength float64            `json:"avg_sentence_length"`
	Ratios            map[string]float64 `json:"ratios,omitempty"`
}

// NewChecker builds the backend selected by cfg.Mode.
func NewChecker(cfg config.GrammarConfig) (Checker, error) {
	switch cfg.Mode {
	case "":
		return nil, ErrCheckerNotConfigured
	case "mock":
		return NewMockChecker(), nil
	case "languagetool":
		return NewLanguageToolChecker(cfg.Endpoint, cfg.Language), nil
	case "exec":
		return NewExecChecker(cfg.Command, cfg.Language)
	default:
		return nil, fmt.Errorf("unknown grammar mode %q", cfg.Mode)
	}
}
