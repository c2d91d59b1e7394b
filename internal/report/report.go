// Package report renders scored records and run tables for people and tools.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/pipeline"
)

// Presenter writes a single-file report or a whole run.
type Presenter interface {
	Record(w io.Writer, row pipeline.ScoredRecord) error
	Table(w io.Writer, table pipeline.Table, summary pipeline.Summary) error
}

// Options tunes the text presenter.
type Options struct {
	TopCategories int
	HistogramBins int
}

func OptionsFromConfig(cfg config.ReportConfig) Options {
	return Options{TopCategories: cfg.TopCategories, HistogramBins: cfg.HistogramBins}
}

// ForFormat returns the presenter for text, json or csv.
func ForFormat(name string, opts Options) (Presenter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text":
		return NewText(opts), nil
	case "json":
		return JSON{}, nil
	case "csv":
		return CSV{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", name)
	}
}
