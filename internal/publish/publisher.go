// Package publish announces scored rows and run summaries on the bus.
package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/pipeline"
	"github.com/loqalabs/loqa-grammar/internal/protocol"
)

// Sink is the part of the bus client the publisher needs.
type Sink interface {
	PublishJSON(subject string, v any) error
	Flush(ctx context.Context) error
}

type Publisher struct {
	sink   Sink
	prefix string
	logger *slog.Logger
	clock  func() time.Time
}

func New(sink Sink, subjectPrefix string, logger *slog.Logger) *Publisher {
	if subjectPrefix == "" {
		subjectPrefix = "grammar.score"
	}
	return &Publisher{
		sink:   sink,
		prefix: subjectPrefix,
		logger: logger.With(slog.String("component", "publish")),
		clock:  time.Now,
	}
}

// PublishRun emits one record message per row followed by the summary.
// Every failure is logged; the joined errors are returned for the caller to
// report, never to abort on.
func (p *Publisher) PublishRun(ctx context.Context, table pipeline.Table, summary pipeline.Summary) error {
	var errs []error
	now := p.clock().UTC()
	recordSubject := protocol.RecordSubject(p.prefix)
	for i, row := range table.Rows {
		if err := p.sink.PublishJSON(recordSubject, recordMessage(table, i, row, now)); err != nil {
			p.logger.Warn("failed to publish record", slog.String("path", row.Record.Path), slogError(err))
			errs = append(errs, err)
		}
	}

	msg := protocol.SummaryMessage{
		RunID:       table.RunID,
		Mode:        string(table.Mode),
		Total:       summary.Total,
		Transcribed: summary.Transcribed,
		MeanScore:   table.MeanScore(),
		Timestamp:   now,
	}
	if err := p.sink.PublishJSON(protocol.SummarySubject(p.prefix), msg); err != nil {
		p.logger.Warn("failed to publish summary", slogError(err))
		errs = append(errs, err)
	}
	if err := p.sink.Flush(ctx); err != nil {
		p.logger.Warn("failed to flush bus", slogError(err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func recordMessage(table pipeline.Table, position int, row pipeline.ScoredRecord, now time.Time) protocol.RecordMessage {
	failures := make([]string, 0, len(row.Failures))
	for _, f := range row.Failures {
		failures = append(failures, string(f))
	}
	return protocol.RecordMessage{
		RunID:           table.RunID,
		Position:        position,
		Path:            row.Record.Path,
		Mode:            string(table.Mode),
		Transcribed:     row.Transcription.Present,
		Transcription:   row.Transcription.Text,
		TextLength:      row.TextLength,
		ErrorCount:      row.Grammar.ErrorCount,
		ErrorRate:       row.Grammar.ErrorRate,
		ErrorCategories: row.Grammar.ErrorCategories,
		GrammarScore:    row.GrammarScore,
		Failures:        failures,
		Timestamp:       now,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
