package pipeline

import (
	"context"

	"github.com/loqalabs/loqa-grammar/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-grammar/pipeline"

var tracer = otel.Tracer(instrumentationName)

type instruments struct {
	records  metric.Int64Counter
	failures metric.Int64Counter
	scores   metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	records, err := meter.Int64Counter("loqa.grammar.records", metric.WithDescription("Audio files scored"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("loqa.grammar.stage_failures", metric.WithDescription("Absorbed stage failures"))
	if err != nil {
		return nil, err
	}
	scores, err := meter.Float64Histogram("loqa.grammar.score",
		metric.WithDescription("Grammar scores of transcribed files"),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 80, 90, 100),
	)
	if err != nil {
		return nil, err
	}
	return &instruments{records: records, failures: failures, scores: scores}, nil
}

func (i *instruments) recordRow(ctx context.Context, mode stt.Mode, row ScoredRecord) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Bool("transcribed", row.Transcription.Present),
	)
	i.records.Add(ctx, 1, attrs)
	if row.Transcription.Present && !row.Failed(StageAnalysis) {
		i.scores.Record(ctx, row.GrammarScore, metric.WithAttributes(attribute.String("mode", string(mode))))
	}
}

func (i *instruments) recordFailure(ctx context.Context, stage Stage) {
	if i == nil {
		return
	}
	i.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
}
