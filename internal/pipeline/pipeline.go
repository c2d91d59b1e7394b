package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/scoring"
	"github.com/loqalabs/loqa-grammar/internal/stt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultStageTimeout = 45 * time.Second

// Options wires the collaborators of a pipeline. Extractor may be nil to skip
// acoustic features.
type Options struct {
	Extractor    Extractor
	Transcriber  Transcriber
	Analyzer     Analyzer
	Calculator   scoring.Calculator
	Workers      int
	StageTimeout time.Duration
	Logger       *slog.Logger
}

// Pipeline scores audio files.
type Pipeline struct {
	extractor    Extractor
	transcriber  Transcriber
	analyzer     Analyzer
	calc         scoring.Calculator
	workers      int
	stageTimeout time.Duration
	log          *slog.Logger
	inst         *instruments
}

type backendNamer interface {
	Backend(mode stt.Mode) string
}

// New validates opts and returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Transcriber == nil {
		return nil, errors.New("pipeline requires a transcriber")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("pipeline requires an analyzer")
	}
	if err := opts.Calculator.Validate(); err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pipeline{
		extractor:    opts.Extractor,
		transcriber:  opts.Transcriber,
		analyzer:     opts.Analyzer,
		calc:         opts.Calculator,
		workers:      opts.Workers,
		stageTimeout: opts.StageTimeout,
		log:          opts.Logger.With(slog.String("component", "pipeline")),
	}
	inst, err := newInstruments()
	if err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	p.inst = inst
	return p, nil
}

// Run scores every path and returns the rows in input order. When ctx is
// cancelled no further files are started and rows interrupted mid-flight are
// dropped; the rows finished so far are returned together with ctx.Err().
func (p *Pipeline) Run(ctx context.Context, paths []string, mode stt.Mode) (Table, Summary, error) {
	table := Table{RunID: uuid.NewString(), Mode: mode, StartedAt: time.Now().UTC()}
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", table.RunID),
		attribute.String("stt.mode", string(mode)),
		attribute.Int("run.files", len(paths)),
	))
	defer span.End()

	rows := make([]ScoredRecord, len(paths))
	done := make([]bool, len(paths))
	sema := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	var runErr error

dispatch:
	for i, path := range paths {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break dispatch
		case sema <- struct{}{}:
		}
		if err := ctx.Err(); err != nil {
			<-sema
			runErr = err
			break
		}
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sema }()
			row, err := p.process(ctx, path, mode)
			if err != nil {
				p.log.Debug("dropping interrupted row", slog.String("path", path), slog.String("error", err.Error()))
				return
			}
			rows[i] = row
			done[i] = true
		}(i, path)
	}
	wg.Wait()

	for i := range rows {
		if done[i] {
			table.Rows = append(table.Rows, rows[i])
		}
	}
	if runErr == nil && len(table.Rows) < len(paths) {
		runErr = ctx.Err()
	}
	summary := table.Summary()
	p.log.Info(fmt.Sprintf("transcribed %d of %d audio files", summary.Transcribed, len(paths)),
		slog.String("run_id", table.RunID),
		slog.Int("rows", len(table.Rows)),
	)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		p.log.Warn("run cancelled", slog.String("run_id", table.RunID), slog.String("error", runErr.Error()))
	}
	return table, summary, runErr
}

// ScoreFile scores a single file. A missing path returns an error wrapping
// ErrNotFound.
func (p *Pipeline) ScoreFile(ctx context.Context, path string, mode stt.Mode) (ScoredRecord, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ScoredRecord{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return ScoredRecord{}, err
	}
	if info.IsDir() {
		return ScoredRecord{}, fmt.Errorf("%s is a directory", path)
	}
	return p.process(ctx, path, mode)
}

// process scores one file. Stage failures are absorbed into the row, except
// when ctx itself was cancelled: the row is then incomplete and ctx.Err() is
// returned instead.
func (p *Pipeline) process(ctx context.Context, path string, mode stt.Mode) (ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "pipeline.record", trace.WithAttributes(attribute.String("audio.path", path)))
	defer span.End()

	row := ScoredRecord{
		Record:        audio.NewRecord(path),
		AudioFeatures: map[string]float64{},
		Transcription: Transcription{Mode: mode},
	}
	if namer, ok := p.transcriber.(backendNamer); ok {
		row.Transcription.Backend = namer.Backend(mode)
	}
	log := p.log.With(slog.String("path", path))

	if p.extractor != nil {
		err := p.stage(ctx, StageFeatures, func(ctx context.Context) error {
			rec, features, err := p.extractor.Extract(ctx, path)
			row.Record = rec
			if err != nil {
				return err
			}
			row.AudioFeatures = features
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ScoredRecord{}, ctxErr
			}
			log.Warn("feature extraction failed", slog.String("error", err.Error()))
			row.Failures = append(row.Failures, StageFeatures)
			if row.Record.Path == "" {
				row.Record = audio.NewRecord(path)
			}
		}
	}

	var text string
	var present bool
	_ = p.stage(ctx, StageTranscription, func(ctx context.Context) error {
		text, present = p.transcriber.Transcribe(ctx, path, mode)
		if strings.TrimSpace(text) == "" {
			text, present = "", false
		}
		if !present {
			return errors.New("no transcript")
		}
		return nil
	})
	row.Transcription.Text = text
	row.Transcription.Present = present
	if !present {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ScoredRecord{}, ctxErr
		}
		row.Failures = append(row.Failures, StageTranscription)
		p.inst.recordRow(ctx, mode, row)
		return row, nil
	}

	row.TextLength = utf8.RuneCountInString(text)
	var features grammar.Features
	err := p.stage(ctx, StageAnalysis, func(ctx context.Context) error {
		var err error
		features, err = p.analyzer.Analyze(ctx, text)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ScoredRecord{}, ctxErr
		}
		log.Warn("grammar analysis failed", slog.String("error", err.Error()))
		row.Failures = append(row.Failures, StageAnalysis)
		p.inst.recordRow(ctx, mode, row)
		return row, nil
	}
	row.Grammar = features
	row.GrammarScore = scoring.Round2(p.calc.Score(features.ErrorRate, row.TextLength))
	span.SetAttributes(attribute.Float64("grammar.score", row.GrammarScore))
	p.inst.recordRow(ctx, mode, row)
	return row, nil
}

// stage runs fn under the per-stage timeout inside its own span and counts
// failures.
func (p *Pipeline) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.inst.recordFailure(ctx, stage)
	}
	return err
}
