package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/bus"
	"github.com/loqalabs/loqa-grammar/internal/capability"
	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/grammar"
	"github.com/loqalabs/loqa-grammar/internal/natsserver"
	"github.com/loqalabs/loqa-grammar/internal/pipeline"
	"github.com/loqalabs/loqa-grammar/internal/publish"
	"github.com/loqalabs/loqa-grammar/internal/resultstore"
	"github.com/loqalabs/loqa-grammar/internal/scoring"
	"github.com/loqalabs/loqa-grammar/internal/stt"
)

type providers struct {
	extractor  pipeline.Extractor
	selector   *stt.Selector
	analyzer   *grammar.Analyzer
	calculator scoring.Calculator
	registry   *capability.Registry
}

func buildProviders(ctx context.Context, cfg config.Config, mode stt.Mode, logger *slog.Logger) (*providers, error) {
	decoder := audio.Decoder{
		FFmpegCommand: cfg.Audio.FFmpegCommand,
		SampleRate:    cfg.Audio.SampleRate,
		TempDir:       cfg.Audio.TempDir,
	}

	selector, err := stt.FromConfig(cfg.STT, decoder, logger)
	if err != nil {
		return nil, err
	}
	checker, err := grammar.NewChecker(cfg.Grammar)
	if errors.Is(err, grammar.ErrCheckerNotConfigured) {
		return nil, fmt.Errorf("%w: configure grammar.mode", err)
	}
	if err != nil {
		return nil, err
	}

	registry := capability.NewRegistry(logger)
	for _, m := range []stt.Mode{stt.ModeStandard, stt.ModeHighQuality} {
		if rec := selector.Recognizer(m); rec != nil {
			registry.Register(capability.Provider{
				Name:  selector.Backend(m),
				Kind:  capability.KindSTT,
				Tier:  string(m),
				Probe: capability.ProbeFor(rec),
			})
		}
	}
	registry.Register(capability.Provider{
		Name:  cfg.Grammar.Mode,
		Kind:  capability.KindGrammar,
		Probe: capability.ProbeFor(checker),
	})
	if err := registry.Require(capability.KindSTT, string(mode)); err != nil {
		return nil, fmt.Errorf("%w: configure stt.%s", err, mode)
	}
	registry.Probe(ctx)
	warnMockProviders(registry, mode, logger)

	calc := scoring.FromConfig(cfg.Scoring)
	if err := calc.Validate(); err != nil {
		return nil, err
	}

	p := &providers{
		selector:   selector,
		analyzer:   grammar.NewAnalyzer(checker, cfg.Grammar.LinguisticFeatures),
		calculator: calc,
		registry:   registry,
	}
	if cfg.Audio.FeaturesEnabled {
		p.extractor = audio.Extractor{
			Decoder:    decoder,
			WindowSize: cfg.Audio.WindowSize,
			HopSize:    cfg.Audio.HopSize,
		}
	}
	return p, nil
}

// warnMockProviders flags mock backends, whose output is canned text rather
// than a real transcript or grammar check.
func warnMockProviders(registry *capability.Registry, mode stt.Mode, logger *slog.Logger) {
	var mocks []string
	for _, st := range registry.Statuses() {
		if st.Name != "mock" {
			continue
		}
		if st.Kind == capability.KindSTT && st.Tier != string(mode) {
			continue
		}
		mocks = append(mocks, string(st.Kind))
	}
	if len(mocks) > 0 {
		logger.Warn("using mock providers, scores do not reflect the audio",
			slog.String("providers", strings.Join(mocks, ",")))
	}
}

// resultSinks receives a finished run: the SQLite export and the bus.
type resultSinks struct {
	store     *resultstore.Store
	server    *natsserver.EmbeddedServer
	client    *bus.Client
	publisher *publish.Publisher
	logger    *slog.Logger
}

func openSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) (*resultSinks, error) {
	s := &resultSinks{logger: logger}

	store, err := resultstore.Open(ctx, cfg.Export, logger)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	s.store = store

	if !cfg.Bus.Enabled {
		return s, nil
	}
	busCfg := cfg.Bus
	server, err := natsserver.Start(busCfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.server = server
	if server != nil {
		busCfg.Servers = []string{server.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.client = client
	s.publisher = publish.New(client, busCfg.SubjectPrefix, logger)
	return s, nil
}

// Deliver hands the run to every configured sink. Failures are logged only.
func (s *resultSinks) Deliver(ctx context.Context, table pipeline.Table, summary pipeline.Summary, input string) {
	if s.store.Enabled() {
		if err := s.store.SaveRun(ctx, table, summary, input); err != nil {
			s.logger.Warn("failed to export run", slog.String("error", err.Error()))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishRun(ctx, table, summary); err != nil {
			s.logger.Warn("failed to publish run", slog.String("error", err.Error()))
		}
	}
}

func (s *resultSinks) Close() {
	if s.client != nil {
		s.client.Close()
	}
	s.server.Shutdown()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close result store", slog.String("error", err.Error()))
		}
	}
}
