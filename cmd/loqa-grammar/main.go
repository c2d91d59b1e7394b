package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/loqalabs/loqa-grammar/internal/pipeline"
	"github.com/loqalabs/loqa-grammar/internal/report"
	"github.com/loqalabs/loqa-grammar/internal/runtime"
	"github.com/loqalabs/loqa-grammar/internal/stt"
)

var version = "0.1.0-dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	input       string
	configPath  string
	format      string
	output      string
	workers     int
	highQuality bool
	showVersion bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("loqa-grammar", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.input, "input", "", "Audio file or directory to score")
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.format, "format", "", "Report format: text, json or csv")
	fs.StringVar(&opts.output, "output", "", "Write the report to this file instead of stdout")
	fs.IntVar(&opts.workers, "workers", 0, "Files scored concurrently")
	fs.BoolVar(&opts.highQuality, "hq", false, "Use the high quality transcription backend")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: loqa-grammar [flags] <file|directory>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.input == "" && fs.NArg() > 0 {
		opts.input = fs.Arg(0)
	}
	if opts.showVersion {
		return opts, nil
	}
	if opts.input == "" {
		fs.Usage()
		return opts, errors.New("no input given")
	}
	if opts.workers < 0 {
		return opts, errors.New("-workers must not be negative")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}
	if opts.showVersion {
		fmt.Fprintln(stdout, version)
		return exitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitError
	}
	if opts.format != "" {
		cfg.Report.Format = opts.format
	}
	if opts.workers > 0 {
		cfg.Pipeline.Workers = opts.workers
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return exitError
	}

	logger := runtime.NewLogger(cfg.Telemetry, stderr)
	mode := stt.ModeStandard
	if opts.highQuality {
		mode = stt.ModeHighQuality
	}

	rt := runtime.New(cfg, version, logger)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime failed to start", slog.String("error", err.Error()))
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			logger.Warn("runtime shutdown error", slog.String("error", err.Error()))
		}
	}()

	presenter, err := report.ForFormat(cfg.Report.Format, report.OptionsFromConfig(cfg.Report))
	if err != nil {
		logger.Error("invalid report format", slog.String("error", err.Error()))
		return exitError
	}

	deps, err := buildProviders(ctx, cfg, mode, logger)
	if err != nil {
		logger.Error("failed to configure providers", slog.String("error", err.Error()))
		return exitError
	}

	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open result sinks", slog.String("error", err.Error()))
		return exitError
	}
	defer sinks.Close()

	p, err := pipeline.New(pipeline.Options{
		Extractor:    deps.extractor,
		Transcriber:  deps.selector,
		Analyzer:     deps.analyzer,
		Calculator:   deps.calculator,
		Workers:      cfg.Pipeline.Workers,
		StageTimeout: time.Duration(cfg.Pipeline.StageTimeoutMS) * time.Millisecond,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", slog.String("error", err.Error()))
		return exitError
	}
	rt.SetReady(true)

	out, closeOut, err := openOutput(opts.output, stdout)
	if err != nil {
		logger.Error("failed to open output", slog.String("error", err.Error()))
		return exitError
	}
	defer closeOut()

	logger.Info("running grammar scoring", slog.String("mode", string(mode)), slog.String("version", version))

	root, err := audio.ResolveRoot(opts.input, cfg.Discovery.FallbackRoots)
	if err != nil {
		if !isAudioPath(opts.input, cfg.Discovery.Extensions) {
			logger.Error("input not found", slog.String("input", opts.input))
			return exitError
		}
		root = opts.input
	}

	info, statErr := os.Stat(root)
	if statErr == nil && info.IsDir() {
		return scoreDirectory(ctx, p, cfg, root, mode, presenter, out, sinks, logger)
	}
	return scoreSingle(ctx, p, root, mode, presenter, out, logger)
}

func scoreSingle(ctx context.Context, p *pipeline.Pipeline, path string, mode stt.Mode, presenter report.Presenter, out io.Writer, logger *slog.Logger) int {
	logger.Info("processing single audio file", slog.String("file", filepath.Base(path)))
	row, err := p.ScoreFile(ctx, path, mode)
	if errors.Is(err, pipeline.ErrNotFound) {
		logger.Error("audio file not found", slog.String("path", path))
		return exitError
	}
	if err != nil {
		logger.Error("scoring failed", slog.String("error", err.Error()))
		return exitError
	}
	if err := presenter.Record(out, row); err != nil {
		logger.Error("failed to write report", slog.String("error", err.Error()))
		return exitError
	}
	return exitOK
}

func scoreDirectory(ctx context.Context, p *pipeline.Pipeline, cfg config.Config, root string, mode stt.Mode, presenter report.Presenter, out io.Writer, sinks *resultSinks, logger *slog.Logger) int {
	logger.Info("processing dataset", slog.String("root", root))
	paths, err := audio.Discover(root, audio.DiscoverOptions{
		Extensions: cfg.Discovery.Extensions,
		Recursive:  cfg.Discovery.Recursive,
	})
	if err != nil {
		logger.Error("discovery failed", slog.String("error", err.Error()))
		return exitError
	}
	logger.Info(fmt.Sprintf("found %d audio files", len(paths)))
	if len(paths) == 0 {
		logger.Warn("no audio files found", slog.String("root", root))
	}

	table, summary, runErr := p.Run(ctx, paths, mode)
	if err := presenter.Table(out, table, summary); err != nil {
		logger.Error("failed to write report", slog.String("error", err.Error()))
		return exitError
	}
	sinks.Deliver(context.WithoutCancel(ctx), table, summary, root)

	if runErr != nil {
		logger.Error("run interrupted", slog.String("error", runErr.Error()))
		return exitError
	}
	return exitOK
}

func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func isAudioPath(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
