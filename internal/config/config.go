package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	TraceExporter  string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Discovery   DiscoveryConfig `yaml:"discovery"`
	Audio       AudioConfig     `yaml:"audio"`
	STT         STTConfig       `yaml:"stt"`
	Grammar     GrammarConfig   `yaml:"grammar"`
	Scoring     ScoringConfig   `yaml:"scoring"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Report      ReportConfig    `yaml:"report"`
	Export      ExportConfig    `yaml:"export"`
	Bus         BusConfig       `yaml:"bus"`
}

type DiscoveryConfig struct {
	Extensions    []string `yaml:"extensions"`
	Recursive     bool     `yaml:"recursive"`
	FallbackRoots []string `yaml:"fallback_roots"`
}

type AudioConfig struct {
	FeaturesEnabled bool   `yaml:"features_enabled"`
	FFmpegCommand   string `yaml:"ffmpeg_command"`
	SampleRate      int    `yaml:"conversion_sample_rate"`
	TempDir         string `yaml:"temp_dir"`
	WindowSize      int    `yaml:"window_size"`
	HopSize         int    `yaml:"hop_size"`
}

// STTBackendConfig describes one transcription backend.
type STTBackendConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, whisper
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type STTConfig struct {
	Standard    STTBackendConfig `yaml:"standard"`
	HighQuality STTBackendConfig `yaml:"high_quality"`
	TimeoutMS   int              `yaml:"timeout_ms"`
}

type GrammarConfig struct {
	Mode               string `yaml:"mode"` // mock, languagetool, exec
	Endpoint           string `yaml:"endpoint"`
	Command            string `yaml:"command"`
	Language           string `yaml:"language"`
	LinguisticFeatures bool   `yaml:"linguistic_features"`
}

type ScoringConfig struct {
	MinScore        float64 `yaml:"min_score"`
	MaxErrorRate    float64 `yaml:"max_error_rate"`
	FullLengthChars int     `yaml:"full_length_chars"`
}

type PipelineConfig struct {
	Workers        int `yaml:"workers"`
	StageTimeoutMS int `yaml:"stage_timeout_ms"`
}

type ReportConfig struct {
	Format        string `yaml:"format"` // text, json, csv
	TopCategories int    `yaml:"top_categories"`
	HistogramBins int    `yaml:"histogram_bins"`
}

type ExportConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-grammar",
		Environment: "development",
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			TraceExporter:  "none",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Discovery: DiscoveryConfig{
			Extensions: []string{".wav", ".mp3", ".flac", ".ogg", ".m4a"},
			Recursive:  true,
		},
		Audio: AudioConfig{
			FeaturesEnabled: true,
			SampleRate:      16000,
			WindowSize:      1024,
			HopSize:         512,
		},
		STT: STTConfig{
			Standard: STTBackendConfig{
				Language: "en",
			},
			TimeoutMS: 45000,
		},
		Grammar: GrammarConfig{
			Endpoint:           "http://localhost:8081",
			Language:           "en-US",
			LinguisticFeatures: true,
		},
		Scoring: ScoringConfig{
			MinScore:        0,
			MaxErrorRate:    1,
			FullLengthChars: 50,
		},
		Pipeline: PipelineConfig{
			Workers:        1,
			StageTimeoutMS: 45000,
		},
		Report: ReportConfig{
			Format:        "text",
			TopCategories: 10,
			HistogramBins: 20,
		},
		Export: ExportConfig{
			Path:          "./data/loqa-grammar.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "grammar.score",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first problem found in cfg.
func Validate(cfg Config) error {
	return validate(cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_GRAMMAR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_GRAMMAR_ENVIRONMENT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_GRAMMAR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_GRAMMAR_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_GRAMMAR_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_GRAMMAR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_GRAMMAR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_GRAMMAR_TELEMETRY_PROMETHEUS_BIND")
	overrideStringSlice(&cfg.Discovery.Extensions, "LOQA_GRAMMAR_DISCOVERY_EXTENSIONS")
	overrideBool(&cfg.Discovery.Recursive, "LOQA_GRAMMAR_DISCOVERY_RECURSIVE")
	overrideStringSlice(&cfg.Discovery.FallbackRoots, "LOQA_GRAMMAR_DISCOVERY_FALLBACK_ROOTS")
	overrideBool(&cfg.Audio.FeaturesEnabled, "LOQA_GRAMMAR_AUDIO_FEATURES_ENABLED")
	overrideString(&cfg.Audio.FFmpegCommand, "LOQA_GRAMMAR_AUDIO_FFMPEG_COMMAND")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_GRAMMAR_AUDIO_CONVERSION_SAMPLE_RATE")
	overrideString(&cfg.Audio.TempDir, "LOQA_GRAMMAR_AUDIO_TEMP_DIR")
	overrideInt(&cfg.Audio.WindowSize, "LOQA_GRAMMAR_AUDIO_WINDOW_SIZE")
	overrideInt(&cfg.Audio.HopSize, "LOQA_GRAMMAR_AUDIO_HOP_SIZE")
	overrideBackend(&cfg.STT.Standard, "LOQA_GRAMMAR_STT_STANDARD")
	overrideBackend(&cfg.STT.HighQuality, "LOQA_GRAMMAR_STT_HIGH_QUALITY")
	overrideInt(&cfg.STT.TimeoutMS, "LOQA_GRAMMAR_STT_TIMEOUT_MS")
	overrideString(&cfg.Grammar.Mode, "LOQA_GRAMMAR_GRAMMAR_MODE")
	overrideString(&cfg.Grammar.Endpoint, "LOQA_GRAMMAR_GRAMMAR_ENDPOINT")
	overrideString(&cfg.Grammar.Command, "LOQA_GRAMMAR_GRAMMAR_COMMAND")
	overrideString(&cfg.Grammar.Language, "LOQA_GRAMMAR_GRAMMAR_LANGUAGE")
	overrideBool(&cfg.Grammar.LinguisticFeatures, "LOQA_GRAMMAR_GRAMMAR_LINGUISTIC_FEATURES")
	overrideFloat(&cfg.Scoring.MinScore, "LOQA_GRAMMAR_SCORING_MIN_SCORE")
	overrideFloat(&cfg.Scoring.MaxErrorRate, "LOQA_GRAMMAR_SCORING_MAX_ERROR_RATE")
	overrideInt(&cfg.Scoring.FullLengthChars, "LOQA_GRAMMAR_SCORING_FULL_LENGTH_CHARS")
	overrideInt(&cfg.Pipeline.Workers, "LOQA_GRAMMAR_PIPELINE_WORKERS")
	overrideInt(&cfg.Pipeline.StageTimeoutMS, "LOQA_GRAMMAR_PIPELINE_STAGE_TIMEOUT_MS")
	overrideString(&cfg.Report.Format, "LOQA_GRAMMAR_REPORT_FORMAT")
	overrideInt(&cfg.Report.TopCategories, "LOQA_GRAMMAR_REPORT_TOP_CATEGORIES")
	overrideInt(&cfg.Report.HistogramBins, "LOQA_GRAMMAR_REPORT_HISTOGRAM_BINS")
	overrideString(&cfg.Export.Path, "LOQA_GRAMMAR_EXPORT_PATH")
	overrideString(&cfg.Export.RetentionMode, "LOQA_GRAMMAR_EXPORT_RETENTION_MODE")
	overrideInt(&cfg.Export.RetentionDays, "LOQA_GRAMMAR_EXPORT_RETENTION_DAYS")
	overrideInt(&cfg.Export.MaxRuns, "LOQA_GRAMMAR_EXPORT_MAX_RUNS")
	overrideBool(&cfg.Export.VacuumOnStart, "LOQA_GRAMMAR_EXPORT_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "LOQA_GRAMMAR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_GRAMMAR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_GRAMMAR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_GRAMMAR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_GRAMMAR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_GRAMMAR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_GRAMMAR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_GRAMMAR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_GRAMMAR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "LOQA_GRAMMAR_BUS_SUBJECT_PREFIX")
}

func overrideBackend(target *STTBackendConfig, prefix string) {
	overrideString(&target.Mode, prefix+"_MODE")
	overrideString(&target.Command, prefix+"_COMMAND")
	overrideString(&target.Endpoint, prefix+"_ENDPOINT")
	overrideString(&target.Model, prefix+"_MODEL")
	overrideString(&target.ModelPath, prefix+"_MODEL_PATH")
	overrideString(&target.Language, prefix+"_LANGUAGE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if len(cfg.Discovery.Extensions) == 0 {
		return errors.New("discovery.extensions must not be empty")
	}
	for _, ext := range cfg.Discovery.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("discovery.extensions entry %q must start with a dot", ext)
		}
	}
	if cfg.Audio.FeaturesEnabled {
		if cfg.Audio.WindowSize <= 0 || cfg.Audio.HopSize <= 0 {
			return errors.New("audio.window_size and audio.hop_size must be positive")
		}
	}
	if cfg.Audio.FFmpegCommand != "" && cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.conversion_sample_rate must be positive when ffmpeg_command is set")
	}
	if err := validateBackend("stt.standard", cfg.STT.Standard); err != nil {
		return err
	}
	if err := validateBackend("stt.high_quality", cfg.STT.HighQuality); err != nil {
		return err
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	switch cfg.Grammar.Mode {
	case "", "mock":
	case "languagetool":
		if cfg.Grammar.Endpoint == "" {
			return errors.New("grammar.endpoint must be set when mode=languagetool")
		}
	case "exec":
		if cfg.Grammar.Command == "" {
			return errors.New("grammar.command must be set when mode=exec")
		}
	default:
		return errors.New("grammar.mode must be one of mock|languagetool|exec")
	}
	if cfg.Scoring.MaxErrorRate <= 0 {
		return errors.New("scoring.max_error_rate must be positive")
	}
	if cfg.Scoring.FullLengthChars <= 0 {
		return errors.New("scoring.full_length_chars must be positive")
	}
	if cfg.Scoring.MinScore < 0 || cfg.Scoring.MinScore > 100 {
		return errors.New("scoring.min_score must be between 0 and 100")
	}
	if cfg.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be >= 1")
	}
	if cfg.Pipeline.StageTimeoutMS <= 0 {
		return errors.New("pipeline.stage_timeout_ms must be positive")
	}
	switch cfg.Report.Format {
	case "text", "json", "csv":
	default:
		return errors.New("report.format must be one of text|json|csv")
	}
	if cfg.Report.TopCategories <= 0 || cfg.Report.HistogramBins <= 0 {
		return errors.New("report.top_categories and report.histogram_bins must be positive")
	}
	switch cfg.Export.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.Export.Path == "" {
			return errors.New("export.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("export.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Export.RetentionDays < 0 {
		return errors.New("export.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
	}
	return nil
}

// validateBackend checks one STT backend. An empty mode leaves the backend
// unset; the scorer refuses to start when the mode it needs has none.
func validateBackend(name string, b STTBackendConfig) error {
	switch b.Mode {
	case "", "mock":
	case "exec":
		if b.Command == "" {
			return fmt.Errorf("%s.command must be set when mode=exec", name)
		}
	case "whisper":
		if b.Endpoint == "" {
			return fmt.Errorf("%s.endpoint must be set when mode=whisper", name)
		}
	default:
		return fmt.Errorf("%s.mode must be one of mock|exec|whisper", name)
	}
	return nil
}
