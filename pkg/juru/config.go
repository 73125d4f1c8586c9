package juru

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/processors"
	"github.com/harunnryd/juru/pkg/recognition"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Session       SessionConfig       `mapstructure:"session"`
	Timing        TimingConfig        `mapstructure:"timing"`
	Instructions  InstructionsConfig  `mapstructure:"instructions"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Store         StoreConfig         `mapstructure:"store"`
	Console       ConsoleConfig       `mapstructure:"console"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	ShutdownMS    int                 `mapstructure:"shutdown_timeout_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// VendorsConfig selects the backends. Batch falls back to Translate when
// its provider is empty; Transcriber is optional.
type VendorsConfig struct {
	STT         VendorConfig `mapstructure:"stt"`
	Refine      VendorConfig `mapstructure:"refine"`
	Translate   VendorConfig `mapstructure:"translate"`
	Batch       VendorConfig `mapstructure:"batch"`
	Transcriber VendorConfig `mapstructure:"transcriber"`
}

type SessionConfig struct {
	Title          string `mapstructure:"title"`
	SourceLanguage string `mapstructure:"source_language"`
	TargetLanguage string `mapstructure:"target_language"`
	// Context seeds every new session and is hot-reloaded into live ones.
	Context string `mapstructure:"context"`
	// BrowserRecognition is "relay" when browsers run recognition
	// themselves, or "server" to stream their audio to vendors.stt.
	BrowserRecognition string `mapstructure:"browser_recognition"`
}

type TimingConfig struct {
	SilenceCommitMS     int `mapstructure:"silence_commit_ms"`
	VelocityIntervalMS  int `mapstructure:"velocity_interval_ms"`
	RefineMinPending    int `mapstructure:"refine_min_pending"`
	RefineDebounceMS    int `mapstructure:"refine_debounce_ms"`
	RefineSlowGate      int `mapstructure:"refine_slow_gate"`
	RefineFastGate      int `mapstructure:"refine_fast_gate"`
	RefineFastVelocity  int `mapstructure:"refine_fast_velocity"`
	TranslateIntervalMS int `mapstructure:"translate_min_interval_ms"`
	TranslateSlowMS     int `mapstructure:"translate_slow_debounce_ms"`
	TranslateFastMS     int `mapstructure:"translate_fast_debounce_ms"`
	TranslateFastRate   int `mapstructure:"translate_fast_velocity"`
	RequestTimeoutMS    int `mapstructure:"request_timeout_ms"`
	BatchTimeoutMS      int `mapstructure:"batch_timeout_ms"`
	RetryAttempts       int `mapstructure:"retry_attempts"`
	RetryBaseMS         int `mapstructure:"retry_base_ms"`
	RecognizerRestarts  int `mapstructure:"recognizer_max_restarts"`
	RecognizerRestartMS int `mapstructure:"recognizer_restart_delay_ms"`
	TranscribeTimeoutMS int `mapstructure:"transcribe_timeout_ms"`
	BatchThinkingBudget int `mapstructure:"batch_thinking_budget"`
	UploadSampleRate    int `mapstructure:"upload_sample_rate"`
	UploadChannels      int `mapstructure:"upload_channels"`

	RefineTemperature    float64 `mapstructure:"refine_temperature"`
	TranslateTemperature float64 `mapstructure:"translate_temperature"`
	BatchTemperature     float64 `mapstructure:"batch_temperature"`
}

// InstructionsConfig overrides the prompt templates. Empty keeps the
// built-in template.
type InstructionsConfig struct {
	Refine    string `mapstructure:"refine"`
	Translate string `mapstructure:"translate"`
	Batch     string `mapstructure:"batch"`
}

type TransportsConfig struct {
	WS     map[string]any `mapstructure:"ws"`
	Twilio TwilioConfig   `mapstructure:"twilio"`
}

type TwilioConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Settings map[string]any `mapstructure:"settings"`
}

type StoreConfig struct {
	// Path of the sqlite database. Empty disables saving.
	Path string `mapstructure:"path"`
}

type ConsoleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Session string `mapstructure:"session"`
	Width   int    `mapstructure:"width"`
	Lines   int    `mapstructure:"lines"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
	MetricsFile   string  `mapstructure:"metrics_file"`
	SampleRate    float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("shutdown_timeout_ms", 10000)
	v.SetDefault("session.title", "Live Transcript")
	v.SetDefault("session.source_language", "English")
	v.SetDefault("session.target_language", "Indonesian")
	v.SetDefault("session.browser_recognition", "relay")
	v.SetDefault("timing.silence_commit_ms", 1200)
	v.SetDefault("timing.velocity_interval_ms", 1000)
	v.SetDefault("timing.refine_min_pending", 20)
	v.SetDefault("timing.refine_debounce_ms", 1500)
	v.SetDefault("timing.refine_slow_gate", 40)
	v.SetDefault("timing.refine_fast_gate", 120)
	v.SetDefault("timing.refine_fast_velocity", 30)
	v.SetDefault("timing.translate_fast_velocity", 40)
	v.SetDefault("timing.translate_min_interval_ms", 500)
	v.SetDefault("timing.translate_slow_debounce_ms", 800)
	v.SetDefault("timing.translate_fast_debounce_ms", 400)
	v.SetDefault("timing.request_timeout_ms", 30000)
	v.SetDefault("timing.batch_timeout_ms", 120000)
	v.SetDefault("timing.retry_attempts", 3)
	v.SetDefault("timing.retry_base_ms", 1000)
	v.SetDefault("timing.recognizer_max_restarts", 3)
	v.SetDefault("timing.recognizer_restart_delay_ms", 300)
	v.SetDefault("timing.transcribe_timeout_ms", 300000)
	v.SetDefault("timing.upload_sample_rate", 16000)
	v.SetDefault("timing.upload_channels", 1)
	v.SetDefault("timing.refine_temperature", 0.1)
	v.SetDefault("timing.translate_temperature", 0.1)
	v.SetDefault("timing.batch_temperature", 0.2)
	v.SetDefault("vendors.stt.provider", "relay")
	v.SetDefault("store.path", "")
	v.SetDefault("console.enabled", false)
	v.SetDefault("console.width", 80)
	v.SetDefault("console.lines", 6)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)
	return v
}

// LoadConfig reads path (YAML, TOML or JSON), applies defaults, expands
// ${ENV} references and validates the result.
func LoadConfig(path string) (Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// WatchConfig reloads path whenever it changes on disk and hands every
// valid new config to onChange. Invalid edits are reported to onError and
// otherwise ignored.
func WatchConfig(path string, onChange func(Config), onError func(error)) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.Refine.Provider) == "" {
		return fmt.Errorf("vendors.refine.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Translate.Provider) == "" {
		return fmt.Errorf("vendors.translate.provider is required")
	}
	switch c.Session.BrowserRecognition {
	case "relay":
	case "server":
		if strings.TrimSpace(c.Vendors.STT.Provider) == "" || c.Vendors.STT.Provider == "relay" {
			return fmt.Errorf("session.browser_recognition=server needs a streaming vendors.stt.provider")
		}
	default:
		return fmt.Errorf("session.browser_recognition must be one of [relay, server], got %s", c.Session.BrowserRecognition)
	}
	if c.Transports.Twilio.Enabled && (c.Vendors.STT.Provider == "" || c.Vendors.STT.Provider == "relay") {
		return fmt.Errorf("transports.twilio needs a streaming vendors.stt.provider")
	}
	if c.Timing.SilenceCommitMS <= 0 {
		return fmt.Errorf("timing.silence_commit_ms must be positive")
	}
	for key, v := range map[string]float64{
		"timing.refine_temperature":    c.Timing.RefineTemperature,
		"timing.translate_temperature": c.Timing.TranslateTemperature,
		"timing.batch_temperature":     c.Timing.BatchTemperature,
	} {
		if v < 0 || v > 2 {
			return fmt.Errorf("%s must be between 0 and 2, got %v", key, v)
		}
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be between 0 and 1")
	}
	return nil
}

// PipelineConfig maps the timing and session sections onto the config of
// session id.
func (c Config) PipelineConfig(id string) pipeline.Config {
	t := c.Timing
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	retry := llm.RetryConfig{
		MaxAttempts: t.RetryAttempts,
		BaseDelay:   ms(t.RetryBaseMS),
		MaxDelay:    8 * ms(t.RetryBaseMS),
		Jitter:      0.2,
	}
	return pipeline.Config{
		ID:     id,
		Title:  c.Session.Title,
		Ingest: processors.IngestConfig{SilenceCommit: ms(t.SilenceCommitMS)},
		Refine: processors.RefinerConfig{
			MinPending:   t.RefineMinPending,
			Debounce:     ms(t.RefineDebounceMS),
			SlowGate:     t.RefineSlowGate,
			FastGate:     t.RefineFastGate,
			FastVelocity: t.RefineFastVelocity,
			Temperature:  processors.Float(t.RefineTemperature),
			Timeout:      ms(t.RequestTimeoutMS),
			Retry:        retry,
		},
		Translate: processors.TranslatorConfig{
			MinInterval:      ms(t.TranslateIntervalMS),
			SlowDebounce:     ms(t.TranslateSlowMS),
			FastDebounce:     ms(t.TranslateFastMS),
			FastVelocity:     t.TranslateFastRate,
			Temperature:      processors.Float(t.TranslateTemperature),
			Timeout:          ms(t.RequestTimeoutMS),
			BatchTemperature: processors.Float(t.BatchTemperature),
			ThinkingBudget:   t.BatchThinkingBudget,
			BatchTimeout:     ms(t.BatchTimeoutMS),
		},
		Recognizer: recognition.Config{
			MaxRestarts:  t.RecognizerRestarts,
			RestartDelay: ms(t.RecognizerRestartMS),
			StreamID:     id,
		},
		VelocityInterval:  ms(t.VelocityIntervalMS),
		SourceLanguage:    c.Session.SourceLanguage,
		TargetLanguage:    c.Session.TargetLanguage,
		Context:           c.Session.Context,
		UploadSampleRate:  t.UploadSampleRate,
		UploadChannels:    t.UploadChannels,
		TranscribeTimeout: ms(t.TranscribeTimeoutMS),
	}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.Refine.Settings = expandSettings(cfg.Vendors.Refine.Settings)
	cfg.Vendors.Translate.Settings = expandSettings(cfg.Vendors.Translate.Settings)
	cfg.Vendors.Batch.Settings = expandSettings(cfg.Vendors.Batch.Settings)
	cfg.Vendors.Transcriber.Settings = expandSettings(cfg.Vendors.Transcriber.Settings)
	cfg.Transports.WS = expandSettings(cfg.Transports.WS)
	cfg.Transports.Twilio.Settings = expandSettings(cfg.Transports.Twilio.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
