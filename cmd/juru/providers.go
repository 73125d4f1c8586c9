package main

import (
	"fmt"
	"time"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/configutil"
	"github.com/harunnryd/juru/pkg/juru"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/providers/deepgram"
	"github.com/harunnryd/juru/pkg/providers/gemini"
	"github.com/harunnryd/juru/pkg/providers/mock"
	"github.com/harunnryd/juru/pkg/providers/openai"
	"github.com/harunnryd/juru/pkg/resilience"
)

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Interim        *bool  `mapstructure:"interim"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
	ConnectRetries *int   `mapstructure:"connect_retries"`
	ConnectBackoff int    `mapstructure:"connect_backoff_ms"`
}

// CircuitSettings are shared by every remote text vendor.
type CircuitSettings struct {
	UseCircuitBreaker *bool `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int   `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int   `mapstructure:"circuit_cooldown_ms"`
}

type openAISettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`

	CircuitSettings `mapstructure:",squash"`
}

type geminiSettings struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`

	CircuitSettings `mapstructure:",squash"`
}

type mockLLMSettings struct {
	ResponseText string `mapstructure:"response_text"`
}

type transcriberSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
	BaseURL  string `mapstructure:"base_url"`
}

type mockTranscriberSettings struct {
	Text string `mapstructure:"text"`
}

var breakerKeys = []string{"use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"}

func registerProviders(reg *juru.ProviderRegistry) {
	reg.RegisterSTT("deepgram", func(vendor juru.VendorConfig, format juru.AudioFormat) (func(string) stt.StreamingSTT, error) {
		var settings deepgramSettings
		if err := configutil.Decode("vendors.stt.settings", vendor.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "interim", "vad_events", "utterance_end_ms", "connect_retries", "connect_backoff_ms"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.Language == "" {
			settings.Language = "en"
		}
		utteranceEnd := configutil.IntValue(settings.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("vendors.stt.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		interim := configutil.BoolValue(settings.Interim, true)
		vadEvents := configutil.BoolValue(settings.VADEvents, true)
		retries := configutil.IntValue(settings.ConnectRetries, 2)
		backoff := configutil.Millis(settings.ConnectBackoff, 500*time.Millisecond)
		return func(streamID string) stt.StreamingSTT {
			return deepgram.New(deepgram.Config{
				APIKey:         settings.APIKey,
				Model:          settings.Model,
				Language:       settings.Language,
				SampleRate:     format.SampleRate,
				Encoding:       format.Encoding,
				Interim:        interim,
				VADEvents:      vadEvents,
				UtteranceEndMS: utteranceEnd,
				StreamID:       streamID,
				ConnectRetries: retries,
				ConnectBackoff: backoff,
			})
		}, nil
	})

	reg.RegisterSTT("mock", func(vendor juru.VendorConfig, _ juru.AudioFormat) (func(string) stt.StreamingSTT, error) {
		if err := configutil.Decode("vendors.stt.settings", vendor.Settings, configutil.Schema{}, &struct{}{}); err != nil {
			return nil, err
		}
		return func(string) stt.StreamingSTT { return mock.NewSTT() }, nil
	})

	reg.RegisterLLM("openai", func(vendor juru.VendorConfig) (llm.LLMAdapter, error) {
		var settings openAISettings
		if err := configutil.Decode("vendors.llm.settings", vendor.Settings, configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: append([]string{"base_url"}, breakerKeys...),
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.Model, "vendors.llm.settings.model"); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		return withBreaker(adapter, settings.CircuitSettings), nil
	})

	reg.RegisterLLM("gemini", func(vendor juru.VendorConfig) (llm.LLMAdapter, error) {
		var settings geminiSettings
		if err := configutil.Decode("vendors.llm.settings", vendor.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: append([]string{"model", "base_url"}, breakerKeys...),
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		adapter := gemini.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		return withBreaker(adapter, settings.CircuitSettings), nil
	})

	reg.RegisterLLM("mock", func(vendor juru.VendorConfig) (llm.LLMAdapter, error) {
		var settings mockLLMSettings
		if err := configutil.Decode("vendors.llm.settings", vendor.Settings, configutil.Schema{
			Optional: []string{"response_text"},
		}, &settings); err != nil {
			return nil, err
		}
		if settings.ResponseText != "" {
			return mock.Reply(settings.ResponseText), nil
		}
		return mock.NewLLM(nil), nil
	})

	reg.RegisterTranscriber("openai", func(vendor juru.VendorConfig) (stt.FileTranscriber, error) {
		var settings transcriberSettings
		if err := configutil.Decode("vendors.transcriber.settings", vendor.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "base_url"},
		}, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.transcriber.settings.api_key"); err != nil {
			return nil, err
		}
		t := openai.NewTranscriber(settings.APIKey, settings.Model)
		t.Language = settings.Language
		if settings.BaseURL != "" {
			t.BaseURL = settings.BaseURL
		}
		return t, nil
	})

	reg.RegisterTranscriber("mock", func(vendor juru.VendorConfig) (stt.FileTranscriber, error) {
		var settings mockTranscriberSettings
		if err := configutil.Decode("vendors.transcriber.settings", vendor.Settings, configutil.Schema{
			Optional: []string{"text"},
		}, &settings); err != nil {
			return nil, err
		}
		return &mock.Transcriber{Text: settings.Text}, nil
	})
}

func withBreaker(adapter llm.LLMAdapter, settings CircuitSettings) llm.LLMAdapter {
	if !configutil.BoolValue(settings.UseCircuitBreaker, true) {
		return adapter
	}
	threshold := settings.CircuitThreshold
	if threshold == 0 {
		threshold = 3
	}
	cooldown := configutil.Millis(settings.CircuitCooldownMs, 30*time.Second)
	breaker := resilience.NewCircuitBreaker(threshold, cooldown)
	return llm.NewCircuitBreakerAdapter(adapter, breaker)
}
