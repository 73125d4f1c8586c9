package juru

import (
	"fmt"
	"strings"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/llm"
)

// AudioFormat is the audio a transport feeds into a streaming recognizer.
type AudioFormat struct {
	Encoding   string
	SampleRate int
}

var (
	// BrowserAudio is raw PCM from the caption websocket.
	BrowserAudio = AudioFormat{Encoding: "linear16", SampleRate: 16000}
	// PhoneAudio is the mu-law stream of a phone call.
	PhoneAudio = AudioFormat{Encoding: "mulaw", SampleRate: 8000}
)

type STTFactoryBuilder func(vendor VendorConfig, format AudioFormat) (func(streamID string) stt.StreamingSTT, error)
type LLMFactory func(vendor VendorConfig) (llm.LLMAdapter, error)
type TranscriberFactory func(vendor VendorConfig) (stt.FileTranscriber, error)

// ProviderRegistry maps vendor names from the config to constructors.
type ProviderRegistry struct {
	stt         map[string]STTFactoryBuilder
	llm         map[string]LLMFactory
	transcriber map[string]TranscriberFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:         make(map[string]STTFactoryBuilder),
		llm:         make(map[string]LLMFactory),
		transcriber: make(map[string]TranscriberFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactoryBuilder) {
	r.stt[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcriber[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildSTTFactory(vendor VendorConfig, format AudioFormat) (func(streamID string) stt.StreamingSTT, error) {
	fn := r.stt[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", vendor.Provider)
	}
	return fn(vendor, format)
}

func (r *ProviderRegistry) BuildLLM(vendor VendorConfig) (llm.LLMAdapter, error) {
	fn := r.llm[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", vendor.Provider)
	}
	return fn(vendor)
}

// BuildTranscriber returns nil without error when no transcriber is
// configured.
func (r *ProviderRegistry) BuildTranscriber(vendor VendorConfig) (stt.FileTranscriber, error) {
	if strings.TrimSpace(vendor.Provider) == "" {
		return nil, nil
	}
	fn := r.transcriber[providerKey(vendor.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcriber provider not registered: %s", vendor.Provider)
	}
	return fn(vendor)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
