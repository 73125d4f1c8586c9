package juru

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/observers"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/providers/mock"
	"github.com/harunnryd/juru/pkg/transports"
	mocktransport "github.com/harunnryd/juru/pkg/transports/mock"
)

type testProviders struct {
	registry    *ProviderRegistry
	stt         *mock.STTFactory
	formats     []AudioFormat
	transcriber *mock.Transcriber
}

func newTestProviders() *testProviders {
	p := &testProviders{
		registry:    NewProviderRegistry(),
		stt:         &mock.STTFactory{},
		transcriber: &mock.Transcriber{Text: "spoken words"},
	}
	p.registry.RegisterSTT("mock", func(_ VendorConfig, format AudioFormat) (func(string) stt.StreamingSTT, error) {
		p.formats = append(p.formats, format)
		return func(string) stt.StreamingSTT { return p.stt.New() }, nil
	})
	p.registry.RegisterLLM("mock", func(VendorConfig) (llm.LLMAdapter, error) {
		return mock.NewLLM(nil), nil
	})
	p.registry.RegisterTranscriber("mock", func(VendorConfig) (stt.FileTranscriber, error) {
		return p.transcriber, nil
	})
	return p
}

func testConfig(t *testing.T, extra string) Config {
	t.Helper()
	cfg, err := LoadConfig(writeConfig(t, "juru.yaml", minimalYAML+extra))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, p *testProviders) *Engine {
	t.Helper()
	cfg.ShutdownMS = 1000
	e, err := NewEngine(EngineOptions{
		Config:       cfg,
		Providers:    p.registry,
		Logger:       logging.NewLogger(io.Discard, "error", "text"),
		NoTransports: true,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestNewEngineUnknownProvider(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Vendors.Translate.Provider = "nope"
	_, err := NewEngine(EngineOptions{
		Config:       cfg,
		Providers:    newTestProviders().registry,
		Logger:       logging.NewLogger(io.Discard, "error", "text"),
		NoTransports: true,
	})
	if err == nil || !strings.Contains(err.Error(), "vendors.translate") {
		t.Fatalf("expected vendors.translate error, got %v", err)
	}
}

func TestEngineRelaySessionsAndReload(t *testing.T) {
	p := newTestProviders()
	e := newTestEngine(t, testConfig(t, `
session:
  context: first
`), p)
	defer e.Stop()

	sess, err := e.Session("room", pipeline.OriginBrowser)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sess.Context() != "first" {
		t.Fatalf("expected configured context, got %q", sess.Context())
	}
	if p.stt.Count() != 0 || len(p.formats) != 0 {
		t.Fatalf("relay mode must not build a streaming recognizer")
	}
	if _, err := e.Session("call", pipeline.OriginPhone); err == nil {
		t.Fatalf("expected phone sessions to need a streaming recognizer")
	}

	cfg := e.cfg
	cfg.Session.Context = "second"
	e.reload(cfg)
	if sess.Context() != "second" {
		t.Fatalf("expected reloaded context, got %q", sess.Context())
	}
	other, err := e.Session("late", pipeline.OriginCLI)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if other.Context() != "second" {
		t.Fatalf("expected new sessions to use the reloaded context, got %q", other.Context())
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if e.Registry().Count() != 0 {
		t.Fatalf("expected sessions closed on stop")
	}
}

func TestEngineServerRecognition(t *testing.T) {
	p := newTestProviders()
	cfg := testConfig(t, `
session:
  browser_recognition: server
`)
	cfg.Vendors.STT.Provider = "mock"
	e := newTestEngine(t, cfg, p)
	defer e.Stop()

	if len(p.formats) != 1 || p.formats[0] != BrowserAudio {
		t.Fatalf("expected one browser recognizer, got %v", p.formats)
	}
	sess, err := e.Session("mic", pipeline.OriginBrowser)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.stt.Count() != 1 || !p.stt.Latest().Started() {
		t.Fatalf("expected the streaming recognizer to start")
	}
}

func TestEngineWritesUsageArtifacts(t *testing.T) {
	dir := t.TempDir()
	p := newTestProviders()
	cfg := testConfig(t, "")
	cfg.Vendors.Transcriber.Provider = "mock"
	cfg.Observability.ArtifactsDir = dir
	e := newTestEngine(t, cfg, p)

	sess, err := e.Session("upload", pipeline.OriginCLI)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := sess.TranscribeFile(context.Background(), "clip.pcm", make([]byte, 32000)); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if sum, ok := e.usageObs.Summary("upload"); ok && sum.TranscribedSeconds > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage never recorded the upload")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var sum observers.UsageSummary
	deadline = time.Now().Add(2 * time.Second)
	for {
		b, err := os.ReadFile(filepath.Join(dir, "upload.usage.json"))
		if err == nil && json.Unmarshal(b, &sum) == nil && sum.StreamID == "upload" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage file not written: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sum.TranscribedSeconds != 1 {
		t.Fatalf("expected one second of audio, got %v", sum.TranscribedSeconds)
	}
}

func TestEngineTransportLifecycle(t *testing.T) {
	e := newTestEngine(t, testConfig(t, ""), newTestProviders())
	first, second := mocktransport.New(), mocktransport.New()
	e.transports = []transports.Transport{first, second}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.Started() != 1 || second.Started() != 1 {
		t.Fatalf("expected both transports started")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	_ = e.Stop()
	if first.Stopped() != 1 || second.Stopped() != 1 {
		t.Fatalf("expected one stop per transport, got %d and %d", first.Stopped(), second.Stopped())
	}
}

func TestEngineStartRollsBackTransports(t *testing.T) {
	e := newTestEngine(t, testConfig(t, ""), newTestProviders())
	defer e.Stop()
	ok := mocktransport.New()
	failing := mocktransport.New()
	failing.StartErr = errors.New("port in use")
	e.transports = []transports.Transport{ok, failing}

	err := e.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "port in use") {
		t.Fatalf("expected start error, got %v", err)
	}
	select {
	case <-ok.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected the started transport to be stopped")
	}
}
