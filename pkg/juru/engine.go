// Package juru wires configuration, providers, observers, the session
// registry and the network transports into one runnable engine.
package juru

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/configutil"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/observers"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/providers/relay"
	"github.com/harunnryd/juru/pkg/redact"
	"github.com/harunnryd/juru/pkg/runner"
	"github.com/harunnryd/juru/pkg/store/sqlite"
	"github.com/harunnryd/juru/pkg/transports"
	"github.com/harunnryd/juru/pkg/transports/twilio"
	"github.com/harunnryd/juru/pkg/transports/ws"
)

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// ConfigPath enables hot reload of session.context when set.
	ConfigPath string
	// Logger defaults to a logger built from the log settings on stdout.
	Logger *slog.Logger
	// NoTransports skips the network surfaces, for one-shot commands.
	NoTransports bool
	// BannerOutput receives the startup banner. nil disables it.
	BannerOutput io.Writer
}

type Engine struct {
	cfg        Config
	logger     *slog.Logger
	registry   *pipeline.SessionRegistry
	transports []transports.Transport
	runner     *pipeline.Runner
	store      *sqlite.Store
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
	stopErr    error

	asyncObs    *metrics.AsyncObserver
	latencyObs  *observers.LatencyObserver
	timelineObs *observers.TimelineObserver
	usageObs    *observers.UsageObserver
	metricsFile *os.File

	instructions *llm.Instructions
	refine       llm.LLMAdapter
	translate    llm.LLMAdapter
	batch        llm.LLMAdapter
	transcriber  stt.FileTranscriber
	browserSTT   func(streamID string) stt.StreamingSTT
	phoneSTT     func(streamID string) stt.StreamingSTT

	ctxMu       sync.RWMutex
	contextText string
}

// NewEngine builds every component named by the config. Nothing listens
// until Start.
func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	}
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
	}

	logger.Info("juru_init",
		slog.String("environment", cfg.Environment),
		slog.String("stt_provider", cfg.Vendors.STT.Provider),
		slog.String("refine_provider", cfg.Vendors.Refine.Provider),
		slog.String("translate_provider", cfg.Vendors.Translate.Provider),
		slog.String("browser_recognition", cfg.Session.BrowserRecognition),
		slog.String("source_language", cfg.Session.SourceLanguage),
		slog.String("target_language", cfg.Session.TargetLanguage),
	)

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		contextText: cfg.Session.Context,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if err := e.buildObservers(); err != nil {
		return nil, err
	}
	if err := e.buildProviders(providers); err != nil {
		e.closeObservers()
		return nil, err
	}
	if path := strings.TrimSpace(cfg.Store.Path); path != "" {
		store, err := sqlite.Open(path)
		if err != nil {
			e.closeObservers()
			return nil, fmt.Errorf("open store: %w", err)
		}
		e.store = store
	}

	e.registry = pipeline.NewSessionRegistry(e.newSession)

	if !opts.NoTransports {
		if err := e.buildTransports(); err != nil {
			e.closeResources()
			return nil, err
		}
	}

	if opts.ConfigPath != "" {
		err := WatchConfig(opts.ConfigPath, e.reload, func(err error) {
			logger.Warn("config_reload_failed", slog.String("error", err.Error()))
		})
		if err != nil {
			logger.Warn("config_watch_failed", slog.String("error", err.Error()))
		}
	}

	hooks := runner.Hooks{
		OnStart: func() {
			attrs := []any{slog.Int("transports", len(e.transports))}
			for _, t := range e.transports {
				if rr, ok := t.(transports.ReadyReporter); ok {
					for k, v := range rr.ReadyFields() {
						attrs = append(attrs, slog.Any(t.Name()+"_"+k, v))
					}
				}
			}
			logger.Info("engine_ready", attrs...)
		},
		OnStop: func() {
			logger.Info("engine_stopped", slog.Int64("dropped_events", e.asyncObs.Dropped()))
		},
	}
	e.runner = pipeline.NewRunner(e.registry, hooks, time.Duration(cfg.ShutdownMS)*time.Millisecond)
	e.runner.SetBannerOutput(opts.BannerOutput)
	return e, nil
}

func (e *Engine) buildObservers() error {
	cfg := e.cfg.Observability
	e.latencyObs = observers.NewLatencyObserver(e.logger)
	list := []metrics.Observer{e.latencyObs, observers.NewLoggerObserver(e.logger)}
	if dir := strings.TrimSpace(cfg.ArtifactsDir); dir != "" {
		if cfg.RetentionDays > 0 {
			removed, err := observers.PurgeArtifacts(dir, time.Duration(cfg.RetentionDays)*24*time.Hour)
			if err != nil {
				e.logger.Warn("artifacts_purge_failed", slog.String("error", err.Error()))
			} else if removed > 0 {
				e.logger.Info("artifacts_purged", slog.Int("removed", removed))
			}
		}
		e.timelineObs = observers.NewTimelineObserver(dir)
		e.usageObs = observers.NewUsageObserver(dir)
		list = append(list, e.timelineObs, e.usageObs)
	}
	if path := strings.TrimSpace(cfg.MetricsFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics file: %w", err)
		}
		e.metricsFile = f
		var sink metrics.Observer = metrics.NewJSONLObserver(f)
		if cfg.SampleRate < 1 {
			sink = metrics.NewSamplingObserver(sink, cfg.SampleRate)
		}
		list = append(list, sink)
	}
	e.asyncObs = metrics.NewAsyncObserver(observers.NewMultiObserver(list...), 2048)
	return nil
}

func (e *Engine) buildProviders(providers *ProviderRegistry) error {
	cfg := e.cfg
	instr, err := llm.NewInstructions(cfg.Instructions.Refine, cfg.Instructions.Translate, cfg.Instructions.Batch)
	if err != nil {
		return fmt.Errorf("instructions: %w", err)
	}
	e.instructions = instr

	if e.refine, err = e.buildLLM(providers, "refine", cfg.Vendors.Refine); err != nil {
		return err
	}
	if e.translate, err = e.buildLLM(providers, "translate", cfg.Vendors.Translate); err != nil {
		return err
	}
	e.batch = e.translate
	if strings.TrimSpace(cfg.Vendors.Batch.Provider) != "" {
		if e.batch, err = e.buildLLM(providers, "batch", cfg.Vendors.Batch); err != nil {
			return err
		}
	}
	if e.transcriber, err = providers.BuildTranscriber(cfg.Vendors.Transcriber); err != nil {
		return fmt.Errorf("vendors.transcriber: %w", err)
	}

	streaming := cfg.Vendors.STT.Provider != "" && providerKey(cfg.Vendors.STT.Provider) != "relay"
	if streaming && cfg.Session.BrowserRecognition == "server" {
		if e.browserSTT, err = providers.BuildSTTFactory(cfg.Vendors.STT, BrowserAudio); err != nil {
			return fmt.Errorf("vendors.stt: %w", err)
		}
	}
	if streaming && cfg.Transports.Twilio.Enabled {
		if e.phoneSTT, err = providers.BuildSTTFactory(cfg.Vendors.STT, PhoneAudio); err != nil {
			return fmt.Errorf("vendors.stt: %w", err)
		}
	}
	return nil
}

func (e *Engine) buildLLM(providers *ProviderRegistry, role string, vendor VendorConfig) (llm.LLMAdapter, error) {
	adapter, err := providers.BuildLLM(vendor)
	if err != nil {
		return nil, fmt.Errorf("vendors.%s: %w", role, err)
	}
	if cb, ok := adapter.(*llm.CircuitBreakerAdapter); ok {
		cb.SetObserver(e.asyncObs)
	}
	return adapter, nil
}

func (e *Engine) buildTransports() error {
	var wsCfg ws.Config
	if err := configutil.Decode("transports.ws", e.cfg.Transports.WS, configutil.Schema{
		Optional: []string{"server_addr", "caption_path", "api_prefix", "allow_any_origin", "allowed_origins", "sample_rate", "max_upload_bytes", "write_timeout"},
	}, &wsCfg); err != nil {
		return err
	}
	var store ws.SnapshotStore
	if e.store != nil {
		store = e.store
	}
	e.transports = append(e.transports, ws.New(wsCfg, e.registry, store, e.logger))

	if e.cfg.Transports.Twilio.Enabled {
		settings := e.cfg.Transports.Twilio.Settings
		var twCfg twilio.Config
		if err := configutil.Decode("transports.twilio.settings", settings, configutil.Schema{
			Required: []string{"auth_token"},
			Optional: []string{"public_url", "server_addr", "voice_path", "ws_path", "status_callback_path", "voice_greeting", "allow_any_origin", "allowed_origins", "save_on_hangup"},
		}, &twCfg); err != nil {
			return err
		}
		if err := configutil.RequireString(twCfg.AuthToken, "transports.twilio.settings.auth_token"); err != nil {
			return err
		}
		var saver twilio.Saver
		if e.store != nil {
			saver = e.store
		}
		e.transports = append(e.transports, twilio.New(twCfg, e.registry, saver, e.logger))
	}
	return nil
}

// newSession is the registry factory. The origin picks the recognizer:
// phone calls stream to the server-side vendor, browsers either relay
// their own recognition or stream audio, CLI sessions only take uploads.
func (e *Engine) newSession(ctx context.Context, key string, origin pipeline.Origin) (*pipeline.Session, error) {
	deps := pipeline.Deps{
		Refine:       e.refine,
		Translate:    e.translate,
		Batch:        e.batch,
		Transcriber:  e.transcriber,
		Instructions: e.instructions,
		Observer:     e.asyncObs,
		Logger:       e.logger,
	}
	switch origin {
	case pipeline.OriginPhone:
		if e.phoneSTT == nil {
			return nil, fmt.Errorf("no streaming recognizer configured for phone sessions")
		}
		build := e.phoneSTT
		deps.STT = func() stt.StreamingSTT { return build(key) }
	case pipeline.OriginBrowser:
		if e.browserSTT != nil {
			build := e.browserSTT
			deps.STT = func() stt.StreamingSTT { return build(key) }
		} else {
			deps.Relay = relay.NewHub(key)
		}
	default:
		deps.Relay = relay.NewHub(key)
	}

	pcfg := e.cfg.PipelineConfig(key)
	pcfg.Context = e.sessionContext()
	sess, err := pipeline.NewSession(ctx, pcfg, deps)
	if err != nil {
		return nil, err
	}
	go e.watchSession(sess)
	return sess, nil
}

// watchSession flushes per-session artifacts once the session ends.
func (e *Engine) watchSession(sess *pipeline.Session) {
	<-sess.Done()
	e.latencyObs.Forget(sess.ID)
	if e.usageObs != nil {
		if err := e.usageObs.Flush(sess.ID); err != nil {
			e.logger.Warn("usage_flush_failed", slog.String("stream_id", sess.ID), slog.String("error", err.Error()))
		}
	}
	if e.timelineObs != nil {
		_ = e.timelineObs.Release(sess.ID)
	}
}

func (e *Engine) sessionContext() string {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()
	return e.contextText
}

// reload applies a changed config file. Only session.context is live;
// other changes need a restart.
func (e *Engine) reload(cfg Config) {
	e.ctxMu.Lock()
	changed := e.contextText != cfg.Session.Context
	e.contextText = cfg.Session.Context
	e.ctxMu.Unlock()
	if !changed {
		return
	}
	n := 0
	e.registry.Each(func(_ string, sess *pipeline.Session) {
		sess.SetContext(cfg.Session.Context)
		n++
	})
	e.logger.Info("config_reloaded",
		slog.Int("sessions", n),
		slog.String("context", redact.Preview(cfg.Session.Context, 80)))
}

func (e *Engine) Registry() *pipeline.SessionRegistry { return e.registry }

// Store returns the snapshot store, or nil when saving is disabled.
func (e *Engine) Store() *sqlite.Store { return e.store }

// Session returns the session for id, creating it when needed.
func (e *Engine) Session(id string, origin pipeline.Origin) (*pipeline.Session, error) {
	sess, _, err := e.registry.GetOrCreate(e.ctx, id, origin)
	return sess, err
}

// Start starts every transport and the lifecycle runner.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for i, t := range e.transports {
		if err := t.Start(ctx); err != nil {
			for _, started := range e.transports[:i] {
				_ = started.Stop()
			}
			return fmt.Errorf("start %s transport: %w", t.Name(), err)
		}
	}
	go func() {
		_ = e.runner.Run(e.ctx)
	}()
	return nil
}

// Stop stops the transports, drains live sessions and closes the store
// and observers. It is safe to call more than once.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		for _, t := range e.transports {
			if err := t.Stop(); err != nil {
				e.logger.Warn("transport_stop_failed", slog.String("transport", t.Name()), slog.String("error", err.Error()))
			}
		}
		e.cancel()
		e.stopErr = e.runner.Stop()
		e.closeResources()
	})
	return e.stopErr
}

func (e *Engine) closeResources() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("store_close_failed", slog.String("error", err.Error()))
		}
	}
	e.closeObservers()
}

func (e *Engine) closeObservers() {
	var err error
	if e.asyncObs != nil {
		err = e.asyncObs.Close()
	}
	if e.timelineObs != nil {
		err = errors.Join(err, e.timelineObs.Close())
	}
	if e.usageObs != nil {
		err = errors.Join(err, e.usageObs.Close())
	}
	if e.metricsFile != nil {
		err = errors.Join(err, e.metricsFile.Close())
	}
	if err != nil {
		e.logger.Warn("observers_close_failed", slog.String("error", err.Error()))
	}
}
