// Package twilio captions phone calls. The voice webhook answers with TwiML
// that connects the call's media stream to this transport; every call gets
// its own session keyed by call SID and fed with 8 kHz mu-law audio.
package twilio

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/redact"
	"github.com/harunnryd/juru/pkg/store/sqlite"
	"github.com/harunnryd/juru/pkg/transports"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	VoiceGreeting      string   `mapstructure:"voice_greeting"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	// SaveOnHangup stores the call transcript when the call ends.
	SaveOnHangup bool `mapstructure:"save_on_hangup"`
}

func (c Config) withDefaults() Config {
	defaults := []struct {
		field *string
		value string
	}{
		{&c.ServerAddr, ":8081"},
		{&c.VoicePath, "/voice"},
		{&c.WebsocketPath, "/media"},
		{&c.StatusCallbackPath, "/status"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
	// Twilio's media stream client sends no Origin header, so an empty
	// allow list means any origin.
	if len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Saver persists finished call transcripts.
type Saver interface {
	Save(ctx context.Context, rec sqlite.Record) (sqlite.Record, error)
}

// callInfo is what the transport remembers about a live call.
type callInfo struct {
	streamSID string
	caller    string
}

type Transport struct {
	cfg      Config
	registry *pipeline.SessionRegistry
	store    Saver
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx      context.Context
	cancel   context.CancelFunc
	server   *http.Server
	listener net.Listener
	draining atomic.Bool

	mu    sync.Mutex
	calls map[string]callInfo
}

// New builds the phone transport. store may be nil.
func New(cfg Config, registry *pipeline.SessionRegistry, store Saver, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:      cfg,
		registry: registry,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "twilio_transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     transports.OriginChecker(cfg.AllowAnyOrigin, cfg.AllowedOrigins),
		},
		calls: make(map[string]callInfo),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicURL("https", t.cfg.VoicePath),
		"status_callback_url": t.publicURL("https", t.cfg.StatusCallbackPath),
	}
}

// Handler serves the voice webhook, the media stream and the status
// callback.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.HandleFunc(t.cfg.WebsocketPath, t.handleMediaStream)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if t.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.ServerAddr)
	if err != nil {
		return err
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.listener = ln
	t.server = &http.Server{Handler: t.Handler(), ReadHeaderTimeout: 5 * time.Second}
	context.AfterFunc(t.ctx, func() { _ = t.server.Close() })
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop refuses new calls, ends the live ones and closes the listener.
func (t *Transport) Stop() error {
	t.draining.Store(true)
	t.mu.Lock()
	live := make([]string, 0, len(t.calls))
	for sid := range t.calls {
		live = append(live, sid)
	}
	t.mu.Unlock()
	for _, sid := range live {
		t.endCall(sid, "shutdown")
	}
	t.cancel()
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

func (t *Transport) startCall(callSID, streamSID, caller string) *pipeline.Session {
	logger := t.logger.With(slog.String("call_sid", callSID))
	sess, created, err := t.registry.GetOrCreate(t.ctx, callSID, pipeline.OriginPhone)
	if err != nil {
		logger.Warn("call_session_failed", slog.String("error", err.Error()))
		return nil
	}
	t.mu.Lock()
	t.calls[callSID] = callInfo{streamSID: streamSID, caller: caller}
	t.mu.Unlock()
	if err := sess.Start(t.ctx); err != nil {
		logger.Warn("call_recording_failed", slog.String("error", err.Error()))
	}
	logger.Info("call_started",
		slog.String("stream_sid", streamSID),
		slog.String("from", redact.Text(caller)),
		slog.Bool("reconnect", !created))
	return sess
}

// endCall stops recording, saves the transcript when configured and
// releases the session. Unknown or already ended calls are ignored.
func (t *Transport) endCall(callSID, reason string) {
	if callSID == "" {
		return
	}
	t.mu.Lock()
	info := t.calls[callSID]
	delete(t.calls, callSID)
	t.mu.Unlock()
	sess, ok := t.registry.Get(callSID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = sess.Stop(ctx)
	if t.store != nil && t.cfg.SaveOnHangup {
		if err := t.save(ctx, sess, callTitle(info.caller)); err != nil {
			t.logger.Warn("call_save_failed", slog.String("call_sid", callSID), slog.String("error", err.Error()))
		}
	}
	t.registry.Remove(callSID)
	t.logger.Info("call_ended", slog.String("call_sid", callSID), slog.String("reason", reason))
}

func (t *Transport) save(ctx context.Context, sess *pipeline.Session, title string) error {
	rec, err := sqlite.RecordOf(ctx, sess, title)
	if err != nil || rec.Snapshot.Source == "" {
		return err
	}
	_, err = t.store.Save(ctx, rec)
	return err
}

func callTitle(caller string) string {
	if caller == "" {
		return "Phone call"
	}
	return "Call from " + caller
}
