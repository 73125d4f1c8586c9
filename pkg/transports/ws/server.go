// Package ws serves the caption feed and the session control API. Browser
// clients connect a websocket per session: they receive status updates,
// may send relayed recognition events and commands as JSON text messages,
// and may stream 16-bit PCM audio as binary messages.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/providers/relay"
	"github.com/harunnryd/juru/pkg/store/sqlite"
	"github.com/harunnryd/juru/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	CaptionPath    string   `mapstructure:"caption_path"`
	APIPrefix      string   `mapstructure:"api_prefix"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// SampleRate of binary PCM audio sent by clients.
	SampleRate     int           `mapstructure:"sample_rate"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.CaptionPath == "" {
		c.CaptionPath = "/ws"
	}
	if c.APIPrefix == "" {
		c.APIPrefix = "/api"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 64 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// SnapshotStore persists session snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, rec sqlite.Record) (sqlite.Record, error)
	Get(ctx context.Context, id string) (sqlite.Record, error)
	List(ctx context.Context, limit int) ([]sqlite.Summary, error)
}

type Server struct {
	cfg      Config
	registry *pipeline.SessionRegistry
	store    SnapshotStore
	upgrader websocket.Upgrader
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	draining atomic.Bool
	conns    sync.WaitGroup
}

// New builds the caption server. store may be nil, which disables the
// save and open endpoints.
func New(cfg Config, registry *pipeline.SessionRegistry, store SnapshotStore, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		registry: registry,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "ws_transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     transports.OriginChecker(cfg.AllowAnyOrigin, cfg.AllowedOrigins),
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Server) Name() string { return "ws" }

func (s *Server) ReadyFields() map[string]any {
	addr := s.cfg.ServerAddr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return map[string]any{
		"caption_url": "ws://" + addr + s.cfg.CaptionPath,
		"api_url":     "http://" + addr + s.cfg.APIPrefix,
	}
}

// Handler returns the HTTP handler serving the caption feed, the control
// API and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.CaptionPath, s)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	s.routes(mux)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	ln, err := net.Listen("tcp", s.cfg.ServerAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-s.ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ws_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.draining.Store(true)
	s.cancel()
	if s.server != nil {
		_ = s.server.Close()
	}
	s.conns.Wait()
	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// inbound is a client text message: a relayed recognition event or a
// command.
type inbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type outbound struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Status    *pipeline.Status `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// ServeHTTP upgrades a caption feed connection. The "session" query
// parameter selects the session; a new one is created when it is absent.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	key := r.URL.Query().Get("session")
	if key == "" {
		key = uuid.NewString()
	}
	sess, created, err := s.registry.GetOrCreate(s.ctx, key, pipeline.OriginBrowser)
	if err != nil {
		s.logger.Warn("ws_session_failed", slog.String("session", key), slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	defer conn.Close()

	logger := s.logger.With(slog.String("stream_id", sess.ID))
	logger.Info("ws_client_connected", slog.Bool("created", created), slog.String("remote", r.RemoteAddr))

	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	out := make(chan outbound, 16)
	writerDone := make(chan struct{})
	go s.writeLoop(conn, updates, out, writerDone)
	out <- outbound{Type: "hello", SessionID: sess.ID}

	ctx := s.ctx
	var pts int64
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch kind {
		case websocket.BinaryMessage:
			pts++
			frame := frames.NewAudioFrame(sess.ID, pts, msg, s.cfg.SampleRate, 1, map[string]string{
				frames.MetaEncoding: "linear16",
				frames.MetaSource:   "ws",
			})
			if err := sess.SendAudio(frame); err != nil && !errors.Is(err, stt.ErrAudioUnsupported) {
				logger.Warn("ws_audio_failed",
					slog.String("reason", string(errorsx.ReasonTransportSend)),
					slog.String("error", err.Error()))
			}
		case websocket.TextMessage:
			var in inbound
			if err := json.Unmarshal(msg, &in); err != nil {
				sendNonBlocking(out, outbound{Type: "error", Message: "invalid message"})
				continue
			}
			if err := s.handleInbound(ctx, sess, in); err != nil {
				sendNonBlocking(out, outbound{Type: "error", Message: err.Error()})
			}
		}
	}
	close(out)
	<-writerDone
	logger.Info("ws_client_disconnected")
}

func (s *Server) handleInbound(ctx context.Context, sess *pipeline.Session, in inbound) error {
	switch in.Type {
	case relay.EventFinal, relay.EventInterim, relay.EventError, relay.EventEnd:
		_, err := sess.PushRelay(relay.Event{Type: in.Type, Text: in.Text, Code: in.Code, Message: in.Message})
		return err
	case "start":
		return sess.Start(ctx)
	case "pause":
		return sess.Pause(ctx)
	case "resume":
		return sess.Resume(ctx)
	case "stop":
		return sess.Stop(ctx)
	case "clear":
		return sess.Clear(ctx)
	case "context":
		sess.SetContext(in.Text)
		return nil
	case "optimize":
		go func() {
			if err := sess.Optimize(ctx); err != nil {
				s.logger.Warn("ws_optimize_failed", slog.String("stream_id", sess.ID), slog.String("error", err.Error()))
			}
		}()
		return nil
	default:
		return errors.New("unknown message type " + in.Type)
	}
}

// writeLoop is the only writer on conn.
func (s *Server) writeLoop(conn *websocket.Conn, updates <-chan pipeline.Status, out <-chan outbound, done chan<- struct{}) {
	defer close(done)
	write := func(msg outbound) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		return conn.WriteJSON(msg) == nil
	}
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return
			}
			if !write(msg) {
				return
			}
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(time.Second))
				updates = nil
				continue
			}
			if !write(outbound{Type: "status", Status: &st}) {
				return
			}
		}
	}
}

func sendNonBlocking(ch chan<- outbound, msg outbound) {
	select {
	case ch <- msg:
	default:
	}
}
