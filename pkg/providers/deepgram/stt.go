// Package deepgram is the server-side streaming recognizer used for phone
// calls and for browsers in server recognition mode.
package deepgram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/resilience"
)

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	VADEvents      bool
	UtteranceEndMS int
	StreamID       string
	TraceID        string
	ConnectRetries int
	ConnectBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	return c
}

// liveOptions are the query options of the live transcription socket.
// Smart formatting is always on: captions need punctuation and casing.
func (c Config) liveOptions() *interfaces.LiveTranscriptionOptions {
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          c.Model,
		Language:       c.Language,
		Encoding:       c.Encoding,
		SampleRate:     c.SampleRate,
		Channels:       1,
		InterimResults: c.Interim,
		VadEvents:      c.VADEvents,
		SmartFormat:    true,
		Punctuate:      true,
	}
	// Deepgram rejects utterance_end_ms without interim results.
	if c.UtteranceEndMS > 0 && c.Interim {
		opts.UtteranceEndMs = strconv.Itoa(c.UtteranceEndMS)
	}
	return opts
}

// StreamingSTT pipes raw audio into a Deepgram live socket and turns its
// callbacks into text and control frames.
type StreamingSTT struct {
	cfg    Config
	logger *slog.Logger
	retry  resilience.RetryPolicy

	ctx     context.Context
	cancel  context.CancelFunc
	conn    *client.WSCallback
	audio   *io.PipeWriter
	started time.Time
	sent    atomic.Int64

	mu     sync.Mutex
	out    chan frames.Frame
	closed bool
}

func New(cfg Config) *StreamingSTT {
	cfg = cfg.withDefaults()
	return &StreamingSTT{
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt").With(slog.String("stream_id", cfg.StreamID)),
		retry:  resilience.NewRetryPolicy(cfg.ConnectRetries, cfg.ConnectBackoff),
	}
}

func (s *StreamingSTT) Name() string { return "deepgram" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	reader, writer := io.Pipe()
	s.audio = writer
	s.started = time.Now()

	s.logger.Info("deepgram_connecting",
		slog.String("model", s.cfg.Model),
		slog.String("language", s.cfg.Language),
		slog.String("encoding", s.cfg.Encoding),
		slog.Int("sample_rate", s.cfg.SampleRate))

	opts := s.cfg.liveOptions()
	h := &handler{stt: s}
	err := s.retry.Do(s.ctx, func(ctx context.Context) error {
		conn, err := client.NewWSUsingCallback(ctx, s.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, opts, h)
		if err != nil {
			return err
		}
		if !conn.Connect() {
			return errors.New("deepgram: connect failed")
		}
		s.conn = conn
		return nil
	})
	if err != nil {
		s.logger.Error("deepgram_connect_failed", slog.String("error", err.Error()))
		_ = reader.Close()
		return err
	}

	go func() {
		if err := s.conn.Stream(reader); err != nil && s.ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.emit(frames.NewErrorFrame(s.cfg.StreamID, time.Now().UnixNano(), "network", err.Error()))
		}
	}()
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	if s.audio == nil {
		return errors.New("deepgram: not started")
	}
	n, err := s.audio.Write(frame.RawPayload())
	s.sent.Add(int64(n))
	if err != nil {
		s.logger.Warn("deepgram_send_audio_failed", slog.String("error", err.Error()))
	}
	return err
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	s.logger.Info("deepgram_closing", slog.Int64("audio_bytes", s.sent.Load()))
	if s.cancel != nil {
		s.cancel()
	}
	if s.audio != nil {
		_ = s.audio.Close()
	}
	if s.conn != nil {
		s.conn.Stop()
	}
	return nil
}

// emit drops frames once closed or when the consumer lags behind.
func (s *StreamingSTT) emit(f frames.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- f:
	default:
		s.logger.Warn("deepgram_out_channel_full")
	}
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
