// Package pipeline assembles a captioning session: the recognizer, the
// source and translation buffers and the ingest, velocity, refinement and
// translation stages, all driven from one scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/audio"
	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/processors"
	"github.com/harunnryd/juru/pkg/providers/relay"
	"github.com/harunnryd/juru/pkg/recognition"
	"github.com/harunnryd/juru/pkg/redact"
	"github.com/harunnryd/juru/pkg/scheduler"
	"github.com/harunnryd/juru/pkg/transcript"
)

var (
	ErrClosed        = errors.New("pipeline: session closed")
	ErrNoTranscriber = errors.New("pipeline: no file transcriber configured")
	ErrNoRelay       = errors.New("pipeline: session has no relay recognizer")
)

type Config struct {
	// ID is generated when empty.
	ID               string
	Title            string
	Ingest           processors.IngestConfig
	Refine           processors.RefinerConfig
	Translate        processors.TranslatorConfig
	Recognizer       recognition.Config
	VelocityInterval time.Duration
	SourceLanguage   string
	TargetLanguage   string
	Context          string
	// UploadSampleRate and UploadChannels describe raw PCM uploads.
	UploadSampleRate  int
	UploadChannels    int
	TranscribeTimeout time.Duration
}

type Deps struct {
	// Sched drives the session. When nil the session runs its own loop.
	Sched scheduler.Scheduler
	// STT creates recognizer backends. When nil and Relay is set, the relay
	// hub is used.
	STT          recognition.Factory
	Relay        *relay.Hub
	Refine       llm.LLMAdapter
	Translate    llm.LLMAdapter
	Batch        llm.LLMAdapter
	Transcriber  stt.FileTranscriber
	Instructions *llm.Instructions
	Observer     metrics.Observer
	Logger       *slog.Logger
}

// Session is one live captioning session. Its methods are safe for
// concurrent use; they hand work to the session scheduler and wait for it.
type Session struct {
	ID      string
	TraceID string
	Created time.Time

	cfg    Config
	deps   Deps
	sched  scheduler.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	logger *slog.Logger
	obs    metrics.Observer

	buffer      *transcript.Buffer
	translation *transcript.Translation
	recognizer  *recognition.Controller
	ingest      *processors.Ingest
	velocity    *processors.VelocityTracker
	refiner     *processors.Refiner
	translator  *processors.Translator

	ctxMu       sync.RWMutex
	contextText string

	// loop-owned
	recordedFor    time.Duration
	recordingSince time.Time
	uploadedFor    time.Duration
	publishPending bool

	subMu   sync.Mutex
	subs    map[uint64]chan Status
	nextSub uint64
}

// NewSession wires a session. ctx bounds every remote call the session
// makes; cancelling it has the same effect as Close.
func NewSession(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps.STT == nil && deps.Relay != nil {
		deps.STT = deps.Relay.New
	}
	if deps.STT == nil {
		return nil, fmt.Errorf("pipeline: recognizer factory is required")
	}
	if deps.Refine == nil || deps.Translate == nil {
		return nil, fmt.Errorf("pipeline: refine and translate adapters are required")
	}
	if deps.Instructions == nil {
		deps.Instructions = llm.DefaultInstructions()
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 5 * time.Minute
	}
	if cfg.UploadSampleRate <= 0 {
		cfg.UploadSampleRate = 16000
	}
	if cfg.UploadChannels <= 0 {
		cfg.UploadChannels = 1
	}
	cfg.Recognizer.StreamID = cfg.ID

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:          cfg.ID,
		TraceID:     uuid.NewString(),
		cfg:         cfg,
		deps:        deps,
		ctx:         sctx,
		cancel:      cancel,
		obs:         deps.Observer,
		logger:      logging.NewComponentLogger(deps.Logger, "session").With(slog.String("stream_id", cfg.ID)),
		buffer:      transcript.NewBuffer(),
		translation: transcript.NewTranslation(),
		contextText: cfg.Context,
		subs:        map[uint64]chan Status{},
	}
	s.sched = deps.Sched
	if s.sched == nil {
		loop := scheduler.NewLoop(s.logger)
		go func() { _ = loop.Run(sctx) }()
		s.sched = loop
	}
	s.Created = s.sched.Now()

	env := processors.Env{
		Sched:          s.sched,
		Buffer:         s.buffer,
		Translation:    s.translation,
		Instructions:   deps.Instructions,
		Context:        s.Context,
		SourceLanguage: cfg.SourceLanguage,
		TargetLanguage: cfg.TargetLanguage,
		Observer:       deps.Observer,
		Logger:         deps.Logger,
		StreamID:       cfg.ID,
	}
	s.velocity = processors.NewVelocityTracker(env, cfg.VelocityInterval)
	s.refiner = processors.NewRefiner(env, deps.Refine, s.velocity, cfg.Refine)
	s.translator = processors.NewTranslator(env, deps.Translate, deps.Batch, s.velocity, s.refiner.Watermark, cfg.Translate)
	s.refiner.SetContext(sctx)
	s.translator.SetContext(sctx)
	s.refiner.OnRefined(func(int) { s.translator.Trigger() })
	s.translator.OnBatch(s.refiner.AdvanceTo)

	s.ingest = processors.NewIngest(env, cfg.Ingest, func() bool {
		return s.recognizer.State() == recognition.StateRecording
	})
	s.recognizer = recognition.NewController(s.sched, deps.STT, recognition.Hooks{
		OnText:    s.ingest.HandleText,
		OnFailure: func(recognition.Failure) { s.markDirty() },
	}, cfg.Recognizer, deps.Observer, deps.Logger)
	s.recognizer.AddListener(recognition.StateListenerFunc(s.onRecognizerState))

	s.buffer.OnChange(s.refiner.OnChange)
	s.buffer.OnChange(s.translator.OnChange)
	s.buffer.OnChange(func(transcript.Change) { s.markDirty() })
	s.translation.OnChange(s.markDirty)

	s.logger.Info("session_created",
		slog.String("trace_id", s.TraceID),
		slog.String("recognizer", recognizerName(deps)),
		slog.String("refine", deps.Refine.Name()),
		slog.String("translate", deps.Translate.Name()),
		slog.String("source_language", cfg.SourceLanguage),
		slog.String("target_language", cfg.TargetLanguage))
	return s, nil
}

func recognizerName(deps Deps) string {
	if deps.Relay != nil {
		return "relay"
	}
	return "factory"
}

// Scheduler returns the scheduler driving the session.
func (s *Session) Scheduler() scheduler.Scheduler { return s.sched }

type doer interface {
	Do(ctx context.Context, fn func()) error
}

// exec runs fn on the session scheduler and waits for it. Schedulers that
// cannot hand work over, such as the manual test clock, run fn inline.
func (s *Session) exec(ctx context.Context, fn func() error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d, ok := s.sched.(doer)
	if !ok {
		return fn()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	var err error
	if derr := d.Do(ctx, func() { err = fn() }); derr != nil {
		if s.ctx.Err() != nil {
			return ErrClosed
		}
		return derr
	}
	return err
}

// Start begins recording.
func (s *Session) Start(ctx context.Context) error {
	return s.exec(ctx, func() error { return s.recognizer.Start(s.ctx) })
}

func (s *Session) Pause(ctx context.Context) error {
	return s.exec(ctx, s.recognizer.Pause)
}

func (s *Session) Resume(ctx context.Context) error {
	return s.exec(ctx, s.recognizer.Resume)
}

// Stop ends recording. Pending refinement and translation still complete.
func (s *Session) Stop(ctx context.Context) error {
	return s.exec(ctx, func() error {
		s.ingest.Stop()
		return s.recognizer.Stop()
	})
}

// State returns the recognizer state.
func (s *Session) State() recognition.State { return s.recognizer.State() }

// SendAudio forwards audio to server-side recognizers. Safe from any
// goroutine.
func (s *Session) SendAudio(frame frames.AudioFrame) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.recognizer.SendAudio(frame)
}

// PushRelay delivers a browser recognition event. It reports whether the
// event reached an active recognizer session.
func (s *Session) PushRelay(ev relay.Event) (bool, error) {
	if s.deps.Relay == nil {
		return false, ErrNoRelay
	}
	if s.closed.Load() {
		return false, ErrClosed
	}
	return s.deps.Relay.PushEvent(ev)
}

// Clear empties both buffers and resets every stage.
func (s *Session) Clear(ctx context.Context) error {
	return s.exec(ctx, func() error {
		s.buffer.Clear()
		s.translation.Clear()
		s.logger.Info("session_cleared")
		return nil
	})
}

// Edit replaces the source text with a user edit.
func (s *Session) Edit(ctx context.Context, source string) error {
	return s.exec(ctx, func() error {
		s.buffer.Edit(source)
		return nil
	})
}

// EditTranslation replaces the translated text with a user edit.
func (s *Session) EditTranslation(ctx context.Context, text string) error {
	return s.exec(ctx, func() error {
		s.translation.Set(text)
		return nil
	})
}

// Context returns the session context description.
func (s *Session) Context() string {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.contextText
}

// SetContext replaces the context description used by later requests.
func (s *Session) SetContext(text string) {
	s.ctxMu.Lock()
	changed := s.contextText != text
	s.contextText = text
	s.ctxMu.Unlock()
	if changed && !s.closed.Load() {
		s.logger.Info("session_context_updated", slog.String("context", redact.Preview(text, 80)))
		s.sched.Post(s.markDirty)
	}
}

// Optimize runs the batch translation over all untranslated text and waits
// for its outcome.
func (s *Session) Optimize(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	err := s.exec(ctx, func() error {
		s.translator.Optimize(func(err error) { done <- err })
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// TranscribeFile transcribes an uploaded recording and appends it to the
// source buffer as an "[audio: name]" block.
func (s *Session) TranscribeFile(ctx context.Context, name string, data []byte) error {
	if s.deps.Transcriber == nil {
		return ErrNoTranscriber
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	file, err := audio.PrepareUpload(name, data, s.cfg.UploadSampleRate, s.cfg.UploadChannels)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonAudioInvalid)
	}
	var length time.Duration
	if file.MIME == audio.MIMEWAV {
		length, _ = audio.WAVDuration(file.Data)
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TranscribeTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	start := time.Now()
	text, err := s.deps.Transcriber.Transcribe(tctx, file)
	if err != nil {
		s.logger.Warn("transcribe_failed",
			slog.String("file", name),
			slog.String("reason", string(errorsx.Classify(err))),
			slog.String("error", err.Error()))
		return fmt.Errorf("transcribe %s: %w", name, err)
	}
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventTranscribeDone,
		Time:  time.Now(),
		Value: float64(len(text)),
		Tags:  map[string]string{"stream_id": s.ID, "vendor": s.deps.Transcriber.Name()},
		Fields: map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"audio_ms":    length.Milliseconds(),
		},
	})
	s.logger.Info("transcribe_done",
		slog.String("file", name),
		slog.String("mime", file.MIME),
		slog.Int("chars", len(text)),
		slog.String("text", redact.Preview(text, 80)))
	return s.exec(ctx, func() error {
		s.buffer.AppendBlock("audio: "+name, text)
		s.uploadedFor += length
		return nil
	})
}

// Close stops recording, cancels outstanding remote calls and ends every
// subscription. It is idempotent.
func (s *Session) Close() error {
	if s.closed.Load() {
		return nil
	}
	err := s.exec(context.Background(), func() error {
		s.ingest.Stop()
		s.velocity.Stop()
		s.refiner.Stop()
		s.translator.Stop()
		if st := s.recognizer.State(); st == recognition.StateIdle || st == recognition.StateStopped {
			return nil
		}
		return s.recognizer.Stop()
	})
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	s.logger.Info("session_closed")
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Done is closed once the session is closed or its parent context ends.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) onRecognizerState(ev recognition.StateChange) {
	now := s.sched.Now()
	if ev.FromState == recognition.StateRecording && ev.ToState != recognition.StateRecording {
		s.recordedFor += now.Sub(s.recordingSince)
	}
	if ev.ToState == recognition.StateRecording && ev.FromState != recognition.StateRecording {
		s.recordingSince = now
	}
	if ev.ToState == recognition.StateRecording {
		s.velocity.Start()
	} else {
		s.velocity.Stop()
	}
	s.markDirty()
}

// recorded returns the total recording time plus uploaded audio length.
func (s *Session) recorded() time.Duration {
	d := s.recordedFor + s.uploadedFor
	if s.recognizer.State() == recognition.StateRecording {
		d += s.sched.Now().Sub(s.recordingSince)
	}
	return d
}
