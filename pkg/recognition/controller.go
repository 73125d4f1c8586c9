// Package recognition owns the lifecycle of the speech recognizer: a state
// machine over Idle, Recording, Paused, Stopped and Erroring, automatic
// restarts after transient failures and clean ends, and delivery of text
// results onto the pipeline scheduler.
package recognition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/scheduler"
)

// Factory creates a fresh backend session for every (re)start.
type Factory func() stt.StreamingSTT

type Config struct {
	// MaxRestarts bounds consecutive automatic restarts after transient
	// errors. The counter resets on every text result.
	MaxRestarts  int
	RestartDelay time.Duration
	StreamID     string
}

// Hooks receive recognizer output on the scheduler.
type Hooks struct {
	OnText    func(frame frames.TextFrame)
	OnFailure func(failure Failure)
}

// Controller must be driven from tasks running on its scheduler, except for
// SendAudio, State and LastFailure which are safe from any goroutine.
type Controller struct {
	cfg     Config
	sched   scheduler.Scheduler
	factory Factory
	hooks   Hooks
	obs     metrics.Observer
	logger  *slog.Logger
	fsm     *stateMachine

	ctx      context.Context
	gen      uint64
	restarts int

	mu      sync.Mutex
	backend stt.StreamingSTT
	last    *Failure
}

func NewController(sched scheduler.Scheduler, factory Factory, hooks Hooks, cfg Config, obs metrics.Observer, logger *slog.Logger) *Controller {
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 3
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 250 * time.Millisecond
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	c := &Controller{
		cfg:     cfg,
		sched:   sched,
		factory: factory,
		hooks:   hooks,
		obs:     obs,
		logger:  logging.NewComponentLogger(logger, "recognizer"),
		fsm:     newStateMachine(),
		ctx:     context.Background(),
	}
	c.fsm.AddListener(StateListenerFunc(c.recordState))
	return c
}

func (c *Controller) State() State { return c.fsm.State() }

func (c *Controller) AddListener(l StateListener) { c.fsm.AddListener(l) }

// LastFailure returns the most recent recognition failure, if any.
func (c *Controller) LastFailure() (Failure, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Failure{}, false
	}
	return *c.last, true
}

// Start begins recording from Idle, Stopped or Erroring. ctx bounds every
// backend session started until the next Stop.
func (c *Controller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.fsm.State() == StateRecording {
		return nil
	}
	if err := c.fsm.Transition(StateRecording, "start"); err != nil {
		return err
	}
	c.ctx = ctx
	c.restarts = 0
	c.setLast(nil)
	c.startBackend()
	return nil
}

func (c *Controller) Pause() error {
	if err := c.fsm.Transition(StatePaused, "pause"); err != nil {
		return err
	}
	c.stopBackend()
	return nil
}

func (c *Controller) Resume() error {
	if c.fsm.State() != StatePaused {
		return &InvalidTransitionError{From: c.fsm.State(), To: StateRecording}
	}
	if err := c.fsm.Transition(StateRecording, "resume"); err != nil {
		return err
	}
	c.restarts = 0
	c.startBackend()
	return nil
}

// Stop ceases delivery of events; no further restarts happen.
func (c *Controller) Stop() error {
	if c.fsm.State() == StateStopped {
		return nil
	}
	if err := c.fsm.Transition(StateStopped, "stop"); err != nil {
		return err
	}
	c.stopBackend()
	return nil
}

// SendAudio forwards audio to the active backend. Audio received while not
// recording is dropped.
func (c *Controller) SendAudio(frame frames.AudioFrame) error {
	if c.fsm.State() != StateRecording {
		return nil
	}
	c.mu.Lock()
	b := c.backend
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.SendAudio(frame)
}

func (c *Controller) startBackend() {
	c.gen++
	gen := c.gen
	b := c.factory()
	c.mu.Lock()
	c.backend = b
	c.mu.Unlock()
	ctx := c.ctx

	c.logger.Info("recognizer_starting",
		slog.String("stream_id", c.cfg.StreamID),
		slog.String("backend", b.Name()),
		slog.Uint64("generation", gen))

	go func() {
		if err := b.Start(ctx); err != nil {
			c.sched.Post(func() { c.onStartFailed(gen, b, err) })
			return
		}
		for f := range b.Results() {
			c.sched.Post(func() { c.handle(gen, f) })
		}
		c.sched.Post(func() { c.onEnded(gen) })
	}()
}

func (c *Controller) stopBackend() {
	c.gen++
	c.mu.Lock()
	b := c.backend
	c.backend = nil
	c.mu.Unlock()
	if b != nil {
		_ = b.Close()
	}
}

func (c *Controller) handle(gen uint64, f frames.Frame) {
	if gen != c.gen || c.fsm.State() != StateRecording {
		return
	}
	switch v := f.(type) {
	case frames.TextFrame:
		c.restarts = 0
		if c.hooks.OnText != nil {
			c.hooks.OnText(v)
		}
	case frames.ControlFrame:
		switch v.Code() {
		case frames.ControlError:
			c.fail(Describe(ParseCode(v.ErrorCode())))
		case frames.ControlEnd:
			c.onEnded(gen)
		}
	}
}

func (c *Controller) onStartFailed(gen uint64, b stt.StreamingSTT, err error) {
	_ = b.Close()
	if gen != c.gen || c.fsm.State() != StateRecording {
		return
	}
	c.logger.Warn("recognizer_start_failed",
		slog.String("stream_id", c.cfg.StreamID),
		slog.String("error", err.Error()))
	c.fail(Describe(CodeNetwork))
}

// onEnded handles a clean end of stream. While recording the backend is
// restarted without consuming the restart budget.
func (c *Controller) onEnded(gen uint64) {
	if gen != c.gen || c.fsm.State() != StateRecording {
		return
	}
	c.logger.Info("recognizer_ended", slog.String("stream_id", c.cfg.StreamID))
	c.scheduleRestart("end_of_stream")
}

func (c *Controller) fail(f Failure) {
	c.setLast(&f)
	c.logger.Warn("recognizer_error",
		slog.String("stream_id", c.cfg.StreamID),
		slog.String("code", string(f.Code)),
		slog.String("reason", string(f.Reason())),
		slog.Int("restarts", c.restarts))
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventRecognizerError,
		Time: c.sched.Now(),
		Tags: map[string]string{"stream_id": c.cfg.StreamID, "code": string(f.Code)},
	})
	if c.hooks.OnFailure != nil {
		c.hooks.OnFailure(f)
	}
	if f.Code.Transient() && c.restarts < c.cfg.MaxRestarts {
		c.restarts++
		c.scheduleRestart("auto_restart")
		return
	}
	c.stopBackend()
	_ = c.fsm.Transition(StateErroring, string(f.Code))
}

func (c *Controller) scheduleRestart(reason string) {
	c.stopBackend()
	gen := c.gen
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventRecognizerRestart,
		Time:  c.sched.Now(),
		Value: float64(c.restarts),
		Tags:  map[string]string{"stream_id": c.cfg.StreamID, "reason": reason},
	})
	c.sched.After(c.cfg.RestartDelay, func() {
		if gen != c.gen || c.fsm.State() != StateRecording {
			return
		}
		if err := c.fsm.Transition(StateRecording, reason); err != nil {
			return
		}
		c.startBackend()
	})
}

func (c *Controller) setLast(f *Failure) {
	c.mu.Lock()
	c.last = f
	c.mu.Unlock()
}

func (c *Controller) recordState(ev StateChange) {
	c.logger.Info("recognizer_state",
		slog.String("stream_id", c.cfg.StreamID),
		slog.String("from", ev.FromState.String()),
		slog.String("to", ev.ToState.String()),
		slog.String("reason", ev.Reason))
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventRecognizerState,
		Time: ev.Timestamp,
		Tags: map[string]string{"from": ev.FromState.String(), "to": ev.ToState.String(), "reason": ev.Reason},
	})
}
