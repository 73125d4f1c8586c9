package processors

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/redact"
	"github.com/harunnryd/juru/pkg/transcript"
)

// Velocity is the speaking-rate reading the stages adapt to.
type Velocity interface {
	Rate() int
}

type RefinerConfig struct {
	// MinPending is the number of unrefined runes that must accumulate
	// before a refinement is scheduled.
	MinPending int
	Debounce   time.Duration
	// SlowGate and FastGate are the minimum unrefined runes submitted when
	// velocity is at most FastVelocity and above it.
	SlowGate     int
	FastGate     int
	FastVelocity int
	// Temperature defaults to 0.1 when nil; zero is a valid setting.
	Temperature *float64
	Model       string
	Timeout     time.Duration
	Retry       llm.RetryConfig
}

func (c RefinerConfig) withDefaults() RefinerConfig {
	if c.MinPending <= 0 {
		c.MinPending = 20
	}
	if c.Debounce <= 0 {
		c.Debounce = 1500 * time.Millisecond
	}
	if c.SlowGate <= 0 {
		c.SlowGate = 40
	}
	if c.FastGate <= 0 {
		c.FastGate = 120
	}
	if c.FastVelocity <= 0 {
		c.FastVelocity = 30
	}
	if c.Temperature == nil {
		c.Temperature = Float(0.1)
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.IsRetryable == nil {
		c.Retry.IsRetryable = llm.RateLimitOnly
	}
	return c
}

// Refiner polishes the unrefined tail of the source buffer and splices the
// corrected text back in place.
type Refiner struct {
	env       Env
	cfg       RefinerConfig
	adapter   llm.LLMAdapter
	velocity  Velocity
	state     StageState
	ctx       context.Context
	onRefined func(mark int)
	logger    *slog.Logger
}

func NewRefiner(env Env, adapter llm.LLMAdapter, velocity Velocity, cfg RefinerConfig) *Refiner {
	env = env.withDefaults()
	return &Refiner{
		env:      env,
		cfg:      cfg.withDefaults(),
		adapter:  adapter,
		velocity: velocity,
		ctx:      context.Background(),
		logger:   logging.NewComponentLogger(env.Logger, "refiner"),
	}
}

func (r *Refiner) Name() string { return "refiner" }

// SetContext bounds every remote call issued from now on.
func (r *Refiner) SetContext(ctx context.Context) {
	if ctx != nil {
		r.ctx = ctx
	}
}

// OnRefined registers the callback invoked after every accepted splice with
// the new refined watermark.
func (r *Refiner) OnRefined(fn func(mark int)) { r.onRefined = fn }

func (r *Refiner) Watermark() int { return r.state.Watermark }

func (r *Refiner) InFlight() bool { return r.state.InFlight }

// SetWatermark restores a persisted watermark.
func (r *Refiner) SetWatermark(mark int) {
	r.state.Watermark = clampOffset(mark, r.env.Buffer.Len())
}

// AdvanceTo moves the watermark forward to mark. Text below it is never
// submitted again.
func (r *Refiner) AdvanceTo(mark int) {
	mark = clampOffset(mark, r.env.Buffer.Len())
	if mark > r.state.Watermark {
		r.state.Watermark = mark
	}
}

// OnChange reacts to source buffer mutations.
func (r *Refiner) OnChange(ch transcript.Change) {
	switch ch.Kind {
	case transcript.ChangeInterim, transcript.ChangeSplice:
		return
	case transcript.ChangeClear, transcript.ChangeLoad:
		r.state.Reset()
		return
	case transcript.ChangeEdit:
		if r.state.Watermark > ch.Len {
			r.state.Watermark = ch.Len
		}
	}
	r.evaluate()
}

// Recheck re-evaluates pending text, e.g. after watermarks were restored.
func (r *Refiner) Recheck() { r.evaluate() }

// evaluate arms the debounce timer when enough unrefined text is pending.
func (r *Refiner) evaluate() {
	if r.state.InFlight {
		return
	}
	pending := r.env.Buffer.Slice(r.state.Watermark, r.env.Buffer.Len())
	if utf8.RuneCountInString(pending) <= r.cfg.MinPending {
		return
	}
	r.state.Reschedule(r.env.Sched, r.cfg.Debounce, r.run)
}

func (r *Refiner) gate() int {
	if r.velocity != nil && r.velocity.Rate() > r.cfg.FastVelocity {
		return r.cfg.FastGate
	}
	return r.cfg.SlowGate
}

func (r *Refiner) run() {
	if r.state.InFlight || r.adapter == nil {
		return
	}
	w := r.state.Watermark
	unrefined := r.env.Buffer.Slice(w, r.env.Buffer.Len())
	core := strings.TrimSpace(unrefined)
	if n := utf8.RuneCountInString(core); n < r.gate() {
		r.env.record(metrics.EventRefineSkipped, float64(n), map[string]string{"reason": "gate"})
		return
	}
	// Leading and trailing whitespace stays outside the submitted slice so
	// paragraph breaks survive the splice.
	start := w + len(unrefined) - len(strings.TrimLeft(unrefined, " \t\r\n"))
	epoch := r.env.Buffer.Epoch()
	instruction, err := r.env.Instructions.Render(llm.ModeRefine, r.env.instructionData())
	if err != nil {
		r.logger.Error("refine_instruction_failed", slog.String("error", err.Error()))
		return
	}
	req := llm.Request{
		Mode:        llm.ModeRefine,
		Instruction: instruction,
		Text:        core,
		Context:     r.env.Context(),
		Temperature: *r.cfg.Temperature,
		Model:       r.cfg.Model,
	}

	r.state.InFlight = true
	r.env.record(metrics.EventRefineRequest, float64(len(core)), nil)
	r.logger.Debug("refine_request",
		slog.String("stream_id", r.env.StreamID),
		slog.Int("watermark", w),
		slog.Int("bytes", len(core)))

	parent := r.ctx
	retry := r.cfg.Retry
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.logger.Warn("refine_retry",
			slog.String("stream_id", r.env.StreamID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}
	go func() {
		ctx, cancel := context.WithTimeout(parent, r.cfg.Timeout)
		defer cancel()
		resp, err := llm.Retry(ctx, retry, func(ctx context.Context) (llm.Response, error) {
			return r.adapter.Generate(ctx, req)
		})
		r.env.Sched.Post(func() { r.complete(epoch, w, start, core, resp, err) })
	}()
}

func (r *Refiner) complete(epoch uint64, w, start int, submitted string, resp llm.Response, err error) {
	r.state.InFlight = false
	if err != nil {
		r.fail(err)
		return
	}
	if epoch != r.env.Buffer.Epoch() || r.state.Watermark != w ||
		r.env.Buffer.Slice(start, start+len(submitted)) != submitted {
		r.env.record(metrics.EventRefineSkipped, 0, map[string]string{"reason": "stale"})
		r.logger.Debug("refine_stale", slog.String("stream_id", r.env.StreamID))
		r.evaluate()
		return
	}
	// An empty answer waits for the next buffer change like any failure.
	corrected := strings.TrimSpace(resp.Text)
	if corrected == "" {
		r.fail(errorsx.Wrap(errEmptyResponse, errorsx.ReasonRemoteEmpty))
		return
	}
	defer r.evaluate()
	mark := r.env.Buffer.Splice(start, start+len(submitted), corrected)
	r.state.Watermark = mark
	r.env.record(metrics.EventRefineDone, float64(mark), nil)
	r.logger.Debug("refine_done",
		slog.String("stream_id", r.env.StreamID),
		slog.Int("watermark", mark),
		slog.String("text", redact.Preview(corrected, 80)))
	if r.onRefined != nil {
		r.onRefined(mark)
	}
}

func (r *Refiner) fail(err error) {
	reason := errorsx.Classify(err)
	r.env.record(metrics.EventRefineFailed, 0, map[string]string{"reason": string(reason)})
	r.logger.Warn("refine_failed",
		slog.String("stream_id", r.env.StreamID),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()))
}

// Stop cancels the pending timer. An outstanding call still completes.
func (r *Refiner) Stop() { r.state.CancelTimer() }

func clampOffset(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
