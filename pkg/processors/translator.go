package processors

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/logging"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/transcript"
)

// BusyMessage is the shared error flag text shown while translation fails.
const BusyMessage = "interpreter busy / quota reached"

type TranslatorConfig struct {
	// MinInterval is the minimum spacing between incremental request starts.
	MinInterval  time.Duration
	SlowDebounce time.Duration
	FastDebounce time.Duration
	FastVelocity int
	// Temperature and BatchTemperature default to 0.1 and 0.2 when nil.
	Temperature *float64
	Model       string
	Timeout     time.Duration

	BatchTemperature *float64
	BatchModel       string
	ThinkingBudget   int
	BatchTimeout     time.Duration
}

func (c TranslatorConfig) withDefaults() TranslatorConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 500 * time.Millisecond
	}
	if c.SlowDebounce <= 0 {
		c.SlowDebounce = 800 * time.Millisecond
	}
	if c.FastDebounce <= 0 {
		c.FastDebounce = 400 * time.Millisecond
	}
	if c.FastVelocity <= 0 {
		c.FastVelocity = 40
	}
	if c.Temperature == nil {
		c.Temperature = Float(0.1)
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.BatchTemperature == nil {
		c.BatchTemperature = Float(0.2)
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Minute
	}
	return c
}

// Translator translates refined source text into the translation buffer.
// Incremental requests cover [translated, refined); Optimize sends
// everything after the translated watermark to the batch model.
type Translator struct {
	env      Env
	cfg      TranslatorConfig
	adapter  llm.LLMAdapter
	batch    llm.LLMAdapter
	velocity Velocity
	refined  func() int
	limiter  *rate.Limiter
	state    StageState
	ctx      context.Context
	busy     bool
	onBatch  func(end int)
	logger   *slog.Logger
	// spans are the source ranges of requests still outstanding.
	spans []*span
}

// span is a submitted source range kept in step with later splices.
type span struct {
	from, to int
	valid    bool
}

// shift moves the range by a splice. A splice crossing either boundary
// invalidates it: part of the replaced text was never submitted.
func (s *span) shift(ch transcript.Change) {
	switch {
	case ch.At >= s.to:
	case ch.End <= s.from:
		s.from += ch.Delta
		s.to += ch.Delta
	case ch.At >= s.from && ch.End <= s.to:
		s.to += ch.Delta
	default:
		s.valid = false
	}
}

// NewTranslator builds the translation stage. refined returns the current
// refined watermark. A nil batch adapter falls back to adapter.
func NewTranslator(env Env, adapter, batch llm.LLMAdapter, velocity Velocity, refined func() int, cfg TranslatorConfig) *Translator {
	env = env.withDefaults()
	cfg = cfg.withDefaults()
	if batch == nil {
		batch = adapter
	}
	return &Translator{
		env:      env,
		cfg:      cfg,
		adapter:  adapter,
		batch:    batch,
		velocity: velocity,
		refined:  refined,
		limiter:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		ctx:      context.Background(),
		logger:   logging.NewComponentLogger(env.Logger, "translator"),
	}
}

func (t *Translator) Name() string { return "translator" }

func (t *Translator) SetContext(ctx context.Context) {
	if ctx != nil {
		t.ctx = ctx
	}
}

// OnBatch registers the callback invoked with the end offset of every
// accepted batch translation.
func (t *Translator) OnBatch(fn func(end int)) { t.onBatch = fn }

func (t *Translator) Watermark() int { return t.state.Watermark }

func (t *Translator) InFlight() bool { return t.state.InFlight }

// Busy reports the shared error flag.
func (t *Translator) Busy() bool { return t.busy }

func (t *Translator) SetWatermark(mark int) {
	t.state.Watermark = clampOffset(mark, t.env.Buffer.Len())
}

// OnChange resets the stage when the buffer starts a new epoch and keeps
// the watermark inside the buffer after edits.
func (t *Translator) OnChange(ch transcript.Change) {
	switch ch.Kind {
	case transcript.ChangeClear, transcript.ChangeLoad:
		t.state.Reset()
		t.busy = false
	case transcript.ChangeEdit:
		if t.state.Watermark > ch.Len {
			t.state.Watermark = ch.Len
		}
		for _, sp := range t.spans {
			sp.valid = false
		}
	case transcript.ChangeSplice:
		for _, sp := range t.spans {
			sp.shift(ch)
		}
	}
}

func (t *Translator) track(from, to int) *span {
	sp := &span{from: from, to: to, valid: true}
	t.spans = append(t.spans, sp)
	return sp
}

// settle stops tracking sp and reports whether its range still matches the
// submitted text.
func (t *Translator) settle(sp *span) bool {
	for i, other := range t.spans {
		if other == sp {
			t.spans = append(t.spans[:i], t.spans[i+1:]...)
			break
		}
	}
	return sp.valid
}

func (t *Translator) discardShifted(mode llm.Mode) {
	t.env.record(metrics.EventTranslateSkipped, 0, map[string]string{"mode": string(mode), "reason": "shifted"})
	t.logger.Debug("translate_shifted",
		slog.String("stream_id", t.env.StreamID),
		slog.String("mode", string(mode)))
}

// Trigger schedules an incremental translation. Triggers arriving while a
// request is outstanding are dropped; the stage re-checks after a success.
func (t *Translator) Trigger() {
	if t.state.InFlight || t.adapter == nil {
		return
	}
	if t.upper() <= t.state.Watermark {
		return
	}
	t.state.Reschedule(t.env.Sched, t.debounce(), t.run)
}

func (t *Translator) debounce() time.Duration {
	if t.velocity != nil && t.velocity.Rate() > t.cfg.FastVelocity {
		return t.cfg.FastDebounce
	}
	return t.cfg.SlowDebounce
}

func (t *Translator) upper() int {
	if t.refined == nil {
		return t.state.Watermark
	}
	return clampOffset(t.refined(), t.env.Buffer.Len())
}

func (t *Translator) run() {
	if t.state.InFlight {
		return
	}
	from, to := t.state.Watermark, t.upper()
	if to <= from {
		return
	}
	segment := t.env.Buffer.Slice(from, to)
	if strings.TrimSpace(segment) == "" {
		return
	}
	now := t.env.Sched.Now()
	res := t.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		t.state.Reschedule(t.env.Sched, delay, t.run)
		return
	}

	instruction, err := t.env.Instructions.Render(llm.ModeTranslate, t.env.instructionData())
	if err != nil {
		t.logger.Error("translate_instruction_failed", slog.String("error", err.Error()))
		return
	}
	req := llm.Request{
		Mode:        llm.ModeTranslate,
		Instruction: instruction,
		Text:        strings.TrimSpace(segment),
		Context:     t.env.Context(),
		Temperature: *t.cfg.Temperature,
		Model:       t.cfg.Model,
	}
	epoch := t.env.Buffer.Epoch()
	sp := t.track(from, to)
	t.state.InFlight = true
	t.env.record(metrics.EventTranslateRequest, float64(len(segment)), map[string]string{"mode": string(llm.ModeTranslate)})
	t.logger.Debug("translate_request",
		slog.String("stream_id", t.env.StreamID),
		slog.Int("from", from),
		slog.Int("to", to))

	t.call(t.adapter, req, t.cfg.Timeout, func(resp llm.Response, err error) {
		t.state.InFlight = false
		current := t.settle(sp)
		if t.accept(epoch, resp, err, llm.ModeTranslate) != nil {
			return
		}
		if !current {
			t.discardShifted(llm.ModeTranslate)
			t.Trigger()
			return
		}
		t.env.Translation.AppendIncremental(resp.Text)
		t.advance(sp.to)
		t.Trigger()
	})
}

// Optimize sends all untranslated text to the batch model, bypassing the
// single-flight guard. done runs on the scheduler with the outcome.
func (t *Translator) Optimize(done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	from, to := t.state.Watermark, t.env.Buffer.Len()
	segment := t.env.Buffer.Slice(from, to)
	if strings.TrimSpace(segment) == "" {
		done(ErrNothingToTranslate)
		return
	}
	instruction, err := t.env.Instructions.Render(llm.ModeBatch, t.env.instructionData())
	if err != nil {
		done(err)
		return
	}
	req := llm.Request{
		Mode:           llm.ModeBatch,
		Instruction:    instruction,
		Text:           strings.TrimSpace(segment),
		Context:        t.env.Context(),
		Temperature:    *t.cfg.BatchTemperature,
		Model:          t.cfg.BatchModel,
		ThinkingBudget: t.cfg.ThinkingBudget,
	}
	epoch := t.env.Buffer.Epoch()
	sp := t.track(from, to)
	t.env.record(metrics.EventTranslateRequest, float64(len(segment)), map[string]string{"mode": string(llm.ModeBatch)})
	t.logger.Info("batch_request",
		slog.String("stream_id", t.env.StreamID),
		slog.Int("from", from),
		slog.Int("to", to))

	t.call(t.batch, req, t.cfg.BatchTimeout, func(resp llm.Response, err error) {
		current := t.settle(sp)
		if err := t.accept(epoch, resp, err, llm.ModeBatch); err != nil {
			done(err)
			return
		}
		if !current {
			t.discardShifted(llm.ModeBatch)
			done(ErrSourceChanged)
			return
		}
		t.env.Translation.AppendBatch(resp.Text)
		t.advance(sp.to)
		if t.onBatch != nil {
			t.onBatch(sp.to)
		}
		done(nil)
	})
}

func (t *Translator) call(adapter llm.LLMAdapter, req llm.Request, timeout time.Duration, complete func(llm.Response, error)) {
	parent := t.ctx
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		resp, err := adapter.Generate(ctx, req)
		t.env.Sched.Post(func() { complete(resp, err) })
	}()
}

// accept validates a result and maintains the busy flag. Stale and empty
// results leave the watermark untouched.
func (t *Translator) accept(epoch uint64, resp llm.Response, err error, mode llm.Mode) error {
	tags := map[string]string{"mode": string(mode)}
	if err != nil {
		t.busy = true
		reason := errorsx.Classify(err)
		tags["reason"] = string(reason)
		t.env.record(metrics.EventTranslateFailed, 0, tags)
		t.logger.Warn("translate_failed",
			slog.String("stream_id", t.env.StreamID),
			slog.String("mode", string(mode)),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
		return err
	}
	if epoch != t.env.Buffer.Epoch() {
		t.logger.Debug("translate_stale", slog.String("stream_id", t.env.StreamID))
		return errStale
	}
	if strings.TrimSpace(resp.Text) == "" {
		tags["reason"] = string(errorsx.ReasonRemoteEmpty)
		t.env.record(metrics.EventTranslateFailed, 0, tags)
		t.logger.Warn("translate_empty", slog.String("stream_id", t.env.StreamID), slog.String("mode", string(mode)))
		return errEmptyResponse
	}
	t.busy = false
	return nil
}

// advance merges a completed range end into the watermark.
func (t *Translator) advance(end int) {
	end = clampOffset(end, t.env.Buffer.Len())
	if end > t.state.Watermark {
		t.state.Watermark = end
	}
	t.env.record(metrics.EventTranslateDone, float64(t.state.Watermark), nil)
}

func (t *Translator) Stop() { t.state.CancelTimer() }
