package processors

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/providers/mock"
	"github.com/harunnryd/juru/pkg/resilience"
	"github.com/harunnryd/juru/pkg/transcript"
)

func newTestTranslator(env Env, m, batch *mock.LLMAdapter, v Velocity, refined *int, cfg TranslatorConfig) *Translator {
	var batchAdapter llm.LLMAdapter
	if batch != nil {
		batchAdapter = batch
	}
	tr := NewTranslator(env, m, batchAdapter, v, func() int { return *refined }, cfg)
	env.Buffer.OnChange(tr.OnChange)
	return tr
}

func TestTranslatorIncremental(t *testing.T) {
	env, sched, _ := newTestEnv()
	m := mock.Reply("Halo dunia.")
	env.Buffer.AppendFinal("hello world.")
	refined := env.Buffer.Len()
	tr := newTestTranslator(env, m, nil, fixedVelocity(0), &refined, TranslatorConfig{})

	tr.Trigger()
	sched.Advance(799 * time.Millisecond)
	if m.Calls() != 0 {
		t.Fatalf("expected slow debounce of 800ms")
	}
	sched.Advance(time.Millisecond)
	waitFor(t, sched, func() bool { return tr.Watermark() == refined })
	if env.Translation.Text() != "Halo dunia." {
		t.Fatalf("unexpected translation %q", env.Translation.Text())
	}
	req := m.Requests()[0]
	if req.Mode != llm.ModeTranslate || req.Text != "Hello world." || req.Temperature != 0.1 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestTranslatorFastDebounce(t *testing.T) {
	env, sched, _ := newTestEnv()
	m := mock.Reply("x")
	env.Buffer.AppendFinal("some refined words")
	refined := env.Buffer.Len()
	tr := newTestTranslator(env, m, nil, fixedVelocity(41), &refined, TranslatorConfig{})
	tr.Trigger()
	sched.Advance(400 * time.Millisecond)
	waitEntered(t, m)
}

func TestTranslatorEmptyResultLeavesWatermark(t *testing.T) {
	env, sched, _ := newTestEnv()
	m := mock.Reply("  \n")
	env.Buffer.AppendFinal("something to translate.")
	refined := env.Buffer.Len()
	tr := newTestTranslator(env, m, nil, fixedVelocity(0), &refined, TranslatorConfig{})
	tr.Trigger()
	sched.Advance(800 * time.Millisecond)
	waitFor(t, sched, func() bool { return m.Calls() == 1 && !tr.InFlight() })
	if tr.Watermark() != 0 || env.Translation.Text() != "" {
		t.Fatalf("expected untouched watermark, got %d", tr.Watermark())
	}
}

func TestTranslatorSkipsWhitespaceWithoutCall(t *testing.T) {
	env, sched, _ := newTestEnv()
	m := mock.Reply("x")
	env.Buffer.Edit("   \n\n")
	refined := env.Buffer.Len()
	tr := newTestTranslator(env, m, nil, fixedVelocity(0), &refined, TranslatorConfig{})
	tr.Trigger()
	sched.Advance(time.Second)
	if m.Calls() != 0 || tr.Watermark() != 0 {
		t.Fatalf("expected whitespace skipped, calls=%d", m.Calls())
	}
}

func TestTranslatorFailureSetsBusyFlag(t *testing.T) {
	env, sched, _ := newTestEnv()
	fail := true
	m := mock.NewLLM(func(llm.Request) (llm.Response, error) {
		if fail {
			return llm.Response{}, resilience.RateLimitError{Provider: "mock"}
		}
		return llm.Response{Text: "ok"}, nil
	})
	env.Buffer.AppendFinal("first part.")
	refined := env.Buffer.Len()
	tr := newTestTranslator(env, m, nil, fixedVelocity(0), &refined, TranslatorConfig{})
	tr.Trigger()
	sched.Advance(800 * time.Millisecond)
	waitFor(t, sched, func() bool { return tr.Busy() })
	if tr.Watermark() != 0 {
		t.Fatalf("expected watermark untouched on failure")
	}

	waitFor(t, sched, func() bool { return !tr.InFlight() })
	fail = false
	tr.Trigger()
	sched.Advance(800 * time.Millisecond)
	waitFor(t, sched, func() bool { return tr.Watermark() == refined })
	if tr.Busy() {
		t.Fatalf("expected busy flag cleared after success")
	}
}

func TestTranslatorSingleFlightDropsTriggers(t *testing.T) {
	env, sched, _ := newTestEnv()
	m := mock.Reply("uno")
	m.Gate = make(chan struct{})
	env.Buffer.AppendFinal("one.")
	refined := env.Buffer.Len()
	tr := newTestTranslator(env, m, nil, fixedVelocity(0), &refined, TranslatorConfig{})
	tr.Trigger()
	sched.Advance(800 * time.Millisecond)
	waitEntered(t, m)

	env.Buffer.AppendFinal("two.")
	refined = env.Buffer.Len()
	for i := 0; i < 5; i++ {
		tr.Trigger()
		sched.Advance(time.Second)
	}
	if m.Calls() != 1 {
		t.Fatalf("expected exactly one remote call in flight, got %d", m.Calls())
	}

	m.Gate <- struct{}{}
	waitFor(t, sched, func() bool { return tr.Watermark() == len("One.") })
	sched.Advance(800 * time.Millisecond)
	waitEntered(t, m)
	m.Gate <- struct{}{}
	waitFor(t, sched, func() bool { return tr.Watermark() == refined })
	if got := env.Translation.Text(); got != "uno\nuno" {
		t.Fatalf("unexpected translation %q", got)
	}
}

func TestTranslatorMinimumInterval(t *testing.T) {
	env, sched, _ := newTestEnv()
	m := mock.Reply("t")
	env.Buffer.AppendFinal("hello world. second part.")
	refined := len("Hello world.")
	tr := newTestTranslator(env, m, nil, fixedVelocity(41), &refined, TranslatorConfig{})

	tr.Trigger()
	sched.Advance(400 * time.Millisecond)
	waitEntered(t, m)
	refined = env.Buffer.Len()
	waitFor(t, sched, func() bool { return tr.Watermark() == len("Hello world.") })

	// Next start would land at 800ms, only 400ms after the first.
	sched.Advance(400 * time.Millisecond)
	if m.Calls() != 1 {
		t.Fatalf("expected request held back by the minimum interval, calls=%d", m.Calls())
	}
	sched.Advance(100 * time.Millisecond)
	waitEntered(t, m)
	if m.Calls() != 2 {
		t.Fatalf("expected second call at the interval boundary, calls=%d", m.Calls())
	}
}

func TestOptimizeBatch(t *testing.T) {
	env, sched, _ := newTestEnv()
	inc := mock.Reply("unused")
	batch := mock.Reply("Halo. Dunia.")
	env.Buffer.AppendFinal("hello. world.")
	if env.Buffer.Text() != "Hello. World." {
		t.Fatalf("unexpected buffer %q", env.Buffer.Text())
	}
	refined := 0
	tr := newTestTranslator(env, inc, batch, fixedVelocity(0), &refined, TranslatorConfig{BatchModel: "big-model", ThinkingBudget: 2048})
	var batchEnd int
	tr.OnBatch(func(end int) { batchEnd = end })

	var doneErr error
	done := false
	tr.Optimize(func(err error) { doneErr, done = err, true })
	waitFor(t, sched, func() bool { return done })
	if doneErr != nil {
		t.Fatalf("optimize: %v", doneErr)
	}
	if tr.Watermark() != 13 || batchEnd != 13 {
		t.Fatalf("expected watermark 13, got %d (batch end %d)", tr.Watermark(), batchEnd)
	}
	if got := env.Translation.Text(); !strings.Contains(got, transcript.BatchSeparator) || !strings.HasSuffix(got, "Halo. Dunia.") {
		t.Fatalf("unexpected translation %q", got)
	}
	req := batch.Requests()[0]
	if req.Mode != llm.ModeBatch || req.Model != "big-model" || req.ThinkingBudget != 2048 || req.Temperature != 0.2 {
		t.Fatalf("unexpected batch request %+v", req)
	}
	if inc.Calls() != 0 {
		t.Fatalf("expected incremental adapter unused")
	}
}

func TestOptimizeBypassesSingleFlight(t *testing.T) {
	env, sched, _ := newTestEnv()
	inc := mock.Reply("partial")
	inc.Gate = make(chan struct{})
	batch := mock.Reply("full")
	env.Buffer.AppendFinal("one. two.")
	refined := len("One.")
	tr := newTestTranslator(env, inc, batch, fixedVelocity(0), &refined, TranslatorConfig{})
	tr.Trigger()
	sched.Advance(800 * time.Millisecond)
	waitEntered(t, inc)

	done := false
	tr.Optimize(func(error) { done = true })
	waitFor(t, sched, func() bool { return done })
	if batch.Calls() != 1 || tr.Watermark() != env.Buffer.Len() {
		t.Fatalf("expected batch during incremental flight, watermark=%d", tr.Watermark())
	}

	inc.Gate <- struct{}{}
	waitFor(t, sched, func() bool { return !tr.InFlight() })
	if tr.Watermark() != env.Buffer.Len() {
		t.Fatalf("expected max merge to keep batch watermark, got %d", tr.Watermark())
	}
}

func TestOptimizeNothingToTranslate(t *testing.T) {
	env, _, _ := newTestEnv()
	refined := 0
	tr := newTestTranslator(env, mock.Reply("x"), nil, nil, &refined, TranslatorConfig{})
	var got error
	tr.Optimize(func(err error) { got = err })
	if !errors.Is(got, ErrNothingToTranslate) {
		t.Fatalf("expected ErrNothingToTranslate, got %v", got)
	}
}

func TestTranslatorDiscardsResultAfterEdit(t *testing.T) {
	env, sched, obs := newTestEnv()
	m := mock.Reply("Halo dunia.")
	m.Gate = make(chan struct{}, 2)
	env.Buffer.AppendFinal("hello world.")
	refined := env.Buffer.Len()
	tr := newTestTranslator(env, m, nil, fixedVelocity(0), &refined, TranslatorConfig{})

	tr.Trigger()
	sched.Advance(800 * time.Millisecond)
	waitEntered(t, m)
	env.Buffer.Edit("Goodbye world.")
	refined = env.Buffer.Len()
	m.Gate <- struct{}{}
	waitFor(t, sched, func() bool { return !tr.InFlight() })
	if env.Translation.Text() != "" || tr.Watermark() != 0 {
		t.Fatalf("expected result for edited text discarded, got %q", env.Translation.Text())
	}
	if obs.Count(metrics.EventTranslateSkipped) != 1 {
		t.Fatalf("expected one skipped translation")
	}

	m.Gate <- struct{}{}
	sched.Advance(800 * time.Millisecond)
	waitFor(t, sched, func() bool { return tr.Watermark() == refined })
	if got := m.Requests()[1].Text; got != "Goodbye world." {
		t.Fatalf("expected the edited text resent, got %q", got)
	}
}
