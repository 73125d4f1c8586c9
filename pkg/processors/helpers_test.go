package processors

import (
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/providers/mock"
	"github.com/harunnryd/juru/pkg/scheduler"
	"github.com/harunnryd/juru/pkg/transcript"
)

type fixedVelocity int

func (v fixedVelocity) Rate() int { return int(v) }

func newTestEnv() (Env, *scheduler.Manual, *metrics.MemoryObserver) {
	sched := scheduler.NewManual(time.Time{})
	obs := metrics.NewMemoryObserver()
	env := Env{
		Sched:       sched,
		Buffer:      transcript.NewBuffer(),
		Translation: transcript.NewTranslation(),
		Observer:    obs,
		StreamID:    "test",
	}
	return env, sched, obs
}

// newTestRefiner wires a refiner to the buffer the way a session does.
func newTestRefiner(env Env, adapter *mock.LLMAdapter, v Velocity, cfg RefinerConfig) *Refiner {
	cfg.Retry.Sleep = noSleep
	r := NewRefiner(env, adapter, v, cfg)
	env.Buffer.OnChange(r.OnChange)
	return r
}

func waitEntered(t *testing.T, m *mock.LLMAdapter) {
	t.Helper()
	select {
	case <-m.Entered():
	case <-time.After(2 * time.Second):
		t.Fatalf("remote call not started")
	}
}

func waitFor(t *testing.T, sched *scheduler.Manual, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		sched.WaitPosted(20 * time.Millisecond)
	}
}

func words(n int) string {
	return strings.Repeat("a", n)
}
