package processors

import (
	"testing"
	"time"

	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/metrics"
)

func text(s string, final bool) frames.TextFrame {
	return frames.NewTextFrame("test", 0, s, final, nil)
}

func TestSilenceCommitEndToEnd(t *testing.T) {
	env, sched, obs := newTestEnv()
	in := NewIngest(env, IngestConfig{}, nil)

	in.HandleText(text("hello world", false))
	sched.Advance(2 * time.Second)
	if env.Buffer.Text() != "" {
		t.Fatalf("expected no commit while interim pending, got %q", env.Buffer.Text())
	}

	in.HandleText(text("hello world this is a test", true))
	sched.Advance(1199 * time.Millisecond)
	if got := env.Buffer.Text(); got != "Hello world this is a test" {
		t.Fatalf("unexpected buffer before silence %q", got)
	}
	sched.Advance(time.Millisecond)
	if got := env.Buffer.Text(); got != "Hello world this is a test.\n\n" {
		t.Fatalf("unexpected buffer after silence %q", got)
	}
	if obs.Count(metrics.EventSilenceCommit) != 1 {
		t.Fatalf("expected one silence commit event")
	}
}

func TestSilenceTimerResetByInterim(t *testing.T) {
	env, sched, _ := newTestEnv()
	in := NewIngest(env, IngestConfig{SilenceCommit: time.Second}, nil)

	in.HandleText(text("done already.", true))
	sched.Advance(900 * time.Millisecond)
	in.HandleText(text("and", false))
	sched.Advance(5 * time.Second)
	if got := env.Buffer.Text(); got != "Done already." {
		t.Fatalf("expected commit cancelled by interim, got %q", got)
	}
	in.HandleText(text("", false))
	sched.Advance(time.Second)
	if got := env.Buffer.Text(); got != "Done already.\n\n" {
		t.Fatalf("expected blank line only after terminal punctuation, got %q", got)
	}
}

func TestSilenceCommitOnlyWhileActive(t *testing.T) {
	env, sched, _ := newTestEnv()
	active := false
	in := NewIngest(env, IngestConfig{}, func() bool { return active })
	in.HandleText(text("paused speech", true))
	sched.Advance(2 * time.Second)
	if got := env.Buffer.Text(); got != "Paused speech" {
		t.Fatalf("expected no commit while inactive, got %q", got)
	}
}

func TestVelocitySamples(t *testing.T) {
	env, sched, obs := newTestEnv()
	v := NewVelocityTracker(env, time.Second)
	env.Buffer.AppendFinal("already here")
	v.Start()
	env.Buffer.AppendFinal("ten runes!")
	sched.Advance(time.Second)
	if v.Rate() != 11 {
		t.Fatalf("expected rate 11 (separator + 10), got %d", v.Rate())
	}
	sched.Advance(time.Second)
	if v.Rate() != 0 {
		t.Fatalf("expected rate 0 without growth, got %d", v.Rate())
	}
	env.Buffer.Clear()
	sched.Advance(time.Second)
	if v.Rate() != 0 {
		t.Fatalf("expected clear to clamp at 0, got %d", v.Rate())
	}
	v.Stop()
	if v.Running() || sched.Pending() != 0 {
		t.Fatalf("expected tracker stopped with no pending tasks")
	}
	if obs.Count(metrics.EventVelocitySample) != 3 {
		t.Fatalf("expected 3 samples, got %d", obs.Count(metrics.EventVelocitySample))
	}
}
