// Package processors implements the incremental transcript stages: ingest,
// velocity tracking, refinement and translation. Every method runs on the
// pipeline scheduler; remote calls run on their own goroutines and post
// their results back.
package processors

import (
	"log/slog"
	"time"

	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/scheduler"
	"github.com/harunnryd/juru/pkg/transcript"
)

// StageState is the per-stage bookkeeping: how far the stage has committed,
// whether a remote call is outstanding and the single pending timer.
type StageState struct {
	Watermark int
	InFlight  bool
	timer     *scheduler.Task
}

// Reschedule replaces the pending timer.
func (s *StageState) Reschedule(sched scheduler.Scheduler, d time.Duration, fn func()) {
	s.CancelTimer()
	var task *scheduler.Task
	task = sched.After(d, func() {
		if s.timer == task {
			s.timer = nil
		}
		fn()
	})
	s.timer = task
}

func (s *StageState) CancelTimer() {
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
}

// TimerPending reports whether a timer is armed.
func (s *StageState) TimerPending() bool { return s.timer != nil }

// Reset drops the watermark and timer. An outstanding call keeps InFlight
// set until its result is posted back and discarded.
func (s *StageState) Reset() {
	s.CancelTimer()
	s.Watermark = 0
}

// Env is what every stage reads from the session.
type Env struct {
	Sched        scheduler.Scheduler
	Buffer       *transcript.Buffer
	Translation  *transcript.Translation
	Instructions *llm.Instructions
	// Context returns the session context description.
	Context        func() string
	SourceLanguage string
	TargetLanguage string
	Observer       metrics.Observer
	Logger         *slog.Logger
	StreamID       string
}

func (e Env) withDefaults() Env {
	if e.Instructions == nil {
		e.Instructions = llm.DefaultInstructions()
	}
	if e.Context == nil {
		e.Context = func() string { return "" }
	}
	if e.Observer == nil {
		e.Observer = metrics.NoopObserver{}
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Translation == nil {
		e.Translation = transcript.NewTranslation()
	}
	return e
}

func (e Env) instructionData() llm.InstructionData {
	return llm.InstructionData{
		Context:        e.Context(),
		SourceLanguage: e.SourceLanguage,
		TargetLanguage: e.TargetLanguage,
	}
}

func (e Env) record(name string, value float64, tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	if e.StreamID != "" {
		tags["stream_id"] = e.StreamID
	}
	e.Observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  e.Sched.Now(),
		Value: value,
		Tags:  tags,
	})
}

// Float returns a pointer to v for optional settings such as temperatures.
func Float(v float64) *float64 { return &v }
