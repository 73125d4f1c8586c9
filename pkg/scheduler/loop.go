package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Loop is the production Scheduler backed by the wall clock.
type Loop struct {
	q    taskQueue
	wake chan struct{}
	log  *slog.Logger
}

func NewLoop(log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{wake: make(chan struct{}, 1), log: log}
}

func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) Post(fn func()) {
	l.After(0, fn)
}

func (l *Loop) After(d time.Duration, fn func()) *Task {
	if d < 0 {
		d = 0
	}
	t := l.q.push(time.Now().Add(d), fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a task running on the same loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int { return l.q.len() }

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		for {
			t := l.q.popDue(time.Now())
			if t == nil {
				break
			}
			l.run(t)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		var timerC <-chan time.Time
		if due, ok := l.q.next(); ok {
			timer.Reset(time.Until(due))
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func (l *Loop) run(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("scheduler_task_panic", "panic", r)
		}
	}()
	t.fn()
}
