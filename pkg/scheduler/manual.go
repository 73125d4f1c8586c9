package scheduler

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by a virtual clock. Tasks run only when the
// owner calls Advance, RunPending or WaitPosted.
type Manual struct {
	q      taskQueue
	mu     sync.Mutex
	now    time.Time
	posted chan struct{}
}

func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	return &Manual{now: start, posted: make(chan struct{}, 1)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Post(fn func()) {
	m.After(0, fn)
}

func (m *Manual) After(d time.Duration, fn func()) *Task {
	if d < 0 {
		d = 0
	}
	t := m.q.push(m.Now().Add(d), fn)
	select {
	case m.posted <- struct{}{}:
	default:
	}
	return t
}

// RunPending runs every task due at the current virtual time, including
// tasks those tasks schedule with no delay. It returns the number run.
func (m *Manual) RunPending() int {
	n := 0
	for {
		t := m.q.popDue(m.Now())
		if t == nil {
			return n
		}
		t.fn()
		n++
	}
}

// Advance moves the clock forward by d, running due tasks in order with the
// clock set to each task's due time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	for {
		due, ok := m.q.next()
		if !ok || due.After(target) {
			break
		}
		m.mu.Lock()
		if due.After(m.now) {
			m.now = due
		}
		m.mu.Unlock()
		m.RunPending()
	}
	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
	m.RunPending()
}

// WaitPosted blocks until a task is posted from another goroutine (or one is
// already due), then runs all due tasks. It reports false on timeout.
func (m *Manual) WaitPosted(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.RunPending() > 0 {
			return true
		}
		select {
		case <-m.posted:
		case <-deadline:
			return false
		}
	}
}

// Pending returns the number of queued tasks.
func (m *Manual) Pending() int { return m.q.len() }
