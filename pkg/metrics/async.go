package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver moves event delivery off the session loop. When the queue
// is full the event is dropped and counted rather than stalling a stage.
type AsyncObserver struct {
	inner   Observer
	queue   chan MetricsEvent
	dropped atomic.Int64
	done    chan struct{}

	// mu orders sends against the close of queue.
	mu     sync.RWMutex
	closed bool
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: inner,
		queue: make(chan MetricsEvent, buffer),
		done:  make(chan struct{}),
	}
	go a.deliver()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncObserver) Dropped() int64 { return a.dropped.Load() }

// Close delivers what is queued, then flushes inner if it is a Flusher.
// Events recorded after Close are discarded.
func (a *AsyncObserver) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	if f, ok := a.inner.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (a *AsyncObserver) deliver() {
	defer close(a.done)
	for ev := range a.queue {
		a.inner.RecordEvent(ev)
	}
}
