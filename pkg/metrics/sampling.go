package metrics

import (
	"math"
	"strings"
	"sync"
)

// SamplingObserver forwards roughly rate of each event name, counted per
// name so sparse events are not starved by velocity samples. Failure
// events and breaker transitions always pass.
type SamplingObserver struct {
	inner Observer
	every uint64

	mu     sync.Mutex
	counts map[string]uint64
}

func NewSamplingObserver(inner Observer, rate float64) *SamplingObserver {
	var every uint64
	switch {
	case rate >= 1:
		every = 1
	case rate > 0:
		every = uint64(math.Max(1, math.Round(1/rate)))
	}
	return &SamplingObserver{inner: inner, every: every, counts: make(map[string]uint64)}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if alwaysKept(ev.Name) || s.every == 1 {
		s.inner.RecordEvent(ev)
		return
	}
	if s.every == 0 {
		return
	}
	s.mu.Lock()
	s.counts[ev.Name]++
	keep := s.counts[ev.Name]%s.every == 0
	s.mu.Unlock()
	if keep {
		s.inner.RecordEvent(ev)
	}
}

func alwaysKept(name string) bool {
	switch name {
	case EventRateLimit, EventBreakerOpen, EventBreakerClose, EventRecognizerError:
		return true
	}
	return strings.HasSuffix(name, "_failed")
}

func (s *SamplingObserver) Flush() error {
	if f, ok := s.inner.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
