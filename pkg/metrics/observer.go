// Package metrics carries pipeline events from the stages to whatever is
// listening: logs, artifact writers, the JSONL metrics file.
package metrics

import "time"

// MetricsEvent is one thing that happened in a session. Tags are low
// cardinality labels (stream_id, stage, reason); Fields carry free-form
// detail such as durations.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer must not block; slow sinks belong behind an AsyncObserver.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev MetricsEvent)

func (f ObserverFunc) RecordEvent(ev MetricsEvent) { f(ev) }

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
