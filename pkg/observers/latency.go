package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/juru/pkg/metrics"
)

// StageLatency aggregates request to completion times of one stage.
type StageLatency struct {
	Count   int
	Failed  int
	Total   time.Duration
	Max     time.Duration
	Last    time.Duration
	pending time.Time
}

func (s StageLatency) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// LatencyObserver pairs refine and translate requests with their outcome
// and logs the elapsed time per session and stage.
type LatencyObserver struct {
	mu     sync.Mutex
	stages map[string]map[string]*StageLatency
	log    *slog.Logger
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		stages: make(map[string]map[string]*StageLatency),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
	}
	if streamID == "" {
		return
	}
	var stage string
	var begin, failed bool
	switch ev.Name {
	case metrics.EventRefineRequest:
		stage, begin = "refine", true
	case metrics.EventRefineDone, metrics.EventRefineSkipped:
		stage = "refine"
	case metrics.EventRefineFailed:
		stage, failed = "refine", true
	case metrics.EventTranslateRequest:
		stage, begin = "translate", true
	case metrics.EventTranslateDone, metrics.EventTranslateSkipped:
		stage = "translate"
	case metrics.EventTranslateFailed:
		stage, failed = "translate", true
	default:
		return
	}

	o.mu.Lock()
	byStage := o.stages[streamID]
	if byStage == nil {
		byStage = make(map[string]*StageLatency)
		o.stages[streamID] = byStage
	}
	st := byStage[stage]
	if st == nil {
		st = &StageLatency{}
		byStage[stage] = st
	}
	if begin {
		st.pending = ev.Time
		o.mu.Unlock()
		return
	}
	if st.pending.IsZero() {
		o.mu.Unlock()
		return
	}
	elapsed := ev.Time.Sub(st.pending)
	st.pending = time.Time{}
	if failed {
		st.Failed++
	} else {
		st.Count++
		st.Total += elapsed
		st.Last = elapsed
		if elapsed > st.Max {
			st.Max = elapsed
		}
	}
	o.mu.Unlock()

	o.log.Debug("stage_latency",
		slog.String("stream_id", streamID),
		slog.String("stage", stage),
		slog.Bool("failed", failed),
		slog.Int64("latency_ms", elapsed.Milliseconds()),
	)
}

// Stage returns the aggregate for one session and stage.
func (o *LatencyObserver) Stage(streamID, stage string) (StageLatency, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.stages[streamID][stage]
	if !ok {
		return StageLatency{}, false
	}
	return *st, true
}

// Forget drops the aggregates of a closed session and logs a summary.
func (o *LatencyObserver) Forget(streamID string) {
	o.mu.Lock()
	byStage := o.stages[streamID]
	delete(o.stages, streamID)
	o.mu.Unlock()
	for stage, st := range byStage {
		o.log.Info("latency",
			slog.String("stream_id", streamID),
			slog.String("stage", stage),
			slog.Int("requests", st.Count),
			slog.Int("failed", st.Failed),
			slog.Int64("mean_ms", st.Mean().Milliseconds()),
			slog.Int64("max_ms", st.Max.Milliseconds()),
		)
	}
}
