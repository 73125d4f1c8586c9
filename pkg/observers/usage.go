package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/metrics"
)

// UsageSummary counts the remote work done for one session.
type UsageSummary struct {
	StreamID           string  `json:"stream_id"`
	RefineRequests     int     `json:"refine_requests"`
	RefineChars        int     `json:"refine_chars"`
	TranslateRequests  int     `json:"translate_requests"`
	TranslateChars     int     `json:"translate_chars"`
	BatchRequests      int     `json:"batch_requests"`
	Failures           int     `json:"failures"`
	RateLimited        int     `json:"rate_limited"`
	TranscribedSeconds float64 `json:"transcribed_audio_seconds"`
	RecordedAtUTC      string  `json:"recorded_at_utc"`
}

// UsageObserver keeps per-session usage counters and writes them to
// <dir>/<session>.usage.json on Flush or Close.
type UsageObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*UsageSummary
}

func NewUsageObserver(dir string) *UsageObserver {
	return &UsageObserver{dir: dir, stats: make(map[string]*UsageSummary)}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	if ev.Tags == nil || ev.Tags["stream_id"] == "" {
		return
	}
	id := ev.Tags["stream_id"]
	o.mu.Lock()
	defer o.mu.Unlock()
	stat := o.stats[id]
	if stat == nil {
		stat = &UsageSummary{StreamID: id}
		o.stats[id] = stat
	}
	switch ev.Name {
	case metrics.EventRefineRequest:
		stat.RefineRequests++
		stat.RefineChars += int(ev.Value)
	case metrics.EventTranslateRequest:
		if ev.Tags["mode"] == "batch" {
			stat.BatchRequests++
		} else {
			stat.TranslateRequests++
		}
		stat.TranslateChars += int(ev.Value)
	case metrics.EventRefineFailed, metrics.EventTranslateFailed:
		stat.Failures++
		if ev.Tags["reason"] == string(errorsx.ReasonRemoteRateLimited) {
			stat.RateLimited++
		}
	case metrics.EventTranscribeDone:
		stat.TranscribedSeconds += float64(msField(ev.Fields, "audio_ms")) / 1000
	}
}

// Summary returns a copy of the counters for streamID.
func (o *UsageObserver) Summary(streamID string) (UsageSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stat, ok := o.stats[streamID]
	if !ok {
		return UsageSummary{}, false
	}
	return *stat, true
}

// Flush writes the summary of one session and forgets it.
func (o *UsageObserver) Flush(streamID string) error {
	o.mu.Lock()
	stat := o.stats[streamID]
	delete(o.stats, streamID)
	o.mu.Unlock()
	if stat == nil {
		return nil
	}
	return o.write(stat)
}

func (o *UsageObserver) Close() error {
	o.mu.Lock()
	stats := o.stats
	o.stats = make(map[string]*UsageSummary)
	o.mu.Unlock()
	var errOut error
	for _, stat := range stats {
		errOut = errors.Join(errOut, o.write(stat))
	}
	return errOut
}

func (o *UsageObserver) write(stat *UsageSummary) error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
	b, err := json.MarshalIndent(stat, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.dir, sanitizeID(stat.StreamID)+usageSuffix), b, 0o644)
}

func msField(fields map[string]any, key string) int64 {
	switch v := fields[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

var _ metrics.Observer = (*UsageObserver)(nil)
