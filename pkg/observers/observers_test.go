package observers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/redact"
)

func event(name string, at time.Time, value float64, tags map[string]string) metrics.MetricsEvent {
	if tags == nil {
		tags = map[string]string{}
	}
	tags["stream_id"] = "sess-1"
	return metrics.MetricsEvent{Name: name, Time: at, Value: value, Tags: tags}
}

func TestTimelineObserverWritesJSONL(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	ev := event(metrics.EventRefineFailed, time.Now(), 0, map[string]string{"reason": "remote_timeout"})
	ev.Fields = map[string]any{"note": "mail me at a@b.co"}
	obs.RecordEvent(ev)
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventBreakerOpen, Time: time.Now()})
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "sess-1.timeline.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"event":"refine_failed"`) || !strings.Contains(lines[0], "[REDACTED_EMAIL]") {
		t.Fatalf("unexpected line %s", lines[0])
	}
	if strings.Contains(lines[0], "stream_id") {
		t.Fatalf("stream id belongs in the file name: %s", lines[0])
	}
}

func TestTimelineOffsets(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	t0 := time.Unix(500, 0)
	obs.RecordEvent(event(metrics.EventSilenceCommit, t0, 0, nil))
	obs.RecordEvent(event(metrics.EventRefineRequest, t0.Add(1500*time.Millisecond), 42, nil))
	if err := obs.Release("sess-1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "sess-1.timeline.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var offsets []int64
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		var entry struct {
			OffsetMS int64 `json:"t_ms"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		offsets = append(offsets, entry.OffsetMS)
	}
	if len(offsets) != 2 || offsets[0] != 0 || offsets[1] != 1500 {
		t.Fatalf("unexpected offsets %v", offsets)
	}
}

func TestLatencyObserverPairsRequests(t *testing.T) {
	obs := NewLatencyObserver(nil)
	t0 := time.Unix(100, 0)
	obs.RecordEvent(event(metrics.EventRefineRequest, t0, 40, nil))
	obs.RecordEvent(event(metrics.EventRefineDone, t0.Add(300*time.Millisecond), 40, nil))
	obs.RecordEvent(event(metrics.EventRefineRequest, t0.Add(time.Second), 40, nil))
	obs.RecordEvent(event(metrics.EventRefineDone, t0.Add(1100*time.Millisecond), 80, nil))
	obs.RecordEvent(event(metrics.EventTranslateRequest, t0, 10, nil))
	obs.RecordEvent(event(metrics.EventTranslateFailed, t0.Add(time.Second), 0, nil))
	// A completion without a pending request is ignored.
	obs.RecordEvent(event(metrics.EventTranslateDone, t0.Add(2*time.Second), 0, nil))

	refine, ok := obs.Stage("sess-1", "refine")
	if !ok || refine.Count != 2 || refine.Max != 300*time.Millisecond || refine.Mean() != 200*time.Millisecond {
		t.Fatalf("unexpected refine latency %+v", refine)
	}
	translate, _ := obs.Stage("sess-1", "translate")
	if translate.Count != 0 || translate.Failed != 1 {
		t.Fatalf("unexpected translate latency %+v", translate)
	}
	obs.Forget("sess-1")
	if _, ok := obs.Stage("sess-1", "refine"); ok {
		t.Fatalf("expected stats dropped after Forget")
	}
}

func TestUsageObserverFlush(t *testing.T) {
	dir := t.TempDir()
	obs := NewUsageObserver(dir)
	obs.RecordEvent(event(metrics.EventRefineRequest, time.Now(), 120, nil))
	obs.RecordEvent(event(metrics.EventTranslateRequest, time.Now(), 50, map[string]string{"mode": "translate"}))
	obs.RecordEvent(event(metrics.EventTranslateRequest, time.Now(), 500, map[string]string{"mode": "batch"}))
	obs.RecordEvent(event(metrics.EventTranslateFailed, time.Now(), 0, map[string]string{"reason": "remote_rate_limited"}))
	ev := event(metrics.EventTranscribeDone, time.Now(), 14, nil)
	ev.Fields = map[string]any{"audio_ms": int64(1500)}
	obs.RecordEvent(ev)

	if err := obs.Flush("sess-1"); err != nil {
		t.Fatalf("flush: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "sess-1.usage.json"))
	if err != nil {
		t.Fatalf("read usage: %v", err)
	}
	var got UsageSummary
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RefineRequests != 1 || got.RefineChars != 120 || got.TranslateRequests != 1 || got.BatchRequests != 1 ||
		got.TranslateChars != 550 || got.Failures != 1 || got.RateLimited != 1 || got.TranscribedSeconds != 1.5 {
		t.Fatalf("unexpected summary %+v", got)
	}
	if _, ok := obs.Summary("sess-1"); ok {
		t.Fatalf("expected summary forgotten after flush")
	}
}

func TestPurgeArtifacts(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.timeline.jsonl")
	oldUsage := filepath.Join(dir, "old.usage.json")
	foreign := filepath.Join(dir, "notes.txt")
	fresh := filepath.Join(dir, "fresh.timeline.jsonl")
	past := time.Now().Add(-48 * time.Hour)
	for _, p := range []string{old, oldUsage, foreign, fresh} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if p != fresh {
			if err := os.Chtimes(p, past, past); err != nil {
				t.Fatalf("chtimes: %v", err)
			}
		}
	}
	n, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil || n != 2 {
		t.Fatalf("expected two removals, got %d err=%v", n, err)
	}
	for _, p := range []string{fresh, foreign} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed: %v", p, err)
		}
	}
	if n, err := PurgeArtifacts(filepath.Join(dir, "missing"), time.Hour); n != 0 || err != nil {
		t.Fatalf("expected missing dir to be ignored, got %d %v", n, err)
	}
}

func TestLoggerObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLoggerObserver(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	obs.RecordEvent(event(metrics.EventVelocitySample, time.Now(), 12, nil))
	obs.RecordEvent(event(metrics.EventTranslateFailed, time.Now(), 0, map[string]string{"reason": "remote_fatal"}))
	out := buf.String()
	if strings.Contains(out, "velocity_sample") {
		t.Fatalf("debug events must be filtered: %s", out)
	}
	if !strings.Contains(out, "msg=translate_failed") || !strings.Contains(out, "reason=remote_fatal") {
		t.Fatalf("unexpected log %s", out)
	}
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := metrics.NewMemoryObserver(), metrics.NewMemoryObserver()
	NewMultiObserver(a, nil, b).RecordEvent(event(metrics.EventVelocitySample, time.Now(), 3, nil))
	if a.Count(metrics.EventVelocitySample) != 1 || b.Count(metrics.EventVelocitySample) != 1 {
		t.Fatalf("expected both observers to receive the event")
	}
}
