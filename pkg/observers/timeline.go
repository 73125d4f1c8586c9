package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/redact"
)

const timelineSuffix = ".timeline.jsonl"

// TimelineObserver writes the events of each session to
// <dir>/<session>.timeline.jsonl, one line per event, with the offset from
// the session's first event so a caption run can be replayed against its
// recording. String fields pass through redaction.
type TimelineObserver struct {
	dir string

	mu    sync.Mutex
	files map[string]*timelineFile
}

type timelineFile struct {
	f     *os.File
	enc   *json.Encoder
	start time.Time
}

type timelineEntry struct {
	OffsetMS int64             `json:"t_ms"`
	Event    string            `json:"event"`
	Value    float64           `json:"value,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Fields   map[string]any    `json:"fields,omitempty"`
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*timelineFile)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := sanitizeID(ev.Tags["stream_id"])
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	var tags map[string]string
	for k, v := range ev.Tags {
		if k == "stream_id" {
			continue
		}
		if tags == nil {
			tags = make(map[string]string, len(ev.Tags))
		}
		tags[k] = v
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	tf := o.open(id, at)
	if tf == nil {
		return
	}
	_ = tf.enc.Encode(timelineEntry{
		OffsetMS: at.Sub(tf.start).Milliseconds(),
		Event:    ev.Name,
		Value:    ev.Value,
		Tags:     tags,
		Fields:   redactFields(ev.Fields),
	})
}

// Release closes one session's file. A later event for the same session
// appends to it with a fresh start offset.
func (o *TimelineObserver) Release(streamID string) error {
	id := sanitizeID(streamID)
	o.mu.Lock()
	tf := o.files[id]
	delete(o.files, id)
	o.mu.Unlock()
	if tf == nil {
		return nil
	}
	return tf.f.Close()
}

func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for id, tf := range o.files {
		err = errors.Join(err, tf.f.Close())
		delete(o.files, id)
	}
	return err
}

func (o *TimelineObserver) open(id string, at time.Time) *timelineFile {
	if tf := o.files[id]; tf != nil {
		return tf
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, id+timelineSuffix), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	tf := &timelineFile{f: f, enc: json.NewEncoder(f), start: at}
	o.files[id] = tf
	return tf
}

// sanitizeID keeps session ids usable as file names.
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, id)
}

func redactFields(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			v = redact.Text(s)
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
