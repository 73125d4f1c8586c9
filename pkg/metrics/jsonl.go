package metrics

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONLObserver appends one JSON object per event: name, RFC 3339 time and
// value, then tags and fields flattened into the same object. Tags win over
// fields of the same key. Output is buffered until Flush.
type JSONLObserver struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
	err error
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	return &JSONLObserver{buf: buf, enc: json.NewEncoder(buf)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	rec := make(map[string]any, 3+len(ev.Tags)+len(ev.Fields))
	for k, v := range ev.Fields {
		rec[k] = v
	}
	for k, v := range ev.Tags {
		rec[k] = v
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec["name"] = ev.Name
	rec["time"] = ts.UTC().Format(time.RFC3339Nano)
	rec["value"] = ev.Value

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err == nil {
		o.err = o.enc.Encode(rec)
	}
}

// Flush writes buffered events and reports the first encode or write error.
func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.buf.Flush(); err != nil && o.err == nil {
		o.err = err
	}
	return o.err
}

var _ Flusher = (*JSONLObserver)(nil)
