package transcript

import (
	"strings"
	"sync"
)

// BatchSeparator marks where a batch pass was appended to the translation.
const BatchSeparator = "\n\n──────── batch processed ────────\n\n"

// Translation is the append-only translated output. Only user edits rewrite it.
type Translation struct {
	mu        sync.RWMutex
	text      string
	listeners []func()
}

func NewTranslation() *Translation {
	return &Translation{}
}

func (t *Translation) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text
}

// AppendIncremental appends a segment on its own line.
func (t *Translation) AppendIncremental(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}
	t.mu.Lock()
	if t.text != "" && !strings.HasSuffix(t.text, "\n") {
		t.text += "\n"
	}
	t.text += segment
	t.mu.Unlock()
	t.notify()
}

// AppendBatch appends a batch result after the batch separator.
func (t *Translation) AppendBatch(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}
	t.mu.Lock()
	t.text = strings.TrimRight(t.text, "\n") + BatchSeparator + segment
	t.mu.Unlock()
	t.notify()
}

func (t *Translation) Set(text string) {
	t.mu.Lock()
	t.text = text
	t.mu.Unlock()
	t.notify()
}

// OnChange registers fn to run after every mutation.
func (t *Translation) OnChange(fn func()) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Translation) notify() {
	t.mu.RLock()
	listeners := make([]func(), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func (t *Translation) Clear() {
	t.Set("")
}
