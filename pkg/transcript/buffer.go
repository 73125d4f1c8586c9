package transcript

import (
	"strings"
	"sync"
)

type ChangeKind string

const (
	ChangeAppend  ChangeKind = "append"
	ChangeInterim ChangeKind = "interim"
	ChangeSplice  ChangeKind = "splice"
	ChangeEdit    ChangeKind = "edit"
	ChangeCommit  ChangeKind = "commit"
	ChangeBlock   ChangeKind = "block"
	ChangeClear   ChangeKind = "clear"
	ChangeLoad    ChangeKind = "load"
)

// Change describes a buffer mutation delivered to listeners. For splices,
// At and End bound the replaced range in the old text and Delta is the
// resulting length change; offsets at or after End move by Delta.
type Change struct {
	Kind  ChangeKind
	Len   int
	Epoch uint64
	At    int
	End   int
	Delta int
}

// Listener observes buffer mutations. Listeners run synchronously on the
// goroutine that mutated the buffer.
type Listener func(Change)

// Buffer is the source transcript: committed text plus the interim fragment.
// Its length only grows from recognition input; splices, edits and clears
// are the only operations that may shrink it. Every clear or load starts a
// new epoch so results computed against older text can be discarded.
type Buffer struct {
	mu        sync.RWMutex
	text      string
	interim   string
	epoch     uint64
	listeners []Listener
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.text)
}

func (b *Buffer) Interim() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.interim
}

func (b *Buffer) Epoch() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.epoch
}

// Slice returns text[from:to] clamped to the buffer bounds.
func (b *Buffer) Slice(from, to int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	from, to = clamp(from, len(b.text)), clamp(to, len(b.text))
	if from >= to {
		return ""
	}
	return b.text[from:to]
}

func (b *Buffer) OnChange(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// AppendFinal segments a finalized chunk and appends its units. A unit that
// opens a sentence is capitalized. The interim fragment is cleared. It
// returns the number of units appended.
func (b *Buffer) AppendFinal(chunk string) int {
	units := SplitUnits(chunk)
	b.mu.Lock()
	for _, u := range units {
		if StartsSentence(b.text) {
			u = Capitalize(u)
		}
		b.text += Separator(b.text) + u
	}
	b.interim = ""
	b.mu.Unlock()
	b.notify(ChangeAppend)
	return len(units)
}

// SetInterim replaces the interim fragment wholesale.
func (b *Buffer) SetInterim(text string) {
	b.mu.Lock()
	if b.interim == text {
		b.mu.Unlock()
		return
	}
	b.interim = text
	b.mu.Unlock()
	b.notify(ChangeInterim)
}

// CommitSilence ensures the buffer ends with terminal punctuation and a blank
// line. It reports whether the buffer changed.
func (b *Buffer) CommitSilence() bool {
	b.mu.Lock()
	out, ok := SilenceTail(b.text)
	if ok {
		b.text = out
	}
	b.mu.Unlock()
	if ok {
		b.notify(ChangeCommit)
	}
	return ok
}

// Splice replaces text[at:end] with corrected, joined to the head by a
// single space unless the head is empty or ends in a newline. Text after end
// is kept. It returns the offset where the corrected text ends.
func (b *Buffer) Splice(at, end int, corrected string) int {
	b.mu.Lock()
	at, end = clamp(at, len(b.text)), clamp(end, len(b.text))
	if end < at {
		end = at
	}
	head := strings.TrimRight(b.text[:at], " \t")
	tail := b.text[end:]
	sep := " "
	if head == "" || strings.HasSuffix(head, "\n") {
		sep = ""
	}
	old := len(b.text)
	b.text = head + sep + corrected + tail
	mark := len(head) + len(sep) + len(corrected)
	ev := Change{Kind: ChangeSplice, Len: len(b.text), Epoch: b.epoch, At: len(head), End: end, Delta: len(b.text) - old}
	b.mu.Unlock()
	b.emit(ev)
	return mark
}

// Edit replaces the whole text (manual user edit).
func (b *Buffer) Edit(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
	b.notify(ChangeEdit)
}

// AppendBlock appends a tagged block, e.g. an uploaded file transcript, as
// its own paragraph.
func (b *Buffer) AppendBlock(tag, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	b.mu.Lock()
	var sb strings.Builder
	sb.WriteString(b.text)
	if b.text != "" && !strings.HasSuffix(b.text, "\n\n") {
		if strings.HasSuffix(b.text, "\n") {
			sb.WriteString("\n")
		} else {
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("[" + tag + "]\n")
	sb.WriteString(body)
	sb.WriteString("\n\n")
	b.text = sb.String()
	b.mu.Unlock()
	b.notify(ChangeBlock)
}

// Clear empties the buffer and starts a new epoch.
func (b *Buffer) Clear() uint64 {
	return b.reset("", ChangeClear)
}

// Load replaces the buffer with restored text and starts a new epoch.
func (b *Buffer) Load(text string) uint64 {
	return b.reset(text, ChangeLoad)
}

func (b *Buffer) reset(text string, kind ChangeKind) uint64 {
	b.mu.Lock()
	b.text = text
	b.interim = ""
	b.epoch++
	epoch := b.epoch
	b.mu.Unlock()
	b.notify(kind)
	return epoch
}

func (b *Buffer) notify(kind ChangeKind) {
	b.mu.RLock()
	ev := Change{Kind: kind, Len: len(b.text), Epoch: b.epoch}
	b.mu.RUnlock()
	b.emit(ev)
}

func (b *Buffer) emit(ev Change) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
