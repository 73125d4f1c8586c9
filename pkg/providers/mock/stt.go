package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/frames"
)

// STTAdapter is a scripted recognizer. Tests push results with Emit and
// inspect the audio it received.
type STTAdapter struct {
	mu       sync.Mutex
	out      chan frames.Frame
	started  bool
	closed   bool
	StartErr error
	audio    []frames.AudioFrame
	starts   int
}

func NewSTT() *STTAdapter {
	return &STTAdapter{out: make(chan frames.Frame, 64)}
}

func (m *STTAdapter) Name() string { return "mock_stt" }

func (m *STTAdapter) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.StartErr != nil {
		return m.StartErr
	}
	m.started = true
	return nil
}

func (m *STTAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.out)
	return nil
}

func (m *STTAdapter) SendAudio(frame frames.AudioFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = append(m.audio, frame)
	return nil
}

func (m *STTAdapter) Results() <-chan frames.Frame { return m.out }

// Emit delivers a result as if the backend produced it. It is a no-op after
// Close.
func (m *STTAdapter) Emit(f frames.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.out <- f
}

func (m *STTAdapter) Final(text string) {
	m.Emit(frames.NewTextFrame("", 0, text, true, nil))
}

func (m *STTAdapter) Interim(text string) {
	m.Emit(frames.NewTextFrame("", 0, text, false, nil))
}

func (m *STTAdapter) Fail(code string) {
	m.Emit(frames.NewErrorFrame("", 0, code, code))
}

// End simulates the backend closing cleanly.
func (m *STTAdapter) End() { _ = m.Close() }

func (m *STTAdapter) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *STTAdapter) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *STTAdapter) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *STTAdapter) Audio() []frames.AudioFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]frames.AudioFrame(nil), m.audio...)
}

// STTFactory hands out a fresh scripted recognizer per session start and
// remembers each one.
type STTFactory struct {
	mu       sync.Mutex
	sessions []*STTAdapter
}

func (f *STTFactory) New() stt.StreamingSTT {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := NewSTT()
	f.sessions = append(f.sessions, s)
	return s
}

// Latest returns the most recently created recognizer, or nil.
func (f *STTFactory) Latest() *STTAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *STTFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

var _ stt.StreamingSTT = (*STTAdapter)(nil)
