// Package relay adapts recognition performed outside the process (for
// example by a browser speech engine) to stt.StreamingSTT. Results are
// pushed into the Hub by a transport and delivered to whichever stream the
// recognizer controller started last.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/frames"
)

// Event is the wire form of a relayed recognition result.
type Event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	EventFinal   = "final"
	EventInterim = "interim"
	EventError   = "error"
	EventEnd     = "end"
)

// Frame converts a relayed event into a recognition frame.
func (e Event) Frame(streamID string) (frames.Frame, error) {
	pts := time.Now().UnixNano()
	meta := map[string]string{frames.MetaSource: "relay"}
	switch strings.ToLower(e.Type) {
	case EventFinal:
		return frames.NewTextFrame(streamID, pts, e.Text, true, meta), nil
	case EventInterim:
		return frames.NewTextFrame(streamID, pts, e.Text, false, meta), nil
	case EventError:
		code := e.Code
		if code == "" {
			code = "unknown"
		}
		return frames.NewErrorFrame(streamID, pts, code, e.Message), nil
	case EventEnd:
		return frames.NewControlFrame(streamID, pts, frames.ControlEnd, meta), nil
	default:
		return nil, fmt.Errorf("relay: unknown event type %q", e.Type)
	}
}

// DecodeEvent parses a JSON relay event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("relay: decode event: %w", err)
	}
	return ev, nil
}

type Hub struct {
	streamID string

	mu      sync.Mutex
	current *Stream
}

func NewHub(streamID string) *Hub {
	return &Hub{streamID: streamID}
}

// New creates the stream subsequent pushes are delivered to.
func (h *Hub) New() stt.StreamingSTT {
	s := &Stream{out: make(chan frames.Frame, 128)}
	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
	return s
}

// Push delivers f to the current stream. It reports false when no started
// stream is listening.
func (h *Hub) Push(f frames.Frame) bool {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()
	if s == nil {
		return false
	}
	return s.deliver(f)
}

// PushEvent converts and delivers a relayed event.
func (h *Hub) PushEvent(ev Event) (bool, error) {
	f, err := ev.Frame(h.streamID)
	if err != nil {
		return false, err
	}
	return h.Push(f), nil
}

type Stream struct {
	mu      sync.Mutex
	out     chan frames.Frame
	started bool
	closed  bool
}

func (s *Stream) Name() string { return "relay" }

func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("relay: stream closed")
	}
	s.started = true
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.out)
	return nil
}

func (s *Stream) SendAudio(frame frames.AudioFrame) error { return stt.ErrAudioUnsupported }

func (s *Stream) Results() <-chan frames.Frame { return s.out }

func (s *Stream) deliver(f frames.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	select {
	case s.out <- f:
		return true
	default:
		return false
	}
}

var _ stt.StreamingSTT = (*Stream)(nil)
