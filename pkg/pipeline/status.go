package pipeline

import (
	"context"

	"github.com/harunnryd/juru/pkg/processors"
	"github.com/harunnryd/juru/pkg/recognition"
)

// Status is the view pushed to caption subscribers.
type Status struct {
	SessionID   string     `json:"session_id"`
	State       string     `json:"state"`
	Source      string     `json:"source"`
	Interim     string     `json:"interim,omitempty"`
	Translation string     `json:"translation"`
	Refined     int        `json:"refined"`
	Translated  int        `json:"translated"`
	Velocity    int        `json:"velocity"`
	Busy        bool       `json:"busy"`
	Notice      string     `json:"notice,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
	Context     string     `json:"context,omitempty"`
	RecordedMS  int64      `json:"recorded_ms"`
}

// ErrorInfo is the user-facing recognition error.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Status returns the current session view.
func (s *Session) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.exec(ctx, func() error {
		st = s.status()
		return nil
	})
	return st, err
}

func (s *Session) status() Status {
	st := Status{
		SessionID:   s.ID,
		State:       s.recognizer.State().String(),
		Source:      s.buffer.Text(),
		Interim:     s.buffer.Interim(),
		Translation: s.translation.Text(),
		Refined:     s.refiner.Watermark(),
		Translated:  s.translator.Watermark(),
		Velocity:    s.velocity.Rate(),
		Busy:        s.translator.Busy(),
		Context:     s.Context(),
		RecordedMS:  s.recorded().Milliseconds(),
	}
	if st.Busy {
		st.Notice = processors.BusyMessage
	}
	if s.recognizer.State() == recognition.StateErroring {
		if f, ok := s.recognizer.LastFailure(); ok {
			st.Error = &ErrorInfo{Code: string(f.Code), Message: f.Message, Hint: f.Hint}
		}
	}
	return st
}

// Subscribe returns a channel receiving the latest status after every
// change. Slow subscribers only see the most recent status. The channel is
// closed by cancel or when the session closes.
func (s *Session) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	s.subMu.Lock()
	if s.closed.Load() {
		s.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	s.sched.Post(s.markDirty)

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
	return ch, cancel
}

// markDirty coalesces status publications into one per scheduler turn.
func (s *Session) markDirty() {
	if s.publishPending {
		return
	}
	s.publishPending = true
	s.sched.Post(s.publish)
}

func (s *Session) publish() {
	s.publishPending = false
	if s.closed.Load() {
		return
	}
	st := s.status()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
