package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/harunnryd/juru/pkg/llm"
)

// LLMAdapter answers with Fn, or echoes the request text upper-cased on the
// first letter when Fn is nil. When Gate is set, every call blocks until a
// value is sent on it or the context ends.
type LLMAdapter struct {
	Fn   func(req llm.Request) (llm.Response, error)
	Gate chan struct{}

	mu       sync.Mutex
	requests []llm.Request
	entered  chan struct{}
}

func NewLLM(fn func(req llm.Request) (llm.Response, error)) *LLMAdapter {
	return &LLMAdapter{Fn: fn, entered: make(chan struct{}, 64)}
}

// Reply returns a mock answering every call with text.
func Reply(text string) *LLMAdapter {
	return NewLLM(func(llm.Request) (llm.Response, error) {
		return llm.Response{Text: text}, nil
	})
}

func (m *LLMAdapter) Name() string { return "mock_llm" }

func (m *LLMAdapter) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	entered := m.entered
	m.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	if m.Fn != nil {
		return m.Fn(req)
	}
	text := req.Text
	if text != "" {
		text = strings.ToUpper(text[:1]) + text[1:]
	}
	return llm.Response{Text: text}, nil
}

// Entered fires once per call as soon as the call starts.
func (m *LLMAdapter) Entered() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entered == nil {
		m.entered = make(chan struct{}, 64)
	}
	return m.entered
}

func (m *LLMAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *LLMAdapter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

var _ llm.LLMAdapter = (*LLMAdapter)(nil)
