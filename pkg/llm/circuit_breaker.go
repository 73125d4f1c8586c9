package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/resilience"
)

// CircuitBreakerAdapter guards an adapter with a rate-limit breaker. While
// the circuit is open calls fail fast with a RateLimitError, which the
// refine and translate stages already handle as a quota failure.
type CircuitBreakerAdapter struct {
	inner   LLMAdapter
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer

	mu   sync.Mutex
	last resilience.BreakerState
}

func NewCircuitBreakerAdapter(inner LLMAdapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: breaker}
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs = obs }

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	if !a.breaker.Allow() {
		a.transition(req.Mode)
		a.record(metrics.EventBreakerDenied, req.Mode)
		return Response{}, resilience.RateLimitError{Provider: a.Name(), Message: a.Name() + ": circuit open"}
	}
	resp, err := a.inner.Generate(ctx, req)
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit, req.Mode)
		}
		a.breaker.OnError(err)
	} else {
		a.breaker.OnSuccess()
	}
	a.transition(req.Mode)
	return resp, err
}

// transition emits breaker_open and breaker_close when the circuit changes
// between closed and open. Half-open counts as still open.
func (a *CircuitBreakerAdapter) transition(mode Mode) {
	state := a.breaker.State()
	if state == resilience.BreakerHalfOpen {
		state = resilience.BreakerOpen
	}
	a.mu.Lock()
	changed := state != a.last
	a.last = state
	a.mu.Unlock()
	if !changed {
		return
	}
	if state == resilience.BreakerOpen {
		a.record(metrics.EventBreakerOpen, mode)
		return
	}
	a.record(metrics.EventBreakerClose, mode)
}

func (a *CircuitBreakerAdapter) record(name string, mode Mode) {
	if a.obs == nil {
		return
	}
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			"provider":  a.inner.Name(),
			"component": "llm",
			"stage":     string(mode),
		},
	})
}

var _ LLMAdapter = (*CircuitBreakerAdapter)(nil)
