// Package resilience holds the failure types remote vendors report and the
// guards the pipeline puts around them.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError is a quota or 429 answer from a vendor.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Provider != "":
		return e.Provider + ": rate limited"
	default:
		return "rate limited"
	}
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker opens after threshold consecutive rate limits. Once the
// cooldown has passed a single probe call is let through; its outcome
// closes or reopens the circuit. Other errors leave the breaker alone.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state     BreakerState
	strikes   int
	openUntil time.Time
	probing   bool
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may go out now.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.current() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return false
	}
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current()
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.state = BreakerClosed
	c.strikes = 0
	c.probing = false
	c.mu.Unlock()
}

func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current() == BreakerHalfOpen {
		c.probing = false
		if IsRateLimit(err) {
			c.trip()
		} else {
			c.state = BreakerClosed
			c.strikes = 0
		}
		return
	}
	if !IsRateLimit(err) {
		return
	}
	c.strikes++
	if c.strikes >= c.threshold {
		c.trip()
	}
}

func (c *CircuitBreaker) trip() {
	c.state = BreakerOpen
	c.openUntil = c.now().Add(c.cooldown)
}

func (c *CircuitBreaker) current() BreakerState {
	if c.state == BreakerOpen && !c.now().Before(c.openUntil) {
		c.state = BreakerHalfOpen
	}
	return c.state
}
