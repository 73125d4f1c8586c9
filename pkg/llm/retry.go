package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/harunnryd/juru/pkg/resilience"
)

// RetryConfig controls Retry. The wait before retry n (counting from 0) is
// BaseDelay<<n capped at MaxDelay, plus up to Jitter of itself.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep replaces the real wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Delay returns the wait before retry n.
func (c RetryConfig) Delay(n int) time.Duration {
	c = c.withDefaults()
	d := c.MaxDelay
	if n < 32 {
		if step := c.BaseDelay << n; step > 0 && step < c.MaxDelay {
			d = step
		}
	}
	if c.Jitter > 0 {
		d += time.Duration(float64(d) * c.Jitter * rand.Float64())
	}
	return d
}

// Retry calls fn until it succeeds, returns an error IsRetryable rejects,
// or MaxAttempts is used up. The final error wraps the last failure.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (Response, error)) (Response, error) {
	cfg = cfg.withDefaults()
	var last error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		last = err
		if !cfg.IsRetryable(err) {
			break
		}
		if attempt == cfg.MaxAttempts-1 {
			if attempt == 0 {
				break
			}
			return Response{}, fmt.Errorf("gave up after %d attempts: %w", cfg.MaxAttempts, err)
		}
		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	return Response{}, last
}

// RateLimitOnly retries quota failures and nothing else.
func RateLimitOnly(err error) bool {
	return resilience.IsRateLimit(err)
}

// DefaultIsRetryable retries rate limits and network failures but never a
// cancelled or expired context.
func DefaultIsRetryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case resilience.IsRateLimit(err):
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
