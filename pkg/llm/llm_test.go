package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/juru/pkg/metrics"
	"github.com/harunnryd/juru/pkg/resilience"
)

type scriptedAdapter struct {
	errs  []error
	calls int
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	return Response{Text: "ok"}, nil
}

func TestRetryBacksOffOnRateLimit(t *testing.T) {
	a := &scriptedAdapter{errs: []error{resilience.RateLimitError{}, resilience.RateLimitError{}}}
	var delays []time.Duration
	cfg := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		IsRetryable: RateLimitOnly,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	}
	resp, err := Retry(context.Background(), cfg, func(ctx context.Context) (Response, error) {
		return a.Generate(ctx, Request{})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" || a.calls != 3 {
		t.Fatalf("expected success on third call, got %q after %d", resp.Text, a.calls)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("expected doubling delays [1s 2s], got %v", delays)
	}
}

func TestRetryDelayCapsAndJitters(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for n, w := range want {
		if got := cfg.Delay(n); got != w {
			t.Fatalf("delay %d: got %v want %v", n, got, w)
		}
	}
	if got := cfg.Delay(80); got != 5*time.Second {
		t.Fatalf("large attempts must not overflow, got %v", got)
	}
	cfg.Jitter = 0.5
	for i := 0; i < 20; i++ {
		if got := cfg.Delay(0); got < time.Second || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetryReportsAttempts(t *testing.T) {
	rl := resilience.RateLimitError{}
	a := &scriptedAdapter{errs: []error{rl}}
	var seen []int
	cfg := RetryConfig{
		MaxAttempts: 3,
		IsRetryable: RateLimitOnly,
		OnRetry:     func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	if _, err := Retry(context.Background(), cfg, func(ctx context.Context) (Response, error) {
		return a.Generate(ctx, Request{})
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("expected one retry hook call, got %v", seen)
	}
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	a := &scriptedAdapter{errs: []error{errors.New("bad request")}}
	cfg := RetryConfig{MaxAttempts: 3, IsRetryable: RateLimitOnly, Sleep: func(context.Context, time.Duration) error { return nil }}
	_, err := Retry(context.Background(), cfg, func(ctx context.Context) (Response, error) {
		return a.Generate(ctx, Request{})
	})
	if err == nil || a.calls != 1 {
		t.Fatalf("expected single failing call, got calls=%d err=%v", a.calls, err)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	rl := resilience.RateLimitError{}
	a := &scriptedAdapter{errs: []error{rl, rl, rl, rl}}
	cfg := RetryConfig{MaxAttempts: 3, IsRetryable: RateLimitOnly, Sleep: func(context.Context, time.Duration) error { return nil }}
	_, err := Retry(context.Background(), cfg, func(ctx context.Context) (Response, error) {
		return a.Generate(ctx, Request{})
	})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected wrapped rate limit error, got %v", err)
	}
	if a.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", a.calls)
	}
}

func TestCircuitBreakerAdapterFailsFast(t *testing.T) {
	rl := resilience.RateLimitError{}
	inner := &scriptedAdapter{errs: []error{rl, rl}}
	obs := metrics.NewMemoryObserver()
	a := NewCircuitBreakerAdapter(inner, resilience.NewCircuitBreaker(2, time.Minute))
	a.SetObserver(obs)
	for i := 0; i < 2; i++ {
		if _, err := a.Generate(context.Background(), Request{Mode: ModeTranslate}); err == nil {
			t.Fatalf("expected error on call %d", i)
		}
	}
	if _, err := a.Generate(context.Background(), Request{Mode: ModeTranslate}); !resilience.IsRateLimit(err) {
		t.Fatalf("expected degraded rate limit error, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected breaker to stop calls to inner adapter, got %d", inner.calls)
	}
	if obs.Count(metrics.EventBreakerDenied) != 1 || obs.Count(metrics.EventBreakerOpen) != 1 {
		t.Fatalf("expected one breaker_open and one breaker_denied event")
	}
}

func TestInstructionsRender(t *testing.T) {
	in := DefaultInstructions()
	text, err := in.Render(ModeTranslate, InstructionData{Context: "  medical lecture ", TargetLanguage: "Indonesian"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(text, "into Indonesian") || !strings.Contains(text, "Session context: medical lecture") {
		t.Fatalf("unexpected instructions %q", text)
	}
	refine, _ := in.Render(ModeRefine, InstructionData{})
	if strings.Contains(refine, "Session context") {
		t.Fatalf("empty context must not be rendered: %q", refine)
	}
	if !strings.Contains(refine, "Do not paraphrase") {
		t.Fatalf("refine instruction missing guard: %q", refine)
	}
}

func TestInstructionsCustomTemplate(t *testing.T) {
	in, err := NewInstructions("Fix: {{.Context}}", "", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, _ := in.Render(ModeRefine, InstructionData{Context: "law"})
	if got != "Fix: law" {
		t.Fatalf("expected custom template, got %q", got)
	}
	if _, err := NewInstructions("{{.Broken", "", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
