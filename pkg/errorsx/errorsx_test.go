package errorsx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/harunnryd/juru/pkg/resilience"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonRemoteFatal)
	if Reason(err) != ReasonRemoteFatal {
		t.Fatalf("expected reason %s, got %s", ReasonRemoteFatal, Reason(err))
	}
	if !HasReason(fmt.Errorf("translate: %w", err), ReasonRemoteFatal) {
		t.Fatalf("expected HasReason through a wrapping error")
	}
	if !errors.Is(err, ReasonRemoteFatal) || errors.Is(err, ReasonStoreSave) {
		t.Fatalf("expected errors.Is to match only the attached reason")
	}
	if err.Error() != "boom" {
		t.Fatalf("expected underlying message, got %q", err.Error())
	}
	if Wrap(nil, ReasonStoreSave) != nil || Reason(nil) != ReasonUnknown {
		t.Fatalf("nil errors carry no reason")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonStoreSave)
	second := Wrap(first, ReasonRemoteFatal)
	if Reason(second) != ReasonStoreSave {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ReasonCode
	}{
		{"rate limit", resilience.RateLimitError{Provider: "openai"}, ReasonRemoteRateLimited},
		{"wrapped rate limit", fmt.Errorf("refine: %w", resilience.RateLimitError{}), ReasonRemoteRateLimited},
		{"upstream 503", resilience.UpstreamError{Provider: "gemini", Status: 503}, ReasonRemoteTransient},
		{"deadline", context.DeadlineExceeded, ReasonRemoteTransient},
		{"plain", assertErr{}, ReasonRemoteFatal},
		{"explicit", Wrap(assertErr{}, ReasonRemoteEmpty), ReasonRemoteEmpty},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
