package errorsx

import (
	"context"
	"errors"
	"net"

	"github.com/harunnryd/juru/pkg/resilience"
)

// Classify maps a remote capability error onto the remote failure taxonomy.
// An explicit reason attached with Wrap wins.
func Classify(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	if r := Reason(err); r != ReasonUnknown {
		return r
	}
	if resilience.IsRateLimit(err) {
		return ReasonRemoteRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonRemoteTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return ReasonRemoteTransient
	}
	return ReasonRemoteFatal
}
