package resilience

import (
	"fmt"
	"net/http"
)

// UpstreamError is a 5xx or 408 from a vendor. It satisfies net.Error so
// classification treats it as a transient network failure.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Message)
}

func (e UpstreamError) Timeout() bool   { return e.Status == http.StatusRequestTimeout }
func (e UpstreamError) Temporary() bool { return true }

// IsUpstreamStatus reports whether status should surface as UpstreamError.
func IsUpstreamStatus(status int) bool {
	return status == http.StatusRequestTimeout || (status >= 500 && status <= 599)
}
