package transports

import (
	"context"
	"net/http"
	"strings"
)

// Transport is a network surface that feeds sessions and streams their
// captions. Implementations own their network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// ReadyReporter allows transports to expose readiness metadata such as
// listen addresses and webhook URLs. Used for startup logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}

// OriginChecker returns a websocket origin check. Requests without an
// Origin header always pass. Allowed entries are either full origins
// ("https://app.example.com") or bare hosts ("app.example.com").
func OriginChecker(allowAny bool, allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowAny {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		origin = strings.TrimRight(origin, "/")
		originHost := strings.TrimPrefix(origin, "https://")
		originHost = strings.TrimPrefix(originHost, "http://")
		for _, a := range allowed {
			a = strings.TrimRight(strings.TrimSpace(a), "/")
			if a == "" {
				continue
			}
			if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
				if strings.EqualFold(a, origin) {
					return true
				}
				continue
			}
			if strings.EqualFold(a, originHost) {
				return true
			}
		}
		return false
	}
}
