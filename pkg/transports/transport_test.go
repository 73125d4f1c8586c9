package transports

import (
	"net/http/httptest"
	"testing"
)

func TestOriginChecker(t *testing.T) {
	check := OriginChecker(false, []string{"https://app.example.com", "captions.example.org"})
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://app.example.com/", true},
		{"http://app.example.com", false},
		{"https://captions.example.org", true},
		{"http://captions.example.org", true},
		{"https://evil.example.net", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := check(r); got != tc.want {
			t.Fatalf("origin %q: got %v want %v", tc.origin, got, tc.want)
		}
	}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.test")
	if !OriginChecker(true, nil)(r) {
		t.Fatalf("expected allow-any to pass")
	}
}
