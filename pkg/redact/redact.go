// Package redact masks personal data in transcript text before it reaches
// logs and artifacts. Saved sessions and captions are never redacted.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	// Card candidates are checked with Luhn before masking; anything else
	// of phone length falls through to phoneRe.
	cardRe  = regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
)

func SetEnabled(v bool) { enabled.Store(v) }

func Enabled() bool { return enabled.Load() }

// Text masks emails, card numbers and phone numbers when redaction is on.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = cardRe.ReplaceAllStringFunc(out, func(m string) string {
		if luhn(m) {
			return "[REDACTED_CARD]"
		}
		return m
	})
	return phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
}

// Preview is Text flattened onto one line and clipped to max runes.
func Preview(in string, max int) string {
	out := strings.Join(strings.FieldsFunc(Text(in), unicode.IsSpace), " ")
	if max <= 0 {
		return out
	}
	if r := []rune(out); len(r) > max {
		return string(r[:max]) + "…"
	}
	return out
}

func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
