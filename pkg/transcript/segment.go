package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// SoftBreak is the line length after which a sentence-terminated line is
	// followed by a newline instead of a space.
	SoftBreak = 80
	// HardBreak is the line length after which a newline is inserted
	// regardless of punctuation.
	HardBreak = 160
)

// SplitUnits splits a finalized recognition chunk into sentence-like units.
// A unit runs up to and including '.', '!' or '?'; trailing text without a
// terminator forms the last unit. Units are trimmed and empty units dropped.
func SplitUnits(chunk string) []string {
	var units []string
	start := 0
	for i, r := range chunk {
		if isTerminal(r) {
			units = appendUnit(units, chunk[start:i+utf8.RuneLen(r)])
			start = i + utf8.RuneLen(r)
		}
	}
	if start < len(chunk) {
		units = appendUnit(units, chunk[start:])
	}
	return units
}

func appendUnit(units []string, raw string) []string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return units
	}
	return append(units, u)
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return s
	}
	up := unicode.ToUpper(r)
	if up == r {
		return s
	}
	return string(up) + s[size:]
}

// Separator returns the text to insert before appending a new unit to buf.
func Separator(buf string) string {
	if buf == "" || strings.HasSuffix(buf, "\n") {
		return ""
	}
	line := LastLine(buf)
	n := utf8.RuneCountInString(line)
	if n > HardBreak {
		return "\n"
	}
	if n > SoftBreak && EndsWithTerminal(line) {
		return "\n"
	}
	return " "
}

// StartsSentence reports whether text appended to buf begins a new sentence.
func StartsSentence(buf string) bool {
	return strings.TrimSpace(buf) == "" || strings.HasSuffix(buf, "\n") || EndsWithTerminal(buf)
}

// LastLine returns the text after the last newline in buf.
func LastLine(buf string) string {
	if i := strings.LastIndexByte(buf, '\n'); i >= 0 {
		return buf[i+1:]
	}
	return buf
}

// EndsWithTerminal reports whether s, ignoring trailing whitespace, ends in
// sentence punctuation.
func EndsWithTerminal(s string) bool {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	r, size := utf8.DecodeLastRuneInString(s)
	return size > 0 && isTerminal(r)
}

// SilenceTail returns buf rewritten so that it ends with a paragraph break
// after terminal punctuation. ok is false when buf needs no change.
func SilenceTail(buf string) (out string, ok bool) {
	if strings.TrimSpace(buf) == "" || strings.HasSuffix(buf, "\n\n") {
		return buf, false
	}
	trimmed := strings.TrimRightFunc(buf, unicode.IsSpace)
	if EndsWithTerminal(trimmed) {
		return trimmed + "\n\n", true
	}
	return trimmed + ".\n\n", true
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
