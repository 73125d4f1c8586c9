package transcript

import (
	"strings"
	"testing"
)

func TestSplitUnits(t *testing.T) {
	got := SplitUnits("  hello there. how are you?fine!  and you ")
	want := []string{"hello there.", "how are you?", "fine!", "and you"}
	if len(got) != len(want) {
		t.Fatalf("expected %d units, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unit %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitUnitsDropsEmpty(t *testing.T) {
	if got := SplitUnits(" . ..  "); len(got) != 3 {
		t.Fatalf("expected punctuation-only units kept as text, got %q", got)
	}
	if got := SplitUnits("   "); len(got) != 0 {
		t.Fatalf("expected no units for blank chunk, got %q", got)
	}
}

func TestCapitalize(t *testing.T) {
	cases := map[string]string{
		"hello": "Hello",
		"Hello": "Hello",
		"élan":  "Élan",
		"":      "",
		"1 two": "1 two",
	}
	for in, want := range cases {
		if got := Capitalize(in); got != want {
			t.Fatalf("Capitalize(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestSeparatorBreaks(t *testing.T) {
	line81 := strings.Repeat("a", 80) + "."
	if got := Separator(line81); got != "\n" {
		t.Fatalf("81 char terminated line: expected newline, got %q", got)
	}
	line50 := strings.Repeat("a", 49) + "."
	if got := Separator(line50); got != " " {
		t.Fatalf("50 char terminated line: expected space, got %q", got)
	}
	line161 := strings.Repeat("a", 161)
	if got := Separator(line161); got != "\n" {
		t.Fatalf("161 char line: expected newline, got %q", got)
	}
	line100 := strings.Repeat("a", 100)
	if got := Separator(line100); got != " " {
		t.Fatalf("100 char unterminated line: expected space, got %q", got)
	}
	if got := Separator(""); got != "" {
		t.Fatalf("empty buffer: expected no separator, got %q", got)
	}
	if got := Separator("Done.\n\n"); got != "" {
		t.Fatalf("fresh paragraph: expected no separator, got %q", got)
	}
}

func TestSeparatorUsesLastLineOnly(t *testing.T) {
	buf := strings.Repeat("b", 200) + "\nshort."
	if got := Separator(buf); got != " " {
		t.Fatalf("expected space for short last line, got %q", got)
	}
}

func TestSilenceTail(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Hello world", "Hello world.\n\n", true},
		{"Hello world.", "Hello world.\n\n", true},
		{"Hello world?  ", "Hello world?\n\n", true},
		{"Hello world.\n\n", "Hello world.\n\n", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := SilenceTail(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("SilenceTail(%q): expected (%q,%v), got (%q,%v)", tc.in, tc.want, tc.ok, got, ok)
		}
	}
}
