package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderMarkdown(t *testing.T) {
	created := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	out, err := RenderMarkdown(Document{
		ID:          "abc",
		Title:       "Weekly sync",
		CreatedAt:   created,
		Duration:    95*time.Second + 300*time.Millisecond,
		Context:     "Engineering standup\nProduct names: Juru",
		Source:      "Hello world this is a test.\n\n",
		Translation: "Halo dunia.",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"+++\n",
		"# Weekly sync\n",
		"> Engineering standup\n> Product names: Juru\n",
		"## Transcript\n\nHello world this is a test.\n",
		"## Translation\n\nHalo dunia.\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	doc, err := ParseFrontMatter(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Title != "Weekly sync" || doc.ID != "abc" || !doc.CreatedAt.Equal(created) || doc.Duration != 95*time.Second {
		t.Fatalf("unexpected front matter %+v", doc)
	}
}

func TestRenderMarkdownDefaults(t *testing.T) {
	out, err := RenderMarkdown(Document{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "# Live Transcript") || !strings.Contains(out, "_empty_") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "## Translation") {
		t.Fatalf("expected no translation section")
	}
}
