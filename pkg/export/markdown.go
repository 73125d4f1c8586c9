// Package export renders sessions as Markdown documents.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Document struct {
	ID          string
	Title       string
	CreatedAt   time.Time
	Duration    time.Duration
	Context     string
	Source      string
	Translation string
	// Languages and vendors are informational front matter.
	SourceLanguage string
	TargetLanguage string
	Backend        string
	Model          string
}

type frontMatter struct {
	ID             string    `toml:"id,omitempty"`
	Title          string    `toml:"title"`
	Created        time.Time `toml:"created"`
	Duration       string    `toml:"duration,omitempty"`
	SourceLanguage string    `toml:"source_language,omitempty"`
	TargetLanguage string    `toml:"target_language,omitempty"`
	Backend        string    `toml:"backend,omitempty"`
	Model          string    `toml:"model,omitempty"`
}

// RenderMarkdown renders doc with TOML front matter, the session context as
// a quote and one section per stream.
func RenderMarkdown(doc Document) (string, error) {
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = "Live Transcript"
	}
	fm := frontMatter{
		ID:             doc.ID,
		Title:          title,
		Created:        doc.CreatedAt.UTC().Truncate(time.Second),
		SourceLanguage: doc.SourceLanguage,
		TargetLanguage: doc.TargetLanguage,
		Backend:        doc.Backend,
		Model:          doc.Model,
	}
	if doc.Duration > 0 {
		fm.Duration = doc.Duration.Truncate(time.Second).String()
	}
	header, err := toml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("export: encode front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("+++\n")
	b.Write(header)
	b.WriteString("+++\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title)
	if ctx := strings.TrimSpace(doc.Context); ctx != "" {
		for _, line := range strings.Split(ctx, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Transcript\n\n")
	writeBody(&b, doc.Source)
	if strings.TrimSpace(doc.Translation) != "" {
		b.WriteString("\n## Translation\n\n")
		writeBody(&b, doc.Translation)
	}
	return b.String(), nil
}

func writeBody(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		b.WriteString("_empty_\n")
		return
	}
	b.WriteString(text)
	b.WriteString("\n")
}

// ParseFrontMatter reads the front matter of a rendered document.
func ParseFrontMatter(markdown string) (Document, error) {
	if !strings.HasPrefix(markdown, "+++\n") {
		return Document{}, fmt.Errorf("export: missing front matter")
	}
	rest := markdown[len("+++\n"):]
	end := strings.Index(rest, "+++\n")
	if end < 0 {
		return Document{}, fmt.Errorf("export: unterminated front matter")
	}
	var fm frontMatter
	if err := toml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return Document{}, fmt.Errorf("export: decode front matter: %w", err)
	}
	doc := Document{
		ID:             fm.ID,
		Title:          fm.Title,
		CreatedAt:      fm.Created,
		SourceLanguage: fm.SourceLanguage,
		TargetLanguage: fm.TargetLanguage,
		Backend:        fm.Backend,
		Model:          fm.Model,
	}
	if fm.Duration != "" {
		d, err := time.ParseDuration(fm.Duration)
		if err != nil {
			return Document{}, fmt.Errorf("export: bad duration %q: %w", fm.Duration, err)
		}
		doc.Duration = d
	}
	return doc, nil
}
