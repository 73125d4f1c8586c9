// Package console renders a session's captions in a terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harunnryd/juru/pkg/pipeline"
)

// Theme is the colour palette of the caption view.
type Theme struct {
	Primary lipgloss.Color
	Muted   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Border  lipgloss.Color
}

func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Muted:   lipgloss.Color("#6C7086"),
		Success: lipgloss.Color("#A6E3A1"),
		Warning: lipgloss.Color("#F9E2AF"),
		Error:   lipgloss.Color("#F38BA8"),
		Border:  lipgloss.Color("#45475A"),
	}
}

type Config struct {
	Width int
	// Lines is how many trailing lines of each pane are shown.
	Lines int
	// Clear redraws in place instead of appending frames.
	Clear bool
}

// Renderer draws a header line plus source and translation panes.
type Renderer struct {
	cfg     Config
	header  lipgloss.Style
	pane    lipgloss.Style
	title   lipgloss.Style
	muted   lipgloss.Style
	warning lipgloss.Style
	errStr  lipgloss.Style
	states  map[string]lipgloss.Style
}

func NewRenderer(cfg Config, theme Theme) *Renderer {
	if cfg.Width <= 0 {
		cfg.Width = 80
	}
	if cfg.Lines <= 0 {
		cfg.Lines = 6
	}
	badge := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	return &Renderer{
		cfg:    cfg,
		header: lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		pane: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1).
			Width(cfg.Width - 2),
		title:   lipgloss.NewStyle().Bold(true),
		muted:   lipgloss.NewStyle().Foreground(theme.Muted).Italic(true),
		warning: lipgloss.NewStyle().Foreground(theme.Warning),
		errStr:  lipgloss.NewStyle().Foreground(theme.Error).Bold(true),
		states: map[string]lipgloss.Style{
			"RECORDING": badge.Foreground(theme.Success),
			"PAUSED":    badge.Foreground(theme.Warning),
			"ERRORING":  badge.Foreground(theme.Error),
			"IDLE":      badge.Foreground(theme.Muted),
			"STOPPED":   badge.Foreground(theme.Muted),
		},
	}
}

// Render returns the caption view for st.
func (r *Renderer) Render(st pipeline.Status) string {
	badge, ok := r.states[st.State]
	if !ok {
		badge = r.states["IDLE"]
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		r.header.Render("juru "+st.SessionID),
		" ",
		badge.Render(st.State),
		" ",
		r.muted.Render(fmt.Sprintf("%d chars/s", st.Velocity)),
	)
	lines := []string{header}
	if st.Busy {
		lines = append(lines, r.warning.Render(st.Notice))
	}
	if st.Error != nil {
		msg := st.Error.Message
		if st.Error.Hint != "" {
			msg += " (" + st.Error.Hint + ")"
		}
		lines = append(lines, r.errStr.Render(msg))
	}

	source := tail(st.Source, r.cfg.Lines)
	if st.Interim != "" {
		source = strings.TrimRight(source, "\n")
		if source != "" {
			source += " "
		}
		source += r.muted.Render(st.Interim)
	}
	lines = append(lines,
		r.pane.Render(r.title.Render("Transcript")+"\n"+orEmpty(source)),
		r.pane.Render(r.title.Render("Translation")+"\n"+orEmpty(tail(st.Translation, r.cfg.Lines))),
	)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Run writes a frame to w for every update until updates closes or ctx
// ends.
func (r *Renderer) Run(ctx context.Context, w io.Writer, updates <-chan pipeline.Status) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			frame := r.Render(st)
			if r.cfg.Clear {
				frame = "\x1b[H\x1b[2J" + frame
			}
			if _, err := io.WriteString(w, frame+"\n"); err != nil {
				return err
			}
		}
	}
}

// tail keeps the last n non-empty lines of text.
func tail(text string, n int) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, "\n")
}

func orEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "…"
	}
	return s
}
