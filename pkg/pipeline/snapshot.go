package pipeline

import (
	"context"
	"log/slog"

	"github.com/harunnryd/juru/pkg/export"
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Source          string `json:"source"`
	Translated      string `json:"translated"`
	ProcessedIndex  int    `json:"processed_index"`
	TranslatedIndex int    `json:"translated_index"`
	Context         string `json:"context"`
}

// Snapshot captures both buffers, both watermarks and the context.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.exec(ctx, func() error {
		snap = Snapshot{
			Source:          s.buffer.Text(),
			Translated:      s.translation.Text(),
			ProcessedIndex:  s.refiner.Watermark(),
			TranslatedIndex: s.translator.Watermark(),
			Context:         s.Context(),
		}
		return nil
	})
	return snap, err
}

// Load replaces the session content with snap. Watermarks are clamped so
// that translated <= refined <= len(source) holds.
func (s *Session) Load(ctx context.Context, snap Snapshot) error {
	s.SetContext(snap.Context)
	return s.exec(ctx, func() error {
		s.buffer.Load(snap.Source)
		s.translation.Set(snap.Translated)
		s.refiner.SetWatermark(snap.ProcessedIndex)
		translated := snap.TranslatedIndex
		if translated > s.refiner.Watermark() {
			translated = s.refiner.Watermark()
		}
		s.translator.SetWatermark(translated)
		s.logger.Info("session_loaded",
			slog.Int("source_len", len(snap.Source)),
			slog.Int("refined", s.refiner.Watermark()),
			slog.Int("translated", s.translator.Watermark()))
		s.refiner.Recheck()
		s.translator.Trigger()
		return nil
	})
}

// Document returns the session as an export document.
func (s *Session) Document(ctx context.Context, title string) (export.Document, error) {
	if title == "" {
		title = s.cfg.Title
	}
	var doc export.Document
	err := s.exec(ctx, func() error {
		doc = export.Document{
			ID:             s.ID,
			Title:          title,
			CreatedAt:      s.Created,
			Duration:       s.recorded(),
			Context:        s.Context(),
			Source:         s.buffer.Text(),
			Translation:    s.translation.Text(),
			SourceLanguage: s.cfg.SourceLanguage,
			TargetLanguage: s.cfg.TargetLanguage,
			Model:          s.deps.Translate.Name(),
		}
		return nil
	})
	return doc, err
}
