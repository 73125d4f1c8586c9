package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/juru/pkg/adapters/stt"
)

// Transcriber returns Text for every file, or Err when set.
type Transcriber struct {
	Text string
	Err  error

	mu    sync.Mutex
	files []stt.AudioFile
}

func (m *Transcriber) Name() string { return "mock_transcriber" }

func (m *Transcriber) Transcribe(ctx context.Context, file stt.AudioFile) (string, error) {
	m.mu.Lock()
	m.files = append(m.files, file)
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

func (m *Transcriber) Files() []stt.AudioFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stt.AudioFile(nil), m.files...)
}

var _ stt.FileTranscriber = (*Transcriber)(nil)
