package stt

import (
	"context"

	"github.com/harunnryd/juru/pkg/frames"
)

// StreamingSTT defines the contract for any live recognition backend.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens the recognition session.
	Start(ctx context.Context) error
	// Close ends the session. No frames are delivered afterwards.
	Close() error
	// SendAudio forwards audio for backends that recognize server-side.
	// Backends fed by an external recognizer return ErrAudioUnsupported.
	SendAudio(frame frames.AudioFrame) error
	// Results returns text frames (final/interim) and control frames
	// (error/end). The channel is closed when the session ends.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic recognizer configuration.
type Config struct {
	StreamID   string
	TraceID    string
	SampleRate int
	Encoding   string
	Language   string
}

// AudioFile is a recorded payload submitted for batch transcription.
type AudioFile struct {
	Name string
	MIME string
	Data []byte
}

// FileTranscriber transcribes a complete audio file verbatim.
type FileTranscriber interface {
	Name() string
	Transcribe(ctx context.Context, file AudioFile) (string, error)
}
