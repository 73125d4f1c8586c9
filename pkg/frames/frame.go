// Package frames defines what flows from a recognizer or transport into a
// session: audio chunks, recognition results and control signals.
package frames

import "time"

type Kind string

const (
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindControl Kind = "control"
)

type ControlCode string

const (
	// ControlError carries a recognition error code in MetaErrorCode.
	ControlError ControlCode = "error"
	// ControlEnd marks a clean end of the recognition stream.
	ControlEnd ControlCode = "end"
	// ControlSpeechStarted comes from backends with their own VAD.
	ControlSpeechStarted ControlCode = "speech_started"
)

// Metadata keys.
const (
	MetaStreamID     = "stream_id"
	MetaTraceID      = "trace_id"
	MetaSource       = "source"
	MetaIsFinal      = "is_final"
	MetaReason       = "reason"
	MetaErrorCode    = "error_code"
	MetaErrorMessage = "error_message"
	MetaEncoding     = "encoding"
	MetaCallSID      = "call_sid"
)

// Frame is implemented by AudioFrame, TextFrame and ControlFrame. PTS is a
// wall clock timestamp in nanoseconds.
type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// header is shared by every frame. meta is never handed out directly.
type header struct {
	pts  int64
	meta map[string]string
}

func newHeader(streamID string, pts int64, meta map[string]string, extra int) header {
	out := make(map[string]string, len(meta)+1+extra)
	for k, v := range meta {
		out[k] = v
	}
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	return header{pts: pts, meta: out}
}

func (h header) PTS() int64       { return h.pts }
func (h header) StreamID() string { return h.meta[MetaStreamID] }

func (h header) Meta() map[string]string {
	out := make(map[string]string, len(h.meta))
	for k, v := range h.meta {
		out[k] = v
	}
	return out
}

// AudioFrame is a chunk of raw audio. The encoding is linear16 unless
// MetaEncoding says otherwise.
type AudioFrame struct {
	header
	data []byte
	rate int
	ch   int
}

func NewAudioFrame(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	if ch <= 0 {
		ch = 1
	}
	return AudioFrame{header: newHeader(streamID, pts, meta, 0), data: data, rate: rate, ch: ch}
}

func (AudioFrame) Kind() Kind { return KindAudio }

// RawPayload returns the audio bytes without copying.
func (a AudioFrame) RawPayload() []byte { return a.data }
func (a AudioFrame) Rate() int          { return a.rate }
func (a AudioFrame) Channels() int      { return a.ch }

func (a AudioFrame) Encoding() string {
	if enc := a.meta[MetaEncoding]; enc != "" {
		return enc
	}
	return "linear16"
}

// Duration is the playback length of the chunk. mulaw is one byte per
// sample, linear16 two.
func (a AudioFrame) Duration() time.Duration {
	width := 2
	if a.Encoding() == "mulaw" {
		width = 1
	}
	perSecond := a.rate * a.ch * width
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(len(a.data)) * time.Second / time.Duration(perSecond)
}

// TextFrame is a recognition result. Final results are committed to the
// transcript; interim results only replace the in-flight fragment.
type TextFrame struct {
	header
	text  string
	final bool
}

func NewTextFrame(streamID string, pts int64, text string, final bool, meta map[string]string) TextFrame {
	h := newHeader(streamID, pts, meta, 1)
	h.meta[MetaIsFinal] = "false"
	if final {
		h.meta[MetaIsFinal] = "true"
	}
	return TextFrame{header: h, text: text, final: final}
}

func (TextFrame) Kind() Kind     { return KindText }
func (t TextFrame) Text() string { return t.text }
func (t TextFrame) Final() bool  { return t.final }

type ControlFrame struct {
	header
	code ControlCode
}

func NewControlFrame(streamID string, pts int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{header: newHeader(streamID, pts, meta, 0), code: code}
}

// NewErrorFrame builds a ControlError frame for a recognition error code.
func NewErrorFrame(streamID string, pts int64, code, message string) ControlFrame {
	return NewControlFrame(streamID, pts, ControlError, map[string]string{
		MetaErrorCode:    code,
		MetaErrorMessage: message,
	})
}

func (ControlFrame) Kind() Kind             { return KindControl }
func (c ControlFrame) Code() ControlCode    { return c.code }
func (c ControlFrame) ErrorCode() string    { return c.meta[MetaErrorCode] }
func (c ControlFrame) ErrorMessage() string { return c.meta[MetaErrorMessage] }
