package deepgram

import (
	"log/slog"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/harunnryd/juru/pkg/frames"
)

// handler receives the live socket's callbacks.
type handler struct {
	stt        *StreamingSTT
	metaLogged atomic.Bool
}

// pts places a result on the audio clock: stream start plus the result's
// end offset. Results without timing get the current time.
func (h *handler) pts(start, duration float64) int64 {
	if h.stt.started.IsZero() || start+duration <= 0 {
		return time.Now().UnixNano()
	}
	return h.stt.started.Add(time.Duration((start + duration) * float64(time.Second))).UnixNano()
}

func (h *handler) meta() map[string]string {
	meta := map[string]string{frames.MetaSource: "deepgram"}
	if h.stt.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = h.stt.cfg.TraceID
	}
	return meta
}

func (h *handler) Open(*msginterfaces.OpenResponse) error {
	h.stt.logger.Info("deepgram_connection_opened")
	return nil
}

func (h *handler) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	// An empty final carries nothing; an empty interim still clears the
	// visible fragment.
	if text == "" && mr.IsFinal {
		return nil
	}
	h.stt.emit(frames.NewTextFrame(h.stt.cfg.StreamID, h.pts(mr.Start, mr.Duration), text, mr.IsFinal, h.meta()))
	return nil
}

func (h *handler) Metadata(md *msginterfaces.MetadataResponse) error {
	if h.metaLogged.CompareAndSwap(false, true) {
		h.stt.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (h *handler) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	h.stt.emit(frames.NewControlFrame(h.stt.cfg.StreamID, time.Now().UnixNano(), frames.ControlSpeechStarted, h.meta()))
	return nil
}

func (h *handler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	h.stt.logger.Debug("deepgram_utterance_end")
	return nil
}

func (h *handler) Close(*msginterfaces.CloseResponse) error {
	h.stt.logger.Info("deepgram_connection_closed")
	h.stt.emit(frames.NewControlFrame(h.stt.cfg.StreamID, time.Now().UnixNano(), frames.ControlEnd, h.meta()))
	return nil
}

func (h *handler) Error(er *msginterfaces.ErrorResponse) error {
	h.stt.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	h.stt.emit(frames.NewErrorFrame(h.stt.cfg.StreamID, time.Now().UnixNano(), recognitionCode(er.ErrCode), er.ErrMsg))
	return nil
}

func (h *handler) UnhandledEvent(data []byte) error {
	h.stt.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(data)))
	return nil
}

// recognitionCode maps Deepgram error codes onto recognition error codes.
func recognitionCode(code string) string {
	switch code {
	case "INVALID_AUTH", "INSUFFICIENT_PERMISSIONS":
		return "not-allowed"
	case "UNSUPPORTED_ENCODING", "UNSUPPORTED_LANGUAGE":
		return "not-supported"
	default:
		return "network"
	}
}
