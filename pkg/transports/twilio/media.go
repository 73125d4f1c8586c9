package twilio

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/errorsx"
	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/pipeline"
)

// MediaEvent is one message of a Twilio media stream.
type MediaEvent struct {
	Event string        `json:"event"`
	Start *StartEvent   `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Stop  *StopEvent    `json:"stop,omitempty"`
}

type StartEvent struct {
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type MediaPayload struct {
	Payload string `json:"payload"`
}

type StopEvent struct {
	CallSID string `json:"callSid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// stream is the state of one media stream connection.
type stream struct {
	callSID string
	sess    *pipeline.Session
	rate    int
	ch      int
	started time.Time
	chunks  int64
}

func (s *stream) frame(payload []byte) frames.AudioFrame {
	s.chunks++
	// Twilio sends 20 ms chunks; the timestamp follows the audio clock.
	pts := s.started.Add(time.Duration(s.chunks) * 20 * time.Millisecond).UnixNano()
	return frames.NewAudioFrame(s.sess.ID, pts, payload, s.rate, s.ch, map[string]string{
		frames.MetaEncoding: "mulaw",
		frames.MetaCallSID:  s.callSID,
		frames.MetaSource:   "twilio",
	})
}

func (t *Transport) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var cur *stream
	for {
		var evt MediaEvent
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		switch evt.Event {
		case "start":
			cur = t.openStream(evt.Start)
		case "media":
			if cur == nil || evt.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil || len(payload) == 0 {
				continue
			}
			if err := cur.sess.SendAudio(cur.frame(payload)); err != nil && !errors.Is(err, stt.ErrAudioUnsupported) && !errors.Is(err, pipeline.ErrClosed) {
				t.logger.Warn("twilio_audio_failed",
					slog.String("call_sid", cur.callSID),
					slog.String("reason", string(errorsx.ReasonTransportSend)),
					slog.String("error", err.Error()))
			}
		case "stop":
			if cur != nil {
				reason := "completed"
				if evt.Stop != nil {
					if r := normalizeCallEndReason(evt.Stop.Reason); r != "" {
						reason = r
					}
				}
				t.endCall(cur.callSID, reason)
			}
			return
		}
	}
	if cur != nil {
		t.endCall(cur.callSID, "failed")
	}
}

func (t *Transport) openStream(start *StartEvent) *stream {
	if start == nil || start.CallSID == "" {
		return nil
	}
	sess := t.startCall(start.CallSID, start.StreamSID, start.CustomParameters[callerParam])
	if sess == nil {
		return nil
	}
	s := &stream{callSID: start.CallSID, sess: sess, rate: 8000, ch: 1, started: time.Now()}
	if f := start.MediaFormat; f != nil {
		if !strings.EqualFold(f.Encoding, "audio/x-mulaw") {
			t.logger.Warn("twilio_unexpected_encoding", slog.String("call_sid", start.CallSID), slog.String("encoding", f.Encoding))
		}
		if f.SampleRate > 0 {
			s.rate = f.SampleRate
		}
		if f.Channels > 0 {
			s.ch = f.Channels
		}
	}
	return s
}
