package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/juru/pkg/frames"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/pipeline"
	"github.com/harunnryd/juru/pkg/processors"
	"github.com/harunnryd/juru/pkg/providers/mock"
	"github.com/harunnryd/juru/pkg/store/sqlite"
)

func newRegistry(stt *mock.STTFactory) *pipeline.SessionRegistry {
	return pipeline.NewSessionRegistry(func(ctx context.Context, key string, origin pipeline.Origin) (*pipeline.Session, error) {
		return pipeline.NewSession(ctx, pipeline.Config{
			ID:     key,
			Ingest: processors.IngestConfig{SilenceCommit: 30 * time.Millisecond},
			Refine: processors.RefinerConfig{Debounce: 20 * time.Millisecond, Retry: llm.RetryConfig{MaxAttempts: 1}},
		}, pipeline.Deps{
			STT:       stt.New,
			Refine:    mock.NewLLM(nil),
			Translate: mock.NewLLM(nil),
		})
	})
}

func TestHandleVoiceSignatureValidation(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com", VoicePath: "/voice"}
	tr := New(cfg, newRegistry(&mock.STTFactory{}), nil, nil)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+123")
	body := form.Encode()

	req := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": "CA123", "From": "+123"}
	req.Header.Set("X-Twilio-Signature", computeSignature(cfg.AuthToken, tr.requestURL(req), params))

	w := httptest.NewRecorder()
	tr.handleVoice(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `<Stream url="wss://example.com/media"><Parameter name="caller" value="+123"></Parameter></Stream>`) {
		t.Fatalf("unexpected twiml %q", w.Body.String())
	}

	reqInvalid := httptest.NewRequest(http.MethodPost, "https://example.com/voice", strings.NewReader(body))
	reqInvalid.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	reqInvalid.Header.Set("X-Twilio-Signature", "invalid")
	wInvalid := httptest.NewRecorder()
	tr.handleVoice(wInvalid, reqInvalid)
	if wInvalid.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", wInvalid.Code)
	}
}

func TestHandleVoiceGreetingIsEscaped(t *testing.T) {
	tr := New(Config{VoiceGreeting: "Captions <on>"}, newRegistry(&mock.STTFactory{}), nil, nil)
	req := httptest.NewRequest(http.MethodPost, "http://captions.local/voice", nil)
	w := httptest.NewRecorder()
	tr.handleVoice(w, req)
	if !strings.Contains(w.Body.String(), "<Say>Captions &lt;on&gt;</Say>") {
		t.Fatalf("unexpected twiml %q", w.Body.String())
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	tr := New(Config{}, newRegistry(&mock.STTFactory{}), nil, nil)
	w := httptest.NewRecorder()
	tr.handleVoice(w, httptest.NewRequest(http.MethodGet, "http://captions.local/voice", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestReadyFieldsUsePublicURL(t *testing.T) {
	tr := New(Config{PublicURL: "captions.example.com/"}, newRegistry(&mock.STTFactory{}), nil, nil)
	fields := tr.ReadyFields()
	if fields["webhook_url"] != "https://captions.example.com/voice" || fields["status_callback_url"] != "https://captions.example.com/status" {
		t.Fatalf("unexpected ready fields %v", fields)
	}
	req := httptest.NewRequest(http.MethodPost, "http://10.0.0.5:8081/voice", nil)
	if got := tr.streamURL(req); got != "wss://captions.example.com/media" {
		t.Fatalf("unexpected stream url %q", got)
	}
}

func TestStatusCallbackEndsCall(t *testing.T) {
	cfg := Config{AuthToken: "token", PublicURL: "https://example.com", StatusCallbackPath: "/status"}
	stt := &mock.STTFactory{}
	registry := newRegistry(stt)
	defer registry.CloseAll()
	tr := New(cfg, registry, nil, nil)

	if sess := tr.startCall("CA123", "MZ1", "+15550001111"); sess == nil {
		t.Fatalf("expected session")
	}
	if _, ok := registry.Get("CA123"); !ok {
		t.Fatalf("expected registered session")
	}

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")
	req := httptest.NewRequest(http.MethodPost, "https://example.com/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	params := map[string]string{"CallSid": "CA123", "CallStatus": "completed"}
	req.Header.Set("X-Twilio-Signature", computeSignature(cfg.AuthToken, tr.requestURL(req), params))

	w := httptest.NewRecorder()
	tr.handleStatusCallback(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := registry.Get("CA123"); ok {
		t.Fatalf("expected session removed after completed status")
	}
	if !stt.Latest().Closed() {
		t.Fatalf("expected recognizer closed")
	}
}

func TestMediaStreamCaptionsCall(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	stt := &mock.STTFactory{}
	registry := newRegistry(stt)
	defer registry.CloseAll()
	tr := New(Config{SaveOnHangup: true}, registry, store, nil)
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/media", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(MediaEvent{Event: "start", Start: &StartEvent{
		CallSID:          "CA9",
		StreamSID:        "MZ9",
		CustomParameters: map[string]string{"caller": "+15550002222"},
		MediaFormat:      &MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
	}}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := conn.WriteJSON(MediaEvent{Event: "media", Media: &MediaPayload{Payload: payload}}); err != nil {
			t.Fatalf("write media: %v", err)
		}
		if b := stt.Latest(); b != nil && len(b.Audio()) > 0 {
			frame := b.Audio()[0]
			if frame.Rate() != 8000 || frame.Meta()[frames.MetaEncoding] != "mulaw" || frame.Meta()[frames.MetaCallSID] != "CA9" {
				t.Fatalf("unexpected frame rate=%d meta=%v", frame.Rate(), frame.Meta())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audio never reached the recognizer")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sess, ok := registry.Get("CA9")
	if !ok {
		t.Fatalf("expected call session")
	}
	stt.Latest().Final("hello caller")
	for {
		st, _ := sess.Status(context.Background())
		if strings.HasPrefix(st.Source, "Hello caller") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("final never reached the buffer: %q", st.Source)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := conn.WriteJSON(MediaEvent{Event: "stop", Stop: &StopEvent{Reason: "hangup"}}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	for {
		if _, ok := registry.Get("CA9"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call session never released")
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, err := store.Get(context.Background(), "CA9")
	if err != nil {
		t.Fatalf("expected saved call: %v", err)
	}
	if rec.Title != "Call from +15550002222" || !strings.HasPrefix(rec.Snapshot.Source, "Hello caller") {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestNormalizeCallEndReason(t *testing.T) {
	cases := map[string]string{
		"in-progress": "",
		"completed":   "completed",
		"no-answer":   "no_answer",
		"canceled":    "failed",
		"NO_ANSWER":   "no_answer",
		"weird":       "unknown",
	}
	for in, want := range cases {
		if got := normalizeCallEndReason(in); got != want {
			t.Fatalf("normalizeCallEndReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	base := url
	for _, k := range keys {
		base += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
