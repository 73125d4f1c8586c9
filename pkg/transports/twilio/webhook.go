package twilio

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/harunnryd/juru/pkg/errorsx"
)

// callerParam carries the caller number from the voice webhook to the
// media stream's start message.
const callerParam = "caller"

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     string       `xml:"Say,omitempty"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	form, ok := t.verifiedForm(w, r)
	if !ok {
		return
	}
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	resp := twimlResponse{Say: strings.TrimSpace(t.cfg.VoiceGreeting)}
	resp.Connect.Stream.URL = t.streamURL(r)
	if from := form.Get("From"); from != "" {
		resp.Connect.Stream.Parameters = []twimlParameter{{Name: callerParam, Value: from}}
	}
	body, err := xml.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(append([]byte(xml.Header), body...))
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	form, ok := t.verifiedForm(w, r)
	if !ok {
		return
	}
	if reason := normalizeCallEndReason(form.Get("CallStatus")); reason != "" {
		t.endCall(form.Get("CallSid"), reason)
	}
	w.WriteHeader(http.StatusOK)
}

// verifiedForm parses a webhook POST and checks its X-Twilio-Signature when
// an auth token is configured. On failure it has already answered.
func (t *Transport) verifiedForm(w http.ResponseWriter, r *http.Request) (url.Values, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	if t.cfg.AuthToken == "" {
		return r.PostForm, true
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	if sig := r.Header.Get("X-Twilio-Signature"); sig == "" || !validator.Validate(t.requestURL(r), params, sig) {
		t.logger.Warn("twilio_invalid_signature",
			slog.String("path", r.URL.Path),
			slog.String("reason", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return nil, false
	}
	return r.PostForm, true
}

// requestURL is the URL Twilio signed: the public URL when configured,
// otherwise what the request itself says.
func (t *Transport) requestURL(r *http.Request) string {
	if base := t.publicBase(); base != nil {
		return base.Scheme + "://" + base.Host + r.URL.RequestURI()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (t *Transport) streamURL(r *http.Request) string {
	if t.publicBase() != nil {
		return t.publicURL("wss", t.cfg.WebsocketPath)
	}
	return (&url.URL{Scheme: "wss", Host: r.Host, Path: t.cfg.WebsocketPath}).String()
}

// publicURL joins path onto the configured public host with scheme, or onto
// the local listen address over plain http when no public URL is set.
func (t *Transport) publicURL(scheme, path string) string {
	if base := t.publicBase(); base != nil {
		return (&url.URL{Scheme: scheme, Host: base.Host, Path: path}).String()
	}
	addr := t.cfg.ServerAddr
	if t.listener != nil {
		addr = t.listener.Addr().String()
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return (&url.URL{Scheme: "http", Host: addr, Path: path}).String()
}

func (t *Transport) publicBase() *url.URL {
	raw := strings.TrimSpace(t.cfg.PublicURL)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

// normalizeCallEndReason maps a Twilio call status to why the call ended.
// Statuses of calls that have not ended map to "".
func normalizeCallEndReason(status string) string {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(status)), "_", "-") {
	case "", "queued", "initiated", "ringing", "in-progress":
		return ""
	case "completed", "hangup", "call-ended":
		return "completed"
	case "busy":
		return "busy"
	case "no-answer", "noanswer":
		return "no_answer"
	case "failed", "canceled", "cancelled", "transport-closed":
		return "failed"
	}
	return "unknown"
}
