package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harunnryd/juru/pkg/adapters/stt"
	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/resilience"
)

func TestGenerateSendsInstructionAndTemperature(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"model":"gpt-test","choices":[{"message":{"content":" Hello world. "},"finish_reason":"stop"}],"usage":{"total_tokens":9}}`)
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-test")
	a.BaseURL = srv.URL
	resp, err := a.Generate(context.Background(), llm.Request{Instruction: "fix", Text: "hello world", Temperature: 0.1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "Hello world." || resp.Usage.TotalTokens != 9 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello world" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.Temperature == nil || *got.Temperature != 0.1 {
		t.Fatalf("expected temperature 0.1, got %v", got.Temperature)
	}
}

func TestGenerateThinkingBudgetUsesReasoningEffort(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	a := NewAdapter("key", "base")
	a.BaseURL = srv.URL
	if _, err := a.Generate(context.Background(), llm.Request{Text: "x", Model: "reasoner", ThinkingBudget: 4096, Temperature: 0.2}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Model != "reasoner" || got.ReasoningEffort != "medium" || got.Temperature != nil {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestGenerateMapsStatusErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	a := NewAdapter("key", "m")
	a.BaseURL = srv.URL
	_, err := a.Generate(context.Background(), llm.Request{Text: "x"})
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}

	status = http.StatusBadGateway
	_, err = a.Generate(context.Background(), llm.Request{Text: "x"})
	var up resilience.UpstreamError
	if ue, ok := err.(resilience.UpstreamError); ok {
		up = ue
	}
	if up.Status != http.StatusBadGateway {
		t.Fatalf("expected upstream 502, got %v", err)
	}

	status = http.StatusBadRequest
	_, err = a.Generate(context.Background(), llm.Request{Text: "x"})
	if err == nil || resilience.IsRateLimit(err) || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected fatal 400 error, got %v", err)
	}
}

func TestTranscribeMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("expected model field")
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer f.Close()
			data, _ := io.ReadAll(f)
			if string(data) != "RIFF" || hdr.Filename != "talk.wav" {
				t.Errorf("unexpected file %q %q", hdr.Filename, data)
			}
		}
		_, _ = io.WriteString(w, `{"text":" verbatim words "}`)
	}))
	defer srv.Close()

	tr := NewTranscriber("key", "")
	tr.BaseURL = srv.URL
	text, err := tr.Transcribe(context.Background(), stt.AudioFile{Name: "talk.wav", MIME: "audio/wav", Data: []byte("RIFF")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "verbatim words" {
		t.Fatalf("unexpected transcript %q", text)
	}
}
