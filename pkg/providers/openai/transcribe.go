package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/harunnryd/juru/pkg/adapters/stt"
)

// Transcriber posts recorded audio to the audio transcriptions endpoint.
type Transcriber struct {
	APIKey   string
	Model    string
	Language string
	BaseURL  string
	Client   *http.Client
}

func NewTranscriber(apiKey, model string) *Transcriber {
	if model == "" {
		model = "whisper-1"
	}
	return &Transcriber{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (t *Transcriber) Name() string { return "openai_transcribe" }

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (t *Transcriber) Transcribe(ctx context.Context, file stt.AudioFile) (string, error) {
	if len(file.Data) == 0 {
		return "", fmt.Errorf("openai transcribe: empty audio payload")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", t.Model); err != nil {
		return "", err
	}
	if t.Language != "" {
		if err := mw.WriteField("language", t.Language); err != nil {
			return "", err
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName(file)))
	if file.MIME != "" {
		header.Set("Content-Type", file.MIME)
	}
	fw, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(file.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.BaseURL, "/")+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return "", err
	}
	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai transcribe: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func fileName(file stt.AudioFile) string {
	if file.Name != "" {
		return file.Name
	}
	return "audio.wav"
}

var _ stt.FileTranscriber = (*Transcriber)(nil)
