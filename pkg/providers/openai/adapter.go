package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/resilience"
)

// Adapter calls the chat completions endpoint of OpenAI or any compatible
// server.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	Temperature     *float64      `json:"temperature,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Generate(ctx context.Context, in llm.Request) (llm.Response, error) {
	body, err := a.buildRequest(in)
	if err != nil {
		return llm.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return llm.Response{}, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return llm.Response{}, err
	}
	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return llm.Response{}, errors.New("openai: no choices")
	}
	first := payload.Choices[0]
	return llm.Response{
		Text:         strings.TrimSpace(first.Message.Content),
		Model:        payload.Model,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		},
	}, nil
}

func (a *Adapter) buildRequest(in llm.Request) (*bytes.Buffer, error) {
	model := a.Model
	if in.Model != "" {
		model = in.Model
	}
	req := chatRequest{Model: model}
	if in.Instruction != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: in.Instruction})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: in.Text})
	if in.ThinkingBudget > 0 {
		req.ReasoningEffort = reasoningEffort(in.ThinkingBudget)
	} else {
		temp := in.Temperature
		req.Temperature = &temp
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

// reasoningEffort maps a thinking token budget onto the effort levels
// reasoning models accept. Those models reject a temperature.
func reasoningEffort(budget int) string {
	switch {
	case budget >= 8192:
		return "high"
	case budget >= 2048:
		return "medium"
	default:
		return "low"
	}
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

// statusError maps a non-2xx response to the resilience error classes.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusTooManyRequests {
		return resilience.RateLimitError{Provider: "openai", Message: msg}
	}
	if resilience.IsUpstreamStatus(resp.StatusCode) {
		return resilience.UpstreamError{Provider: "openai", Status: resp.StatusCode, Message: msg}
	}
	return fmt.Errorf("openai http %d: %s", resp.StatusCode, msg)
}

var _ llm.LLMAdapter = (*Adapter)(nil)
