package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/juru/pkg/llm"
	"github.com/harunnryd/juru/pkg/resilience"
)

// Adapter calls the Generative Language generateContent endpoint.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://generativelanguage.googleapis.com",
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *Adapter) Name() string { return "gemini" }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type generationConfig struct {
	Temperature    *float64        `json:"temperature,omitempty"`
	ThinkingConfig *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text    string `json:"text"`
				Thought bool   `json:"thought,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (a *Adapter) Generate(ctx context.Context, in llm.Request) (llm.Response, error) {
	model := a.Model
	if in.Model != "" {
		model = in.Model
	}
	body, err := json.Marshal(buildRequest(in))
	if err != nil {
		return llm.Response{}, err
	}
	endpoint := strings.TrimRight(a.BaseURL, "/") + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.APIKey)

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		text := strings.TrimSpace(string(msg))
		if resp.StatusCode == http.StatusTooManyRequests {
			return llm.Response{}, resilience.RateLimitError{Provider: "gemini", Message: text}
		}
		if resilience.IsUpstreamStatus(resp.StatusCode) {
			return llm.Response{}, resilience.UpstreamError{Provider: "gemini", Status: resp.StatusCode, Message: text}
		}
		return llm.Response{}, fmt.Errorf("gemini http %d: %s", resp.StatusCode, text)
	}
	var payload generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return llm.Response{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(payload.Candidates) == 0 {
		return llm.Response{}, errors.New("gemini: no candidates")
	}
	first := payload.Candidates[0]
	var sb strings.Builder
	for _, p := range first.Content.Parts {
		if p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return llm.Response{
		Text:         strings.TrimSpace(sb.String()),
		Model:        payload.ModelVersion,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     payload.UsageMetadata.PromptTokenCount,
			CompletionTokens: payload.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      payload.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func buildRequest(in llm.Request) generateRequest {
	temp := in.Temperature
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: in.Text}}}},
		GenerationConfig: &generationConfig{Temperature: &temp},
	}
	if in.Instruction != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: in.Instruction}}}
	}
	if in.ThinkingBudget > 0 {
		req.GenerationConfig.ThinkingConfig = &thinkingConfig{ThinkingBudget: in.ThinkingBudget}
	}
	return req
}

var _ llm.LLMAdapter = (*Adapter)(nil)
