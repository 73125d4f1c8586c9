package llm

import "context"

// Mode identifies which pipeline stage issued a request.
type Mode string

const (
	ModeRefine    Mode = "refine"
	ModeTranslate Mode = "translate"
	ModeBatch     Mode = "batch"
)

// Request is a single "text + instructions in, text out" call.
type Request struct {
	Mode        Mode
	Instruction string
	Text        string
	// Context is the free-text session description steering terminology.
	Context     string
	Temperature float64
	// Model overrides the adapter's default model when set.
	Model string
	// ThinkingBudget grants vendors that support it extra reasoning tokens.
	ThinkingBudget int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Model        string
	Usage        Usage
	FinishReason string
}

// LLMAdapter is the remote text capability used for correction and
// translation. Implementations return resilience.RateLimitError for
// rate-limit responses and resilience.UpstreamError for retryable upstream
// failures.
type LLMAdapter interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}
