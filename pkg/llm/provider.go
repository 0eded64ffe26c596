package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ToolChoice controls whether the model must, may, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// Message represents one message in a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Tool describes a callable tool for the model.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Usage tracks token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []Tool
	ToolChoice   ToolChoice
	Temperature  float64
	MaxTokens    int
}

// Response contains the model's reply.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// Provider is an interface for LLM API providers.
type Provider interface {
	// Call makes a single model API call.
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// retryableStatusPattern matches 429 and 5xx status codes only when
// labeled as such, so numbers inside ordinary text never trigger a
// retry.
var retryableStatusPattern = regexp.MustCompile(`(?i)\b(?:status(?: code)?|http|code|error)[ :]*(?:429|5\d\d)\b`)

var retryablePhrases = []string{
	"rate limit",
	"too many requests",
	"internal server error",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"overloaded",
}

// IsRetryable reports whether an error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits and server errors reported by status code
	if retryableStatusPattern.MatchString(msg) {
		return true
	}

	// The same conditions reported by phrase
	lower := strings.ToLower(msg)
	for _, phrase := range retryablePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	return false
}
