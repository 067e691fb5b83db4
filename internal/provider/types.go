// Package provider abstracts the model backends the engine can stream
// completions from.
package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/tether/pkg/models"
)

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request carries everything needed for one model turn.
type Request struct {
	// Model is the backend model ID. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled out of band of Messages.
	System string `json:"system,omitempty"`

	// Messages is the working set in chronological order.
	Messages []*models.Message `json:"messages"`

	// Tools the model may call this turn.
	Tools []ToolSpec `json:"tools,omitempty"`

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// ForceJSON asks the backend to constrain output to a JSON object.
	// Providers without such a mode ignore it.
	ForceJSON bool `json:"force_json,omitempty"`
}

// Chunk is one increment of a streaming response.
type Chunk struct {
	// Text is partial response text.
	Text string `json:"text,omitempty"`

	// Reasoning is partial thinking text, streamed separately from Text.
	Reasoning      string `json:"reasoning,omitempty"`
	ReasoningStart bool   `json:"reasoning_start,omitempty"`
	ReasoningEnd   bool   `json:"reasoning_end,omitempty"`

	// ToolCall is a complete tool request. Providers accumulate partial
	// argument deltas internally and only emit finished calls.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done signals successful stream completion. Token counts are only
	// populated on the Done chunk.
	Done         bool `json:"done,omitempty"`
	InputTokens  int  `json:"input_tokens,omitempty"`
	OutputTokens int  `json:"output_tokens,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}

// Model describes an available backend model.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextWindow int    `json:"context_window"`
}

// Provider is a streaming model backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Stream sends a request and returns a channel of response chunks.
	// The channel is closed after the Done or Error chunk.
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name returns the provider name ("anthropic", "openai", ...).
	Name() string

	// Models returns the models this provider serves.
	Models() []Model
}

// StructuredClient produces a single non-streamed completion, used for
// side-channel judgments that decode into a struct.
type StructuredClient interface {
	Complete(ctx context.Context, req *Request) (string, error)
}

// IsRetryable classifies transport-level errors worth retrying: rate
// limits, 5xx responses, timeouts, and connection failures. Context
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate_limit", "rate limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"overloaded",
		"timeout",
		"connection reset", "connection refused", "no such host", "broken pipe",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
