package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/tether/internal/config"
	"github.com/haasonsaas/tether/pkg/models"
)

func TestContextWindowFor(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-20250514", 200000},
		{"claude-3-5-haiku-20241022", 200000},
		{"gpt-4o", 128000},
		{"gpt-4o-mini", 128000},
		{"gpt-4", 8192},
		{"o3-mini", 200000},
		{"totally-unknown-model", DefaultContextWindow},
	}
	for _, tt := range tests {
		if got := ContextWindowFor(tt.model); got != tt.want {
			t.Errorf("ContextWindowFor(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestMinContextWindow(t *testing.T) {
	if got := MinContextWindow("claude-sonnet-4-20250514", "gpt-4o"); got != 128000 {
		t.Errorf("MinContextWindow() = %d, want 128000", got)
	}
	if got := MinContextWindow(); got != DefaultContextWindow {
		t.Errorf("MinContextWindow() with no models = %d, want default", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("503 service unavailable"), true},
		{"overloaded", errors.New("overloaded_error: Overloaded"), true},
		{"connection", errors.New("dial tcp: connection refused"), true},
		{"auth", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("400 invalid request"), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "list the files"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "run_command", Input: json.RawMessage(`{"command":"ls"}`)},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "c1", Content: "a.go b.go"},
			{ToolCallID: "c2", Content: "skipped", IsError: true},
		}},
	}

	got := convertOpenAIMessages(messages, "be helpful")
	if len(got) != 5 {
		t.Fatalf("got %d messages, want 5 (system + user + assistant + 2 tool)", len(got))
	}
	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "be helpful" {
		t.Errorf("first message = %+v, want system prompt", got[0])
	}
	if len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].Function.Name != "run_command" {
		t.Errorf("assistant tool calls = %+v", got[2].ToolCalls)
	}
	if got[3].Role != openai.ChatMessageRoleTool || got[3].ToolCallID != "c1" {
		t.Errorf("tool result message = %+v", got[3])
	}
	if got[4].ToolCallID != "c2" {
		t.Errorf("second tool result = %+v, want separate message per result", got[4])
	}
}

func TestConvertOpenAIToolsBadSchema(t *testing.T) {
	tools := convertOpenAITools([]ToolSpec{
		{Name: "good", Description: "ok", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "bad", Description: "broken", InputSchema: json.RawMessage(`{not json`)},
	})
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	params, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("bad schema not replaced with empty object schema: %+v", tools[1].Function.Parameters)
	}
}

func TestAnthropicConvertMessagesSkipsSystem(t *testing.T) {
	p := &Anthropic{defaultModel: anthropicDefaultModel, maxTokens: 4096}
	converted, err := p.convertMessages([]*models.Message{
		{Role: models.RoleSystem, Content: "system prompt"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: "out"}}},
	})
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	if len(converted) != 2 {
		t.Errorf("got %d messages, want 2 (system skipped, tool folded into user)", len(converted))
	}
}

func TestNewRegistry(t *testing.T) {
	cfg := config.ProvidersConfig{
		Default: "openai",
		OpenAI:  config.ProviderBackendConfig{APIKey: "sk-test"},
		Extra: map[string]config.ProviderBackendConfig{
			"local": {BaseURL: "http://localhost:11434/v1", DefaultModel: "llama3"},
		},
	}
	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if r.Default().Name() != "openai" {
		t.Errorf("Default().Name() = %q", r.Default().Name())
	}
	if _, err := r.Get("local"); err != nil {
		t.Errorf("Get(local) error = %v", err)
	}
	if _, err := r.Get("missing"); err == nil {
		t.Error("Get(missing) = nil error, want error")
	}
	if _, err := r.Structured("openai"); err != nil {
		t.Errorf("Structured(openai) error = %v", err)
	}
}

func TestNewRegistryBadDefault(t *testing.T) {
	_, err := NewRegistry(config.ProvidersConfig{
		Default: "anthropic",
		OpenAI:  config.ProviderBackendConfig{APIKey: "sk-test"},
	})
	if err == nil {
		t.Error("NewRegistry() = nil error, want error for unconfigured default")
	}
}
