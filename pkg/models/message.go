// Package models provides domain types for the Tether orchestration engine.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a session transcript.
//
// A message flagged Ephemeral (environment snapshots, transient notices)
// participates in model requests but is stripped before persistence.
// A message flagged Aborted holds partial assistant output captured when
// a model stream was interrupted; it is persisted so a later turn can see
// what the user saw.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Reasoning   string         `json:"reasoning,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Ephemeral   bool           `json:"ephemeral,omitempty"`
	Aborted     bool           `json:"aborted,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// HasToolCalls reports whether the message requests any tool executions.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message. Callers that rewrite transcript
// entries (pruning, partial capture) must not alias shared slices.
func (m *Message) Clone() *Message {
	out := *m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	if m.ToolResults != nil {
		out.ToolResults = make([]ToolResult, len(m.ToolResults))
		copy(out.ToolResults, m.ToolResults)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ResultCode classifies how a tool invocation concluded.
type ResultCode string

const (
	// ResultOK means the tool ran and produced output.
	ResultOK ResultCode = "ok"

	// ResultSkipped means the tool's skip predicate fired before execution
	// (for example a background task finished before wait_for_task started).
	ResultSkipped ResultCode = "skipped"

	// ResultCanceled means the run was canceled while the tool was pending
	// or executing.
	ResultCanceled ResultCode = "canceled"

	// ResultError means the tool ran and failed, or its arguments were
	// rejected by validation.
	ResultError ResultCode = "error"
)

// ToolResult represents the outcome of a tool execution.
type ToolResult struct {
	ToolCallID string     `json:"tool_call_id"`
	Content    string     `json:"content"`
	IsError    bool       `json:"is_error,omitempty"`
	Code       ResultCode `json:"code,omitempty"`
}

// Session is the durable identity a transcript hangs off.
type Session struct {
	ID              string         `json:"id"`
	BoundTerminalID string         `json:"bound_terminal_id,omitempty"`
	Title           string         `json:"title,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TokenState tracks estimated context usage for a session.
type TokenState struct {
	CurrentTokens int `json:"current_tokens"`
	MaxTokens     int `json:"max_tokens"`
}
