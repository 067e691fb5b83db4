package models

import (
	"time"
)

// EngineEvent is the unified event model the engine emits while a run is
// in flight. A single stream drives attached shells, logging, and tests.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees within a run
type EngineEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type EngineEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run.
	Sequence uint64 `json:"seq"`

	// RunID identifies the run this event belongs to.
	RunID string `json:"run_id,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Stream  *StreamEventPayload  `json:"stream,omitempty"`
	Tool    *ToolEventPayload    `json:"tool,omitempty"`
	History *HistoryEventPayload `json:"history,omitempty"`
	Error   *ErrorEventPayload   `json:"error,omitempty"`
}

// EngineEventVersion is the current event envelope version.
const EngineEventVersion = 1

// EngineEventType identifies the kind of engine event.
type EngineEventType string

const (
	// Run lifecycle
	EventRunStarted   EngineEventType = "run.started"
	EventRunFinished  EngineEventType = "run.finished"
	EventRunCancelled EngineEventType = "run.cancelled"
	EventRunError     EngineEventType = "run.error"

	// Model streaming. Reasoning deltas are fenced by start/finish markers
	// so consumers can render them apart from visible output.
	EventReasoningStarted  EngineEventType = "reasoning.started"
	EventReasoningDelta    EngineEventType = "reasoning.delta"
	EventReasoningFinished EngineEventType = "reasoning.finished"
	EventContentDelta      EngineEventType = "content.delta"

	// Tool execution
	EventToolStarted  EngineEventType = "tool.started"
	EventToolFinished EngineEventType = "tool.finished"

	// Transcript maintenance
	EventHistoryFlushed EngineEventType = "history.flushed"
)

// StreamEventPayload carries model streaming deltas.
type StreamEventPayload struct {
	// Delta is the incremental text (token-by-token or chunked).
	Delta string `json:"delta,omitempty"`

	// Final is optional final text on completion events.
	Final string `json:"final,omitempty"`

	// Provider/Model for debugging (optional).
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ToolEventPayload describes tool invocations and their outcomes.
type ToolEventPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id,omitempty"`

	// Name is the tool name.
	Name string `json:"name,omitempty"`

	// ArgsJSON is the raw JSON arguments (for started events).
	ArgsJSON []byte `json:"args_json,omitempty"`

	// For finished events:
	Code    ResultCode    `json:"code,omitempty"`
	Result  string        `json:"result,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// HistoryEventPayload describes a transcript rewrite (pruning commit).
type HistoryEventPayload struct {
	// Messages is the working-set size after the rewrite.
	Messages int `json:"messages"`

	// ReclaimedTokens is the estimated token count freed by the rewrite.
	ReclaimedTokens int `json:"reclaimed_tokens,omitempty"`
}

// ErrorEventPayload standardizes errors on the event stream.
type ErrorEventPayload struct {
	// Message is the error description (required).
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Retriable indicates if the operation can be retried.
	Retriable bool `json:"retriable,omitempty"`

	// Err is the original error (runtime only, not serialized).
	// Used to preserve error types for errors.Is/errors.As.
	Err error `json:"-"`
}
