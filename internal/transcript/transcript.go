// Package transcript maintains the two views of a session's conversation:
// the full log, which only rollback may shrink, and the working set, which
// pruning may rewrite wholesale. Both hold the same message type; the
// working set is always derived from full-log content.
package transcript

import (
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/tether/pkg/models"
)

// Log is an append-only message sequence.
type Log []*models.Message

// Append adds messages to the log and returns the extended log.
func (l Log) Append(msgs ...*models.Message) Log {
	return append(l, msgs...)
}

// Last returns the final message, or nil for an empty log.
func (l Log) Last() *models.Message {
	if len(l) == 0 {
		return nil
	}
	return l[len(l)-1]
}

// LastAssistant returns the most recent assistant message, or nil.
func (l Log) LastAssistant() *models.Message {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i] != nil && l[i].Role == models.RoleAssistant {
			return l[i]
		}
	}
	return nil
}

// IndexOf returns the position of the message with the given ID, or -1.
func (l Log) IndexOf(messageID string) int {
	for i, msg := range l {
		if msg != nil && msg.ID == messageID {
			return i
		}
	}
	return -1
}

// Clone returns a shallow copy of the log slice. Messages are shared;
// callers that rewrite entries must Clone the message too.
func (l Log) Clone() Log {
	out := make(Log, len(l))
	copy(out, l)
	return out
}

// ToPersisted returns the messages that belong in durable storage.
// Ephemeral messages (environment snapshots, transient notices) exist only
// for the working set and are stripped here, at the single conversion
// point between in-memory logs and the store.
func ToPersisted(l Log) []*models.Message {
	out := make([]*models.Message, 0, len(l))
	for _, msg := range l {
		if msg == nil || msg.Ephemeral {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// TruncateBefore removes the message with the given ID and everything after
// it. Returns the shortened log and the number of messages removed; if the
// ID is not present the log is returned unchanged with removed == 0.
func TruncateBefore(l Log, messageID string) (Log, int) {
	idx := l.IndexOf(messageID)
	if idx < 0 {
		return l, 0
	}
	removed := len(l) - idx
	return l[:idx:idx], removed
}

// NewMessage builds a message with a fresh correlation ID and timestamp.
func NewMessage(role models.Role, content string) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewEphemeral builds an ephemeral message (excluded from persistence).
func NewEphemeral(role models.Role, content string) *models.Message {
	msg := NewMessage(role, content)
	msg.Ephemeral = true
	return msg
}

// Repair closes dangling tool calls in a loaded log. A crash or abort can
// persist an assistant message whose tool calls never received results; a
// model request with unanswered calls is rejected by providers, so each
// dangling call gets a synthetic canceled result.
func Repair(l Log) Log {
	answered := make(map[string]bool)
	for _, msg := range l {
		if msg == nil {
			continue
		}
		for _, tr := range msg.ToolResults {
			answered[tr.ToolCallID] = true
		}
	}

	out := make(Log, 0, len(l))
	repaired := false
	for _, msg := range l {
		out = append(out, msg)
		if msg == nil || msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}
		var dangling []models.ToolResult
		for _, tc := range msg.ToolCalls {
			if !answered[tc.ID] {
				dangling = append(dangling, models.ToolResult{
					ToolCallID: tc.ID,
					Content:    "Tool execution was interrupted before completion.",
					IsError:    true,
					Code:       models.ResultCanceled,
				})
			}
		}
		if len(dangling) == 0 {
			continue
		}
		result := NewMessage(models.RoleTool, "")
		result.ToolResults = dangling
		out = append(out, result)
		repaired = true
	}
	if !repaired {
		return l
	}
	return out
}
