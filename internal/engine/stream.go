package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/haasonsaas/tether/internal/backoff"
	"github.com/haasonsaas/tether/internal/provider"
	"github.com/haasonsaas/tether/internal/tokens"
	"github.com/haasonsaas/tether/internal/transcript"
	"github.com/haasonsaas/tether/pkg/models"
)

// errStreamTruncated means the provider closed the stream without a
// completion marker.
var errStreamTruncated = errors.New("model stream ended without completion")

// requestModel invokes the primary model over the working set, relaying
// deltas onto the event stream while accumulating the full assistant
// message. Retriable failures follow the fixed schedule; cancellation is
// never retried. Whatever visible text the last attempt produced before
// failing is held aside as an aborted partial so recovery can persist
// what the user already saw.
func (e *Engine) requestModel(ctx context.Context, rs *runState) (*models.Message, error) {
	backend := e.providers.Default()
	ctx, span := e.tracer.TraceModelRequest(ctx, backend.Name(), e.model)
	defer span.End()

	req := &provider.Request{
		Model:    e.model,
		System:   collectSystem(rs.working),
		Messages: rs.working,
		Tools:    e.boundTools(),
	}

	schedule := backoff.ModelRequestSchedule()
	attempts := 0
	msg, err := backoff.RetryWithSchedule(ctx, schedule, provider.IsRetryable,
		func(attempt int) (*models.Message, error) {
			attempts = attempt
			if attempt > 1 {
				if e.metrics != nil {
					e.metrics.RecordModelRetry(backend.Name())
				}
				if e.logger != nil {
					e.logger.Warn(ctx, "retrying model request", "attempt", attempt)
				}
			}
			return e.streamOnce(ctx, rs, backend, req)
		})
	e.tracer.SetAttributes(span, "model.attempts", attempts)
	if err != nil {
		if IsCancellation(err) {
			return nil, err
		}
		mie := &ModelInvocationError{
			Provider: backend.Name(),
			Model:    e.model,
			Attempts: attempts,
			Err:      err,
		}
		e.tracer.RecordError(span, mie)
		return nil, mie
	}
	return msg, nil
}

// streamOnce consumes one streaming attempt end to end. Accumulation
// starts clean each attempt; a retried request replays its deltas rather
// than appending to the previous attempt's text.
func (e *Engine) streamOnce(ctx context.Context, rs *runState, backend provider.Provider, req *provider.Request) (*models.Message, error) {
	rs.partial = nil
	start := time.Now()

	chunks, err := backend.Stream(ctx, req)
	if err != nil {
		e.recordModelRequest(backend.Name(), "error", start)
		return nil, err
	}

	var content, reasoning strings.Builder
	var calls []models.ToolCall
	var inputTokens, outputTokens int
	done := false
	var streamErr error

	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			streamErr = chunk.Error
			break
		}
		if chunk.ReasoningStart {
			rs.emit(ctx, models.EngineEvent{Type: models.EventReasoningStarted})
		}
		if chunk.Reasoning != "" {
			reasoning.WriteString(chunk.Reasoning)
			rs.emit(ctx, models.EngineEvent{
				Type:   models.EventReasoningDelta,
				Stream: &models.StreamEventPayload{Delta: chunk.Reasoning},
			})
		}
		if chunk.ReasoningEnd {
			rs.emit(ctx, models.EngineEvent{Type: models.EventReasoningFinished})
		}
		if chunk.Text != "" {
			content.WriteString(chunk.Text)
			rs.emit(ctx, models.EngineEvent{
				Type:   models.EventContentDelta,
				Stream: &models.StreamEventPayload{Delta: chunk.Text},
			})
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
			done = true
		}
	}

	if streamErr == nil && !done {
		if err := ctx.Err(); err != nil {
			streamErr = err
		} else {
			streamErr = errStreamTruncated
		}
	}

	if streamErr != nil {
		// Keep what the user already saw on screen. If this attempt is
		// retried the partial is reset; if the run dies here it is
		// persisted as an aborted assistant message.
		if content.Len() > 0 {
			partial := transcript.NewMessage(models.RoleAssistant, content.String())
			partial.Reasoning = reasoning.String()
			partial.Aborted = true
			rs.partial = partial
		}
		e.recordModelRequest(backend.Name(), "error", start)
		return nil, streamErr
	}

	msg := transcript.NewMessage(models.RoleAssistant, content.String())
	msg.Reasoning = reasoning.String()
	msg.ToolCalls = calls

	if total := inputTokens + outputTokens; total > 0 {
		// Provider usage is authoritative; it supersedes the estimate.
		rs.tokenState.CurrentTokens = total
	} else {
		rs.tokenState.CurrentTokens = tokens.EstimateLog(rs.working) + tokens.EstimateMessage(msg)
	}

	e.recordModelRequest(backend.Name(), "ok", start)
	return msg, nil
}

func (e *Engine) recordModelRequest(providerName, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordModelRequest(providerName, e.model, status, time.Since(start).Seconds())
}

// collectSystem folds the working set's system messages into the request's
// system text. Providers carry system content out of band.
func collectSystem(working []*models.Message) string {
	var parts []string
	for _, msg := range working {
		if msg != nil && msg.Role == models.RoleSystem && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
