package engine

import (
	"github.com/haasonsaas/tether/pkg/models"
)

// planBatch decides which of an assistant message's tool calls actually
// execute this turn, and rewrites the message so the transcript only
// records the calls that will receive results.
//
// Rules, in precedence order:
//   - no calls: nothing to run, the turn is final output
//   - a load_skill call: only it runs; loaded instructions change how the
//     model would have planned the rest, so everything else is replanned
//   - a foreground command anywhere in the batch: only the first call
//     runs; foreground execution never shares a turn
//   - otherwise: every call runs, sequentially, in order
//
// Dropped calls are not failed or deferred. The model sees the results of
// what ran and re-issues whatever it still wants.
func planBatch(msg *models.Message) []models.ToolCall {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return nil
	}

	var queue []models.ToolCall
	switch {
	case hasSkillLoad(msg.ToolCalls):
		queue = []models.ToolCall{firstSkillLoad(msg.ToolCalls)}
	case hasForegroundExec(msg.ToolCalls):
		queue = []models.ToolCall{msg.ToolCalls[0]}
	default:
		queue = append(queue, msg.ToolCalls...)
	}

	normalizeToolCalls(msg, queue)
	return queue
}

// normalizeToolCalls replaces the message's recorded calls with the planned
// queue. Without this, dropped calls would linger as unanswered requests
// and poison the next model request.
func normalizeToolCalls(msg *models.Message, queue []models.ToolCall) {
	if len(queue) == len(msg.ToolCalls) {
		return
	}
	msg.ToolCalls = append([]models.ToolCall(nil), queue...)
}

func hasSkillLoad(calls []models.ToolCall) bool {
	for _, c := range calls {
		if c.Name == ToolLoadSkill {
			return true
		}
	}
	return false
}

func firstSkillLoad(calls []models.ToolCall) models.ToolCall {
	for _, c := range calls {
		if c.Name == ToolLoadSkill {
			return c
		}
	}
	return calls[0]
}

func hasForegroundExec(calls []models.ToolCall) bool {
	for _, c := range calls {
		if isForegroundExec(c.Name, c.Input) {
			return true
		}
	}
	return false
}
