package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/haasonsaas/tether/internal/events"
	"github.com/haasonsaas/tether/internal/terminal"
	"github.com/haasonsaas/tether/internal/tokens"
	"github.com/haasonsaas/tether/internal/transcript"
	"github.com/haasonsaas/tether/pkg/models"
)

// node identifies one state of the run loop. Every transition passes
// through the trampoline in runLoop, which enforces the visit bound.
type node int

const (
	nodeStartup node = iota
	nodePruneInitial
	nodeModelRequest
	nodePlanBatch
	nodeRoute
	nodePruneRuntime
	nodeFinalize
	nodeDone
)

func (n node) String() string {
	switch n {
	case nodeStartup:
		return "startup"
	case nodePruneInitial:
		return "prune_initial"
	case nodeModelRequest:
		return "model_request"
	case nodePlanBatch:
		return "plan_batch"
	case nodeRoute:
		return "route"
	case nodePruneRuntime:
		return "prune_runtime"
	case nodeFinalize:
		return "finalize"
	default:
		return "done"
	}
}

// runState is the mutable state of one run. It is confined to the run's
// goroutine; only the skip flag is touched from outside.
type runState struct {
	session *models.Session
	term    terminal.Terminal
	emitter *events.Emitter

	// full is the durable log; only rollback may shrink it. working is
	// what the model sees; pruning may rewrite it wholesale.
	full    transcript.Log
	working transcript.Log

	fresh     bool
	userInput string

	tokenState models.TokenState
	queue      []models.ToolCall
	assistant  *models.Message

	// partial holds an aborted assistant message captured mid-stream,
	// pending persistence at the checkpoint.
	partial *models.Message

	// skip is set by SkipWait to release a pending wait_for_task.
	skip atomic.Bool

	visits int
}

func (rs *runState) emit(ctx context.Context, e models.EngineEvent) {
	if rs.emitter != nil {
		rs.emitter.Emit(ctx, e)
	}
}

// appendTurn adds a message to both views of the transcript.
func (rs *runState) appendTurn(msg *models.Message) {
	rs.full = rs.full.Append(msg)
	rs.working = rs.working.Append(msg)
}

// runLoop drives the state machine to completion. Transitions are data:
// each step returns the next node, and the trampoline counts every visit
// against the recursion limit so a pathological model cannot spin the
// loop forever.
func (e *Engine) runLoop(ctx context.Context, rs *runState) error {
	limit := e.recursionLimit
	current := nodeStartup
	for current != nodeDone {
		rs.visits++
		if rs.visits > limit {
			return fmt.Errorf("%w: %d node visits", ErrRecursionLimit, rs.visits)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := e.step(ctx, rs, current)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

func (e *Engine) step(ctx context.Context, rs *runState, current node) (node, error) {
	switch current {
	case nodeStartup:
		return e.stepStartup(rs)
	case nodePruneInitial, nodePruneRuntime:
		return e.stepPrune(ctx, rs, current)
	case nodeModelRequest:
		return e.stepModelRequest(ctx, rs)
	case nodePlanBatch:
		return e.stepPlanBatch(rs)
	case nodeRoute:
		return e.stepRoute(ctx, rs)
	case nodeFinalize:
		return nodeDone, nil
	default:
		return nodeDone, fmt.Errorf("unknown run node %d", current)
	}
}

// stepStartup composes the working set for this turn: the repaired durable
// log, a fresh environment snapshot, and the user's input. Fresh sessions
// get the system prompt first.
func (e *Engine) stepStartup(rs *runState) (node, error) {
	rs.full = transcript.Repair(rs.full)
	rs.working = rs.full.Clone()

	if e.systemPrompt != "" && !hasSystemMessage(rs.full) {
		// Missing from resumed logs too, not just fresh ones: a log whose
		// head was lost, or a config that gained a prompt later, heals here.
		system := transcript.NewMessage(models.RoleSystem, e.systemPrompt)
		rs.full = append(transcript.Log{system}, rs.full...)
		rs.working = append(transcript.Log{system}, rs.working...)
	}

	if snapshot := e.envSnapshot(rs.term); snapshot != "" {
		// Snapshots describe the terminal as it is right now; stale ones
		// in storage would contradict each other, so they never persist.
		rs.working = rs.working.Append(transcript.NewEphemeral(models.RoleSystem, snapshot))
	}

	user := transcript.NewMessage(models.RoleUser, rs.userInput)
	rs.appendTurn(user)

	rs.tokenState = models.TokenState{
		CurrentTokens: tokens.EstimateLog(rs.working),
		MaxTokens:     e.contextWindow(),
	}
	return nodePruneInitial, nil
}

func hasSystemMessage(log transcript.Log) bool {
	for _, msg := range log {
		if msg != nil && msg.Role == models.RoleSystem {
			return true
		}
	}
	return false
}

// stepPrune checks the budget and rewrites the working set when output
// headroom has run out. A committed rewrite is announced so attached
// shells can refresh their view.
func (e *Engine) stepPrune(ctx context.Context, rs *runState, current node) (node, error) {
	if e.tokens.IsOverflow(rs.tokenState) {
		before := rs.working
		after := e.tokens.Prune(before)
		if len(after) > 0 && (len(after) != len(before) || &after[0] != &before[0]) {
			reclaimed := tokens.Reclaimed(before, after)
			rs.working = after
			rs.tokenState.CurrentTokens = tokens.EstimateLog(after)
			rs.emit(ctx, models.EngineEvent{
				Type: models.EventHistoryFlushed,
				History: &models.HistoryEventPayload{
					Messages:        len(after),
					ReclaimedTokens: reclaimed,
				},
			})
			if e.metrics != nil {
				e.metrics.RecordPrune(reclaimed)
			}
			if e.logger != nil {
				e.logger.Info(ctx, "pruned working set",
					"reclaimed_tokens", reclaimed, "messages", len(after))
			}
		}
	}
	return nodeModelRequest, nil
}

func (e *Engine) stepModelRequest(ctx context.Context, rs *runState) (node, error) {
	msg, err := e.requestModel(ctx, rs)
	if err != nil {
		return nodeDone, err
	}
	rs.assistant = msg
	rs.appendTurn(msg)
	return nodePlanBatch, nil
}

func (e *Engine) stepPlanBatch(rs *runState) (node, error) {
	rs.queue = planBatch(rs.assistant)
	if len(rs.queue) == 0 {
		return nodeFinalize, nil
	}
	return nodeRoute, nil
}

// stepRoute executes the front of the queue. One call per visit, so each
// execution counts against the recursion limit.
func (e *Engine) stepRoute(ctx context.Context, rs *runState) (node, error) {
	if len(rs.queue) == 0 {
		return nodePruneRuntime, nil
	}
	call := rs.queue[0]
	rs.queue = rs.queue[1:]

	result := e.executeCall(ctx, rs, call)
	resultMsg := transcript.NewMessage(models.RoleTool, "")
	resultMsg.ToolResults = []models.ToolResult{result}
	rs.appendTurn(resultMsg)
	rs.tokenState.CurrentTokens += tokens.EstimateMessage(resultMsg)

	if err := ctx.Err(); err != nil {
		// Remaining queue entries never started; the repaired transcript
		// will answer their calls if any metadata survived.
		return nodeDone, err
	}
	return nodeRoute, nil
}
