// Package engine drives the turn-taking run loop: it owns session
// transcripts, invokes the model, plans and executes tool batches, keeps
// the context budget, and checkpoints state at run boundaries. At most
// one run is in flight per session; dispatching while one is active
// cancels it first.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/tether/internal/cmdpolicy"
	"github.com/haasonsaas/tether/internal/config"
	"github.com/haasonsaas/tether/internal/decision"
	"github.com/haasonsaas/tether/internal/events"
	"github.com/haasonsaas/tether/internal/mcp"
	"github.com/haasonsaas/tether/internal/observability"
	"github.com/haasonsaas/tether/internal/provider"
	"github.com/haasonsaas/tether/internal/sessions"
	"github.com/haasonsaas/tether/internal/skills"
	"github.com/haasonsaas/tether/internal/terminal"
	"github.com/haasonsaas/tether/internal/tokens"
	"github.com/haasonsaas/tether/internal/transcript"
	"github.com/haasonsaas/tether/pkg/models"
)

// ErrRunActive is returned by operations that require a quiet session.
var ErrRunActive = errors.New("session has a run in flight")

const checkpointTimeout = 10 * time.Second

// Options wires an Engine's collaborators.
type Options struct {
	Config    *config.Config
	Store     sessions.Store
	Providers *provider.Registry
	Terminals terminal.Resolver

	// Model overrides the default provider's model choice.
	Model string

	Tokens   *tokens.Manager
	Decider  *decision.Decider
	Skills   *skills.Library
	External *mcp.Manager
	Policy   *cmdpolicy.Evaluator
	Approver cmdpolicy.Approver
	Sink     events.Sink
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// Engine is the orchestration core.
type Engine struct {
	store     sessions.Store
	providers *provider.Registry
	terminals terminal.Resolver
	tokens    *tokens.Manager
	decider   *decision.Decider
	skills    *skills.Library
	external  *mcp.Manager
	policy    *cmdpolicy.Evaluator
	approver  cmdpolicy.Approver
	sink      events.Sink
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer

	model          string
	systemPrompt   string
	recursionLimit int

	mu     sync.Mutex
	active map[string]*activeRun
}

// activeRun tracks one in-flight run for single-flight dispatch.
type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	state  *runState
}

// New builds an Engine. Store, Providers, and Terminals are required;
// everything else has a working default.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Providers == nil {
		return nil, errors.New("engine: provider registry is required")
	}
	if opts.Terminals == nil {
		return nil, errors.New("engine: terminal resolver is required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	manager := opts.Tokens
	if manager == nil {
		manager = tokens.NewManager(tokens.Config{
			OutputReserve:  cfg.Tokens.OutputReserve,
			ProtectRecent:  cfg.Tokens.ProtectRecent,
			PruneProtect:   cfg.Tokens.PruneProtect,
			PruneMinimum:   cfg.Tokens.PruneMinimum,
			ProtectedTools: cfg.Tokens.ProtectedTools,
		})
	}

	policy := opts.Policy
	if policy == nil {
		policy = cmdpolicy.NewEvaluator(cmdpolicy.Mode(cfg.Engine.ApprovalMode))
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "tether"})
	}

	return &Engine{
		store:          opts.Store,
		providers:      opts.Providers,
		terminals:      opts.Terminals,
		tokens:         manager,
		decider:        opts.Decider,
		skills:         opts.Skills,
		external:       opts.External,
		policy:         policy,
		approver:       opts.Approver,
		sink:           opts.Sink,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		tracer:         tracer,
		model:          opts.Model,
		systemPrompt:   cfg.Engine.SystemPrompt,
		recursionLimit: cfg.Engine.RecursionLimit,
		active:         make(map[string]*activeRun),
	}, nil
}

// Dispatch runs one turn for the session and blocks until it concludes.
// If the session already has a run in flight, that run is canceled and
// awaited first, so a session never has two runs racing its transcript.
// Cancellation of the new run is a normal conclusion, not an error.
func (e *Engine) Dispatch(ctx context.Context, sessionID, terminalID, userInput string) error {
	if strings.TrimSpace(userInput) == "" {
		return errors.New("engine: empty user input")
	}
	if sessionID == "" {
		return errors.New("engine: session id is required")
	}

	e.mu.Lock()
	for {
		prev := e.active[sessionID]
		if prev == nil {
			break
		}
		prev.cancel()
		e.mu.Unlock()
		<-prev.done
		e.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	ar := &activeRun{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.active[sessionID] = ar
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		if e.active[sessionID] == ar {
			delete(e.active, sessionID)
		}
		e.mu.Unlock()
		close(ar.done)
	}()

	return e.run(runCtx, ar, sessionID, terminalID, userInput)
}

// Cancel requests cancellation of the session's in-flight run, if any.
func (e *Engine) Cancel(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ar := e.active[sessionID]
	if ar == nil {
		return false
	}
	ar.cancel()
	return true
}

// SkipWait releases a pending wait_for_task in the session's run without
// canceling anything. The awaited task keeps running.
func (e *Engine) SkipWait(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ar := e.active[sessionID]
	if ar == nil || ar.state == nil {
		return false
	}
	ar.state.skip.Store(true)
	return true
}

// Rollback removes the identified message and everything after it from
// the session's durable log. Refused while a run is in flight; rollback
// is the one operation allowed to shrink the full log and must not race
// an appender.
func (e *Engine) Rollback(ctx context.Context, sessionID, messageID string) (int, error) {
	e.mu.Lock()
	busy := e.active[sessionID] != nil
	e.mu.Unlock()
	if busy {
		return 0, ErrRunActive
	}
	return e.store.RollbackToMessage(ctx, sessionID, messageID)
}

func (e *Engine) run(ctx context.Context, ar *activeRun, sessionID, terminalID, userInput string) error {
	ctx = observability.AddSessionID(observability.AddRunID(ctx, ar.id), sessionID)
	ctx, runSpan := e.tracer.TraceRun(ctx, sessionID, ar.id)
	defer runSpan.End()
	start := time.Now()

	session, log, err := e.store.LoadSession(ctx, sessionID)
	fresh := false
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		fresh = true
		now := time.Now().UTC()
		session = &models.Session{
			ID:              sessionID,
			BoundTerminalID: terminalID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	case err != nil:
		return fmt.Errorf("load session %s: %w", sessionID, err)
	case len(log) == 0:
		fresh = true
	}

	boundID := session.BoundTerminalID
	if boundID == "" {
		boundID = terminalID
		session.BoundTerminalID = terminalID
	}
	term, err := e.terminals.Resolve(boundID)
	if err != nil {
		return fmt.Errorf("resolve terminal %s: %w", boundID, err)
	}

	rs := &runState{
		session:   session,
		term:      term,
		emitter:   events.NewEmitter(e.sink, sessionID, ar.id),
		full:      transcript.Log(log),
		fresh:     fresh,
		userInput: userInput,
	}
	e.mu.Lock()
	ar.state = rs
	e.mu.Unlock()

	if e.decider != nil {
		e.decider.Begin(sessionID)
		defer e.decider.Clear(sessionID)
	}

	if e.metrics != nil {
		e.metrics.RunStarted()
	}
	rs.emit(ctx, models.EngineEvent{Type: models.EventRunStarted})
	if e.logger != nil {
		attrs := []any{"terminal_id", boundID, "fresh", fresh}
		if traceID := observability.GetTraceID(ctx); traceID != "" {
			attrs = append(attrs, "trace_id", traceID)
		}
		e.logger.Info(ctx, "run started", attrs...)
	}

	runErr := e.runLoop(ctx, rs)
	e.checkpoint(ctx, rs)

	outcome := "ok"
	switch {
	case runErr == nil:
		final := ""
		if rs.assistant != nil {
			final = rs.assistant.Content
		}
		rs.emit(ctx, models.EngineEvent{
			Type:   models.EventRunFinished,
			Stream: &models.StreamEventPayload{Final: final},
		})
		if e.logger != nil {
			e.logger.Info(ctx, "run finished", "node_visits", rs.visits,
				"duration_ms", time.Since(start).Milliseconds())
		}
	case IsCancellation(runErr):
		outcome = "cancelled"
		rs.emit(ctx, models.EngineEvent{Type: models.EventRunCancelled})
		if e.logger != nil {
			e.logger.Info(ctx, "run cancelled", "node_visits", rs.visits)
		}
		// Expected conclusion: the checkpoint holds whatever was seen.
		runErr = nil
	default:
		outcome = "error"
		e.tracer.RecordError(runSpan, runErr)
		rs.emit(ctx, models.EngineEvent{
			Type:  models.EventRunError,
			Error: &models.ErrorEventPayload{Message: runErr.Error(), Err: runErr},
		})
		if e.logger != nil {
			e.logger.Error(ctx, "run failed", "error", runErr)
		}
	}

	e.tracer.SetAttributes(runSpan, "run.outcome", outcome, "run.node_visits", rs.visits)

	if e.metrics != nil {
		e.metrics.RunFinished(outcome, time.Since(start).Seconds())
	}
	return runErr
}

// checkpoint flushes the durable log, folding in any aborted partial so a
// later turn sees exactly what the user saw. Persistence failures never
// change the run's outcome; they are logged and the in-memory state stays
// authoritative for this process.
func (e *Engine) checkpoint(ctx context.Context, rs *runState) {
	if rs.partial != nil {
		rs.full = rs.full.Append(rs.partial)
		rs.partial = nil
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	saveCtx, span := e.tracer.TraceStoreQuery(saveCtx, "save_session")
	defer span.End()

	rs.session.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveSession(saveCtx, rs.session, transcript.ToPersisted(rs.full)); err != nil {
		perr := &PersistenceError{Op: "save_session", Err: err}
		e.tracer.RecordError(span, perr)
		if e.logger != nil {
			e.logger.Error(ctx, "checkpoint failed", "error", perr)
		}
		if e.metrics != nil {
			e.metrics.RecordError("store", "persistence")
		}
	}
}

// contextWindow resolves the token ceiling for the turn. An explicit model
// is sized to its own window; otherwise the budget takes the tightest
// window across the default backend's models, so a session can move
// between them without overflowing.
func (e *Engine) contextWindow() int {
	if e.model != "" {
		return provider.ContextWindowFor(e.model)
	}
	backendModels := e.providers.Default().Models()
	ids := make([]string, 0, len(backendModels))
	for _, m := range backendModels {
		ids = append(ids, m.ID)
	}
	return provider.MinContextWindow(ids...)
}

// envSnapshot describes the terminal's current state for the model. Built
// fresh each turn and never persisted.
func (e *Engine) envSnapshot(term terminal.Terminal) string {
	if term == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are attached to terminal %s.", term.ID())
	if tail := term.RecentOutput(2000); tail != "" {
		b.WriteString("\nRecent terminal output:\n")
		b.WriteString(tail)
	}
	return b.String()
}
