// Package decision delegates small yes/no judgments to a secondary model.
// The primary run loop asks it questions like "will this command block
// until done?" and always gets an answer: on any failure the conservative
// choice comes back instead of an error.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/tether/internal/backoff"
	"github.com/haasonsaas/tether/internal/config"
	"github.com/haasonsaas/tether/internal/observability"
	"github.com/haasonsaas/tether/internal/provider"
	"github.com/haasonsaas/tether/pkg/models"
)

// BlockDecision is the structured answer to "will this command block?".
type BlockDecision struct {
	// Blocks is true when the command runs to completion and should be
	// awaited in the foreground.
	Blocks bool `json:"blocks" jsonschema:"description=True if the command runs to completion and the caller should wait for it"`

	// Reason is a short justification.
	Reason string `json:"reason,omitempty" jsonschema:"description=One-sentence justification"`
}

// conservativeDefault is returned when no decision could be obtained:
// waiting on a command is always safe, backgrounding one that needed
// awaiting is not.
var conservativeDefault = BlockDecision{Blocks: true, Reason: "decision unavailable, defaulting to wait"}

const decisionSystemPrompt = `You judge terminal commands for an autonomous assistant.
Given recent conversation context and a command, decide whether the command
runs to completion on its own (blocks=true) or starts a long-lived process
such as a server or watcher that never exits (blocks=false).
Respond with a single JSON object matching the schema. No prose.`

// fallbackState tracks the sticky per-session decoding mode.
type fallbackState struct {
	freeform bool
}

// Decider asks a secondary model for structured decisions, with a sticky
// per-session fallback from strict schema decoding to freeform JSON
// extraction.
type Decider struct {
	client      provider.StructuredClient
	model       string
	maxAttempts int
	retryPolicy backoff.BackoffPolicy
	timeout     time.Duration
	historyTail int

	schema     *jsonschema.Schema
	schemaJSON string

	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*fallbackState
}

// NewDecider creates a Decider using the given structured-completion
// client.
func NewDecider(client provider.StructuredClient, cfg config.DecisionConfig, logger *observability.Logger, metrics *observability.Metrics) (*Decider, error) {
	reflector := &invopop.Reflector{DoNotReference: true}
	derived := reflector.Reflect(&BlockDecision{})
	schemaBytes, err := json.Marshal(derived)
	if err != nil {
		return nil, fmt.Errorf("marshal decision schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("decision.schema.json", string(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	historyTail := cfg.HistoryTail
	if historyTail <= 0 {
		historyTail = 12
	}

	return &Decider{
		client:      client,
		model:       cfg.Model,
		maxAttempts: maxAttempts,
		retryPolicy: backoff.DefaultPolicy(),
		timeout:     cfg.Timeout.Std(),
		historyTail: historyTail,
		schema:      compiled,
		schemaJSON:  string(schemaBytes),
		logger:      logger,
		metrics:     metrics,
		sessions:    map[string]*fallbackState{},
	}, nil
}

// Begin registers a session at run start. The fallback flag starts clean.
func (d *Decider) Begin(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sessions[sessionID]; !ok {
		d.sessions[sessionID] = &fallbackState{}
	}
}

// Clear drops a session's fallback state when its run ends.
func (d *Decider) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}

// InFallback reports whether a session has flipped to freeform decoding.
func (d *Decider) InFallback(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.sessions[sessionID]
	return ok && state.freeform
}

func (d *Decider) markFallback(ctx context.Context, sessionID string) {
	d.mu.Lock()
	state, ok := d.sessions[sessionID]
	if !ok {
		state = &fallbackState{}
		d.sessions[sessionID] = state
	}
	already := state.freeform
	state.freeform = true
	d.mu.Unlock()

	if !already {
		if d.logger != nil {
			d.logger.Warn(ctx, "structured decision decoding failed, session switched to freeform",
				"session_id", sessionID)
		}
		if d.metrics != nil {
			d.metrics.RecordDecisionFallback()
		}
	}
}

// WillBlock decides whether a command should be awaited in the foreground.
// Attempts back off with jitter so a struggling secondary model is not
// hammered. It never fails the turn: once the configured attempts are
// exhausted it returns the conservative default and logs the anomaly.
func (d *Decider) WillBlock(ctx context.Context, sessionID, command string, history []*models.Message) BlockDecision {
	prompt := d.buildPrompt(command, history)

	result, err := backoff.RetryWithBackoff(ctx, d.retryPolicy, d.maxAttempts,
		func(attempt int) (BlockDecision, error) {
			return d.decideOnce(ctx, sessionID, prompt)
		})
	if err == nil {
		return result.Value
	}

	if d.logger != nil {
		d.logger.Warn(ctx, "decision exhausted retries, using conservative default",
			"session_id", sessionID, "error", result.LastError)
	}
	return conservativeDefault
}

func (d *Decider) decideOnce(ctx context.Context, sessionID, prompt string) (BlockDecision, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	strict := !d.InFallback(sessionID)
	req := &provider.Request{
		Model:  d.model,
		System: decisionSystemPrompt + "\n\nSchema:\n" + d.schemaJSON,
		Messages: []*models.Message{
			{Role: models.RoleUser, Content: prompt},
		},
		MaxTokens: 256,
		ForceJSON: strict,
	}

	raw, err := d.client.Complete(ctx, req)
	if err != nil {
		return BlockDecision{}, err
	}

	if strict {
		decision, err := d.decodeStrict(raw)
		if err == nil {
			return decision, nil
		}
		// One strict failure flips the session for good.
		d.markFallback(ctx, sessionID)
	}
	return decodeFreeform(raw)
}

// decodeStrict validates the response against the derived schema before
// decoding it.
func (d *Decider) decodeStrict(raw string) (BlockDecision, error) {
	var loose any
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return BlockDecision{}, fmt.Errorf("decision response is not JSON: %w", err)
	}
	if err := d.schema.Validate(loose); err != nil {
		return BlockDecision{}, fmt.Errorf("decision response fails schema: %w", err)
	}
	var decision BlockDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return BlockDecision{}, err
	}
	return decision, nil
}

// decodeFreeform pulls the first JSON object out of arbitrary model text.
func decodeFreeform(raw string) (BlockDecision, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return BlockDecision{}, fmt.Errorf("no JSON object in decision response")
	}
	var decision BlockDecision
	if err := json.Unmarshal([]byte(obj), &decision); err != nil {
		return BlockDecision{}, fmt.Errorf("decode decision object: %w", err)
	}
	return decision, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// tolerating surrounding prose and code fences.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// buildPrompt condenses recent history into a compact transcript and
// appends the question. Tool-result bulk is elided; only the shape of the
// conversation matters for the judgment.
func (d *Decider) buildPrompt(command string, history []*models.Message) string {
	var b strings.Builder

	tail := reduceHistory(history, d.historyTail)
	if len(tail) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, msg := range tail {
			b.WriteString(string(msg.Role))
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Command to judge:\n")
	b.WriteString(command)
	return b.String()
}

// reduceHistory keeps the system message plus the last n turns, replacing
// tool-result content with a short marker.
func reduceHistory(history []*models.Message, n int) []*models.Message {
	var system *models.Message
	var rest []*models.Message
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			if system == nil {
				system = msg
			}
			continue
		}
		rest = append(rest, msg)
	}
	if len(rest) > n {
		rest = rest[len(rest)-n:]
	}

	out := make([]*models.Message, 0, len(rest)+1)
	if system != nil {
		out = append(out, system)
	}
	for _, msg := range rest {
		if msg.Role == models.RoleTool {
			out = append(out, &models.Message{Role: msg.Role, Content: "[tool output omitted]"})
			continue
		}
		out = append(out, msg)
	}
	return out
}
