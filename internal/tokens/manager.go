// Package tokens tracks estimated context usage and prunes old tool
// results from the working set when the budget runs low.
package tokens

import (
	"strconv"
	"strings"

	"github.com/haasonsaas/tether/pkg/models"
)

// Config parameterizes budget tracking and pruning.
type Config struct {
	// OutputReserve is held back from the window for model output.
	OutputReserve int

	// ProtectRecent exempts the N most recent tool-result messages.
	ProtectRecent int

	// PruneProtect is the token mass of recent tool results kept verbatim.
	PruneProtect int

	// PruneMinimum is the smallest estimated reclaim worth a rewrite.
	PruneMinimum int

	// ProtectedTools are tool names whose results are never pruned.
	// Their content (skill instructions) must survive for the rest of
	// the session.
	ProtectedTools []string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		OutputReserve:  10000,
		ProtectRecent:  10,
		PruneProtect:   40000,
		PruneMinimum:   20000,
		ProtectedTools: []string{"load_skill"},
	}
}

// Manager answers budget questions for one session.
type Manager struct {
	cfg       Config
	protected map[string]bool
}

// NewManager creates a Manager. Zero-valued config fields fall back to
// defaults.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.OutputReserve == 0 {
		cfg.OutputReserve = def.OutputReserve
	}
	if cfg.ProtectRecent == 0 {
		cfg.ProtectRecent = def.ProtectRecent
	}
	if cfg.PruneProtect == 0 {
		cfg.PruneProtect = def.PruneProtect
	}
	if cfg.PruneMinimum == 0 {
		cfg.PruneMinimum = def.PruneMinimum
	}
	if cfg.ProtectedTools == nil {
		cfg.ProtectedTools = def.ProtectedTools
	}

	protected := make(map[string]bool, len(cfg.ProtectedTools))
	for _, name := range cfg.ProtectedTools {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			protected[name] = true
		}
	}
	return &Manager{cfg: cfg, protected: protected}
}

// Estimate approximates the token count of text as len/4. Exact enough for
// budget decisions; the authoritative count arrives with provider usage
// data.
func Estimate(text string) int {
	return len(text) / 4
}

// EstimateMessage approximates the token count of one message.
func EstimateMessage(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	total := Estimate(msg.Content) + Estimate(msg.Reasoning)
	for _, tc := range msg.ToolCalls {
		total += Estimate(tc.Name) + Estimate(string(tc.Input))
	}
	for _, tr := range msg.ToolResults {
		total += Estimate(tr.Content)
	}
	return total
}

// EstimateLog approximates the token count of a message sequence.
func EstimateLog(msgs []*models.Message) int {
	total := 0
	for _, msg := range msgs {
		total += EstimateMessage(msg)
	}
	return total
}

// IsOverflow reports whether current usage leaves less than the output
// reserve before the window limit.
func (m *Manager) IsOverflow(state models.TokenState) bool {
	if state.MaxTokens <= 0 {
		return false
	}
	return state.CurrentTokens > state.MaxTokens-m.cfg.OutputReserve
}

// Prune rewrites old tool results in the working set to short stubs.
//
// Tool-result messages are scanned newest to oldest. The most recent
// ProtectRecent of them are always kept, as are results of protected
// tools. Beyond those, results are kept until their accumulated estimate
// exceeds PruneProtect; everything older is a candidate. The rewrite
// commits only when the candidates' total estimate exceeds PruneMinimum,
// otherwise the reclaim is not worth invalidating provider-side caches.
//
// Returns the original slice when nothing changes, so callers can compare
// slice identity to decide whether to propagate a new working set.
// Idempotent: pruned stubs estimate near zero and never re-qualify.
func (m *Manager) Prune(messages []*models.Message) []*models.Message {
	toolNames := buildToolCallNameMap(messages)

	type candidate struct {
		msgIndex    int
		resultIndex int
		estimate    int
	}

	var candidates []candidate
	prunableTotal := 0
	resultsSeen := 0
	protectedBudget := 0

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg == nil || len(msg.ToolResults) == 0 {
			continue
		}
		resultsSeen++
		if resultsSeen <= m.cfg.ProtectRecent {
			continue
		}
		for j := range msg.ToolResults {
			tr := msg.ToolResults[j]
			if m.protected[strings.ToLower(toolNames[tr.ToolCallID])] {
				continue
			}
			if isPruneStub(tr.Content) {
				continue
			}
			est := Estimate(tr.Content)
			if protectedBudget < m.cfg.PruneProtect {
				protectedBudget += est
				continue
			}
			candidates = append(candidates, candidate{msgIndex: i, resultIndex: j, estimate: est})
			prunableTotal += est
		}
	}

	if prunableTotal <= m.cfg.PruneMinimum {
		return messages
	}

	var next []*models.Message
	for _, c := range candidates {
		src := messages[c.msgIndex]
		if next != nil {
			src = next[c.msgIndex]
		}
		updated := copyMessageWithToolResults(src)
		updated.ToolResults[c.resultIndex].Content = pruneStub(c.estimate)
		next = ensureMessage(next, messages, c.msgIndex, updated)
	}

	if next == nil {
		return messages
	}
	return next
}

// Reclaimed returns the estimated token difference between two working
// sets, clamped at zero.
func Reclaimed(before, after []*models.Message) int {
	diff := EstimateLog(before) - EstimateLog(after)
	if diff < 0 {
		return 0
	}
	return diff
}

const pruneStubPrefix = "[Old tool result removed to free context"

func pruneStub(estimatedTokens int) string {
	return pruneStubPrefix + ": ~" + strconv.Itoa(estimatedTokens) + " tokens]"
}

func isPruneStub(content string) bool {
	return strings.HasPrefix(content, pruneStubPrefix)
}

func buildToolCallNameMap(messages []*models.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" || tc.Name == "" {
				continue
			}
			names[tc.ID] = tc.Name
		}
	}
	return names
}

func ensureMessage(next []*models.Message, messages []*models.Message, index int, updated *models.Message) []*models.Message {
	if next == nil {
		next = make([]*models.Message, len(messages))
		copy(next, messages)
	}
	next[index] = updated
	return next
}

func copyMessageWithToolResults(msg *models.Message) *models.Message {
	clone := *msg
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
	}
	return &clone
}
