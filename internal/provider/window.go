package provider

import "strings"

// DefaultContextWindow is assumed when a model is unknown.
const DefaultContextWindow = 128000

// modelContextWindows maps model ID prefixes to context window sizes.
// Longest prefix wins, so dated variants resolve through their family.
var modelContextWindows = map[string]int{
	// Anthropic models
	"claude-3-opus":     200000,
	"claude-3-sonnet":   200000,
	"claude-3-haiku":    200000,
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"claude-opus-4":     200000,
	"claude-sonnet-4":   200000,
	"claude-haiku-4":    200000,

	// OpenAI models
	"gpt-4":             8192,
	"gpt-4-32k":         32768,
	"gpt-4-turbo":       128000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-4.1":           1047576,
	"gpt-3.5-turbo":     16385,
	"gpt-3.5-turbo-16k": 16385,
	"o1":                200000,
	"o1-mini":           128000,
	"o1-preview":        128000,
	"o3":                200000,
	"o3-mini":           200000,
	"o4-mini":           200000,
}

// ContextWindowFor returns the context window for a model ID, matching the
// longest known prefix. Unknown models get DefaultContextWindow.
func ContextWindowFor(model string) int {
	if window, ok := modelContextWindows[model]; ok {
		return window
	}
	best := 0
	bestLen := -1
	for prefix, window := range modelContextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = window
			bestLen = len(prefix)
		}
	}
	if bestLen < 0 {
		return DefaultContextWindow
	}
	return best
}

// MinContextWindow returns the smallest context window across the given
// model IDs. An empty list gets DefaultContextWindow. The token budget is
// sized to the tightest model so a session can move between them freely.
func MinContextWindow(modelIDs ...string) int {
	if len(modelIDs) == 0 {
		return DefaultContextWindow
	}
	min := ContextWindowFor(modelIDs[0])
	for _, id := range modelIDs[1:] {
		if w := ContextWindowFor(id); w < min {
			min = w
		}
	}
	return min
}
