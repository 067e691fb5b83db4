// Package cmdpolicy gates commands the model wants to run.
package cmdpolicy

import (
	"context"
	"regexp"
	"strings"
)

// Mode is the approval posture for command execution.
type Mode string

const (
	// ModeAuto allows anything not explicitly denied.
	ModeAuto Mode = "auto"
	// ModeAsk allows a known-safe set and escalates the rest for approval.
	ModeAsk Mode = "ask"
	// ModeDeny allows only the known-safe set and denies the rest.
	ModeDeny Mode = "deny"
)

// Verdict is the outcome of evaluating one command.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
	VerdictAsk   Verdict = "ask"
)

// Approver resolves VerdictAsk by consulting the user (or an auto-approval
// rule). Returning false denies the command.
type Approver interface {
	RequestApproval(ctx context.Context, command string) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, command string) (bool, error)

func (f ApproverFunc) RequestApproval(ctx context.Context, command string) (bool, error) {
	return f(ctx, command)
}

// Pattern definitions for command safety screening.
var (
	// controlChars matches embedded control characters.
	controlChars = regexp.MustCompile(`[\r\x00]`)

	// destructivePatterns match commands that are never run without an
	// explicit human decision, regardless of mode.
	destructivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+/(\s|$)`),
		regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
		regexp.MustCompile(`(?i)\bdd\b.*\bof=/dev/`),
		regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]\b`),
		regexp.MustCompile(`(?i)\bshutdown\b|\breboot\b|\bhalt\b`),
		regexp.MustCompile(`(?i):\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	}

	// safePrefixes are read-only or low-risk commands allowed in every
	// mode without approval.
	safePrefixes = []string{
		"ls", "cat", "head", "tail", "wc", "pwd", "echo", "which",
		"file", "stat", "du", "df", "ps", "env", "date", "whoami",
		"grep", "rg", "find",
		"git status", "git log", "git diff", "git show", "git branch",
	}
)

// Evaluator applies mode rules plus deny/allow lists to commands.
type Evaluator struct {
	mode       Mode
	extraDeny  []*regexp.Regexp
	extraAllow []string
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithDenyPatterns adds regex patterns that force VerdictDeny.
func WithDenyPatterns(patterns ...*regexp.Regexp) Option {
	return func(e *Evaluator) {
		e.extraDeny = append(e.extraDeny, patterns...)
	}
}

// WithAllowPrefixes adds command prefixes treated as safe.
func WithAllowPrefixes(prefixes ...string) Option {
	return func(e *Evaluator) {
		e.extraAllow = append(e.extraAllow, prefixes...)
	}
}

// NewEvaluator creates an Evaluator with the given mode.
func NewEvaluator(mode Mode, opts ...Option) *Evaluator {
	e := &Evaluator{mode: mode}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate classifies a command.
//
// Order matters: malformed and destructive commands are denied before any
// allow rule is consulted, so an allow prefix can never rescue `rm -rf /`.
func (e *Evaluator) Evaluate(command string) Verdict {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return VerdictDeny
	}
	if controlChars.MatchString(trimmed) {
		return VerdictDeny
	}
	for _, re := range destructivePatterns {
		if re.MatchString(trimmed) {
			return VerdictDeny
		}
	}
	for _, re := range e.extraDeny {
		if re.MatchString(trimmed) {
			return VerdictDeny
		}
	}

	if e.isSafe(trimmed) {
		return VerdictAllow
	}

	switch e.mode {
	case ModeAuto:
		return VerdictAllow
	case ModeDeny:
		return VerdictDeny
	default:
		return VerdictAsk
	}
}

func (e *Evaluator) isSafe(command string) bool {
	// A compound command is only as safe as its parts; punt to the mode.
	if strings.ContainsAny(command, ";|&`$(<>") {
		return false
	}
	for _, prefix := range safePrefixes {
		if matchesPrefix(command, prefix) {
			return true
		}
	}
	for _, prefix := range e.extraAllow {
		if matchesPrefix(command, prefix) {
			return true
		}
	}
	return false
}

func matchesPrefix(command, prefix string) bool {
	if command == prefix {
		return true
	}
	return strings.HasPrefix(command, prefix+" ")
}
