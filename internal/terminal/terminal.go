// Package terminal defines the engine's contract with the terminal host.
// Tether does not own PTY lifecycles; a host (shell wrapper, daemon, test
// fake) provides these capabilities for each bound terminal.
package terminal

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrForegroundBusy is returned when a foreground command is requested
// while another foreground command holds the terminal. Executors surface
// it as an ordinary tool failure, never as a run-fatal error.
var ErrForegroundBusy = errors.New("terminal foreground is busy")

// ErrTaskNotFound is returned when waiting on an unknown background task.
var ErrTaskNotFound = errors.New("background task not found")

// CommandResult is the outcome of a finished command.
type CommandResult struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// FileInfo is the subset of stat data executors report to the model.
type FileInfo struct {
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	IsDir   bool
}

// Terminal is one bound terminal's capability surface.
type Terminal interface {
	// ID identifies the terminal for session binding.
	ID() string

	// RunCommandAndWait executes a command in the foreground and blocks
	// until it finishes or ctx is done. Returns ErrForegroundBusy when
	// the foreground is already occupied.
	RunCommandAndWait(ctx context.Context, command string) (CommandResult, error)

	// RunCommandNoWait starts a command in the background and returns a
	// task ID for WaitForTask.
	RunCommandNoWait(command string) (string, error)

	// WaitForTask blocks until the identified background task finishes.
	// shouldSkip is polled before blocking; when it reports true the wait
	// is skipped entirely and ErrSkipped-free zero result returned with
	// skipped=true.
	WaitForTask(ctx context.Context, taskID string, shouldSkip func() bool) (result CommandResult, skipped bool, err error)

	// RecentOutput returns up to maxBytes of the terminal's trailing
	// output, foreground and background interleaved as displayed.
	RecentOutput(maxBytes int) string

	// StatFile, ReadFile, and WriteFile access the filesystem the
	// terminal sees.
	StatFile(path string) (FileInfo, error)
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
}

// Resolver maps a terminal ID to a live Terminal.
type Resolver interface {
	// Resolve returns the terminal bound to the session. A failed
	// resolve aborts startup; runs cannot proceed without a terminal.
	Resolve(id string) (Terminal, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(id string) (Terminal, error)

func (f ResolverFunc) Resolve(id string) (Terminal, error) {
	return f(id)
}
