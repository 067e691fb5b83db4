package engine

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError means a tool call's arguments failed schema validation.
// It is absorbed into the conversation as that call's result text and
// never aborts a run.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// ModelInvocationError means the model could not be reached after the full
// retry schedule. It is the only error class (besides internal panics)
// that terminates a run visibly.
type ModelInvocationError struct {
	Provider string
	Model    string
	Attempts int
	Err      error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model request failed after %d attempts (%s/%s): %v",
		e.Attempts, e.Provider, e.Model, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a failure inside one executor. Caught locally
// and rendered as the tool's result text; the run continues.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// PersistenceError wraps a checkpoint-save failure. Logged best-effort;
// never fails an otherwise-successful run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrRecursionLimit terminates a run whose state machine exceeded the
// configured node-visit bound.
var ErrRecursionLimit = errors.New("run exceeded recursion limit")

// IsCancellation reports whether an error is a cooperative cancellation.
// Cancellations are expected, suppressed from error reporting, and still
// trigger a checkpoint save.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
