package terminal

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local is a Terminal backed by a shell subprocess per command. It is the
// default host for single-machine CLI usage; richer hosts (tmux bridges,
// remote daemons) implement the same interface elsewhere.
type Local struct {
	id    string
	shell string
	dir   string

	mu         sync.Mutex
	foreground bool
	tasks      map[string]*localTask
	output     bytes.Buffer
}

type localTask struct {
	done   chan struct{}
	result CommandResult
	err    error
}

// NewLocal creates a local terminal rooted at dir (empty means inherit).
func NewLocal(dir string) *Local {
	return &Local{
		id:    uuid.NewString(),
		shell: "/bin/sh",
		dir:   dir,
		tasks: map[string]*localTask{},
	}
}

func (l *Local) ID() string {
	return l.id
}

func (l *Local) RunCommandAndWait(ctx context.Context, command string) (CommandResult, error) {
	l.mu.Lock()
	if l.foreground {
		l.mu.Unlock()
		return CommandResult{}, ErrForegroundBusy
	}
	l.foreground = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.foreground = false
		l.mu.Unlock()
	}()

	return l.run(ctx, command)
}

func (l *Local) RunCommandNoWait(command string) (string, error) {
	taskID := uuid.NewString()
	task := &localTask{done: make(chan struct{})}

	l.mu.Lock()
	l.tasks[taskID] = task
	l.mu.Unlock()

	go func() {
		defer close(task.done)
		task.result, task.err = l.run(context.Background(), command)
	}()

	return taskID, nil
}

// waitSkipPoll is how often WaitForTask re-checks its skip predicate
// while blocked on a running task.
const waitSkipPoll = 50 * time.Millisecond

func (l *Local) WaitForTask(ctx context.Context, taskID string, shouldSkip func() bool) (CommandResult, bool, error) {
	l.mu.Lock()
	task, ok := l.tasks[taskID]
	l.mu.Unlock()
	if !ok {
		return CommandResult{}, false, ErrTaskNotFound
	}

	if shouldSkip == nil {
		select {
		case <-ctx.Done():
			return CommandResult{}, false, ctx.Err()
		case <-task.done:
			return task.result, false, task.err
		}
	}

	ticker := time.NewTicker(waitSkipPoll)
	defer ticker.Stop()
	for {
		if shouldSkip() {
			return CommandResult{}, true, nil
		}
		select {
		case <-ctx.Done():
			return CommandResult{}, false, ctx.Err()
		case <-task.done:
			return task.result, false, task.err
		case <-ticker.C:
		}
	}
}

func (l *Local) RecentOutput(maxBytes int) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.output.Bytes()
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}
	return string(out)
}

func (l *Local) run(ctx context.Context, command string) (CommandResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, l.shell, "-c", command)
	cmd.Dir = l.dir

	combined, err := cmd.CombinedOutput()

	l.mu.Lock()
	l.output.Write(combined)
	l.mu.Unlock()

	result := CommandResult{
		Output:   string(combined),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return result, err
	}
	// Non-zero exits are reported through ExitCode, not as Go errors.
	return result, nil
}

func (l *Local) StatFile(path string) (FileInfo, error) {
	info, err := os.Stat(l.resolvePath(path))
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (l *Local) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(l.resolvePath(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Local) WriteFile(path, content string) error {
	return os.WriteFile(l.resolvePath(path), []byte(content), 0o644)
}

func (l *Local) resolvePath(path string) string {
	if filepath.IsAbs(path) || l.dir == "" {
		return path
	}
	return filepath.Join(l.dir, path)
}
