package terminal

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalRunCommandAndWait(t *testing.T) {
	term := NewLocal(t.TempDir())
	result, err := term.RunCommandAndWait(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("RunCommandAndWait: %v", err)
	}
	if !strings.Contains(result.Output, "hello") {
		t.Errorf("Output = %q, want to contain hello", result.Output)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestLocalNonZeroExitIsNotAnError(t *testing.T) {
	term := NewLocal(t.TempDir())
	result, err := term.RunCommandAndWait(context.Background(), "exit 3")
	if err != nil {
		t.Fatalf("RunCommandAndWait: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestLocalForegroundBusy(t *testing.T) {
	term := NewLocal(t.TempDir())

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		term.RunCommandAndWait(context.Background(), "sleep 1")
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, err := term.RunCommandAndWait(context.Background(), "echo nope")
	if !errors.Is(err, ErrForegroundBusy) {
		t.Errorf("second foreground command err = %v, want ErrForegroundBusy", err)
	}
	<-done
}

func TestLocalBackgroundTask(t *testing.T) {
	term := NewLocal(t.TempDir())
	taskID, err := term.RunCommandNoWait("echo background")
	if err != nil {
		t.Fatalf("RunCommandNoWait: %v", err)
	}

	result, skipped, err := term.WaitForTask(context.Background(), taskID, nil)
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if skipped {
		t.Error("WaitForTask skipped without a skip predicate")
	}
	if !strings.Contains(result.Output, "background") {
		t.Errorf("Output = %q", result.Output)
	}
}

func TestLocalWaitForTaskSkip(t *testing.T) {
	term := NewLocal(t.TempDir())
	taskID, err := term.RunCommandNoWait("sleep 5")
	if err != nil {
		t.Fatalf("RunCommandNoWait: %v", err)
	}

	_, skipped, err := term.WaitForTask(context.Background(), taskID, func() bool { return true })
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if !skipped {
		t.Error("WaitForTask did not honor skip predicate")
	}
}

func TestLocalWaitForTaskSkipFiredMidWait(t *testing.T) {
	term := NewLocal(t.TempDir())
	taskID, err := term.RunCommandNoWait("sleep 5")
	if err != nil {
		t.Fatalf("RunCommandNoWait: %v", err)
	}

	var skip atomic.Bool
	released := make(chan struct{})
	var skipped bool
	var waitErr error
	go func() {
		defer close(released)
		_, skipped, waitErr = term.WaitForTask(context.Background(), taskID, skip.Load)
	}()

	time.Sleep(100 * time.Millisecond)
	skip.Store(true)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForTask did not release after the skip predicate fired")
	}
	if waitErr != nil {
		t.Fatalf("WaitForTask: %v", waitErr)
	}
	if !skipped {
		t.Error("skipped = false, want true")
	}
}

func TestLocalWaitForUnknownTask(t *testing.T) {
	term := NewLocal(t.TempDir())
	_, _, err := term.WaitForTask(context.Background(), "ghost", nil)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestLocalFileOps(t *testing.T) {
	term := NewLocal(t.TempDir())

	if err := term.WriteFile("notes.txt", "first draft"); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	content, err := term.ReadFile("notes.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "first draft" {
		t.Errorf("content = %q", content)
	}
	info, err := term.StatFile("notes.txt")
	if err != nil {
		t.Fatalf("StatFile: %v", err)
	}
	if info.Size != int64(len("first draft")) || info.IsDir {
		t.Errorf("info = %+v", info)
	}
}

func TestLocalRecentOutputTruncates(t *testing.T) {
	term := NewLocal(t.TempDir())
	if _, err := term.RunCommandAndWait(context.Background(), "printf 'aaaaabbbbb'"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := term.RecentOutput(5); got != "bbbbb" {
		t.Errorf("RecentOutput(5) = %q, want bbbbb", got)
	}
}
