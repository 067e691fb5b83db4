package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/tether/internal/provider"
)

func errorTurn(msg string) scriptedTurn {
	return scriptedTurn{chunks: []*provider.Chunk{{Error: errors.New(msg)}}}
}

func TestModelRetryThenSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out a retry delay")
	}
	h := newTestHarness(t, []scriptedTurn{
		errorTurn("429 too many requests"),
		textTurn("recovered"),
	}, nil)

	if err := h.engine.Dispatch(context.Background(), "s1", "t1", "hello"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if n := h.provider.requestCount(); n != 2 {
		t.Fatalf("made %d model requests, want 2 (one retry)", n)
	}

	log := h.persistedLog(t, "s1")
	last := log[len(log)-1]
	if last.Content != "recovered" || last.Aborted {
		t.Errorf("final message = %q aborted=%v, want clean recovery", last.Content, last.Aborted)
	}
}

func TestModelTerminalError(t *testing.T) {
	h := newTestHarness(t, []scriptedTurn{
		errorTurn("invalid_request: model does not exist"),
	}, nil)

	err := h.engine.Dispatch(context.Background(), "s1", "t1", "hello")
	var mie *ModelInvocationError
	if !errors.As(err, &mie) {
		t.Fatalf("Dispatch() error = %v, want ModelInvocationError", err)
	}
	if mie.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (non-retryable)", mie.Attempts)
	}
}

func TestModelErrorKeepsPartialText(t *testing.T) {
	h := newTestHarness(t, []scriptedTurn{
		{chunks: []*provider.Chunk{
			{Text: "Starting the"},
			{Error: errors.New("invalid api key")},
		}},
	}, nil)

	err := h.engine.Dispatch(context.Background(), "s1", "t1", "hello")
	if err == nil {
		t.Fatal("Dispatch() error = nil, want model failure")
	}

	log := h.persistedLog(t, "s1")
	last := log[len(log)-1]
	if !last.Aborted || last.Content != "Starting the" {
		t.Errorf("last message = %+v, want aborted partial %q", last, "Starting the")
	}
}
