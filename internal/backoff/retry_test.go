package backoff

import (
	"context"
	"errors"
	"testing"
)

var errFlaky = errors.New("flaky")

func fastPolicy() BackoffPolicy {
	return BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0}
}

func TestRetryWithBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	result, err := RetryWithBackoff(context.Background(), fastPolicy(), 5, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errFlaky
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff: %v", err)
	}
	if result.Value != "done" {
		t.Errorf("Value = %q, want done", result.Value)
	}
	if result.Attempts != 3 || calls != 3 {
		t.Errorf("Attempts = %d (calls %d), want 3", result.Attempts, calls)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	result, err := RetryWithBackoff(context.Background(), fastPolicy(), 3, func(int) (int, error) {
		return 0, errFlaky
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("err = %v, want ErrMaxAttemptsExhausted", err)
	}
	if !errors.Is(result.LastError, errFlaky) {
		t.Errorf("LastError = %v, want errFlaky", result.LastError)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetryWithBackoffRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithBackoff(ctx, fastPolicy(), 3, func(int) (int, error) {
		t.Fatal("fn called after cancellation")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
