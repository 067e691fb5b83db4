package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestModelRequestSchedule(t *testing.T) {
	s := ModelRequestSchedule()
	if got := s.MaxAttempts(); got != 5 {
		t.Errorf("MaxAttempts() = %d, want 5", got)
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 6 * time.Second}
	for i, w := range want {
		if got := s.DelayFor(i + 1); got != w {
			t.Errorf("DelayFor(%d) = %v, want %v", i+1, got, w)
		}
	}
	// Attempts past the schedule reuse the last delay.
	if got := s.DelayFor(9); got != 6*time.Second {
		t.Errorf("DelayFor(9) = %v, want 6s", got)
	}
}

func TestRetryWithScheduleStopsOnNonRetriable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := RetryWithSchedule(context.Background(),
		FixedSchedule{Delays: []time.Duration{time.Millisecond}},
		func(err error) bool { return !errors.Is(err, permanent) },
		func(int) (int, error) {
			calls++
			return 0, permanent
		})
	if !errors.Is(err, permanent) {
		t.Errorf("err = %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithScheduleExhaustsAndReturnsLastError(t *testing.T) {
	flaky := errors.New("transient")
	calls := 0
	_, err := RetryWithSchedule(context.Background(),
		FixedSchedule{Delays: []time.Duration{time.Millisecond, time.Millisecond}},
		nil,
		func(int) (int, error) {
			calls++
			return 0, flaky
		})
	if !errors.Is(err, flaky) {
		t.Errorf("err = %v, want transient", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithScheduleCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryWithSchedule(ctx,
		FixedSchedule{Delays: []time.Duration{time.Minute}},
		nil,
		func(int) (int, error) {
			calls++
			cancel()
			return 0, errors.New("transient")
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
