package backoff

import (
	"context"
	"time"
)

// FixedSchedule is a retry schedule with explicit per-attempt delays.
// The delay after attempt N is Delays[N-1]; attempts beyond the schedule
// reuse the last delay. An empty schedule means no waiting.
type FixedSchedule struct {
	Delays []time.Duration
}

// ModelRequestSchedule is the schedule used for model invocation retries:
// 1s, 2s, 4s, 6s between the four attempts.
func ModelRequestSchedule() FixedSchedule {
	return FixedSchedule{Delays: []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		6 * time.Second,
	}}
}

// MaxAttempts returns the number of attempts the schedule covers,
// which is one more than the number of inter-attempt delays.
func (s FixedSchedule) MaxAttempts() int {
	return len(s.Delays) + 1
}

// DelayFor returns the delay to wait after the given attempt (1-indexed).
func (s FixedSchedule) DelayFor(attempt int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Delays) {
		idx = len(s.Delays) - 1
	}
	return s.Delays[idx]
}

// RetryWithSchedule executes fn up to schedule.MaxAttempts() times, sleeping
// the scheduled delay between attempts. Unlike RetryWithBackoff the delays
// are exact, with no jitter.
//
// retriable gates whether an error is worth another attempt; a nil predicate
// retries every error. Context cancellation stops retrying immediately and
// returns ctx.Err().
func RetryWithSchedule[T any](
	ctx context.Context,
	schedule FixedSchedule,
	retriable func(error) bool,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := schedule.MaxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if retriable != nil && !retriable(err) {
			return zero, err
		}

		if attempt < maxAttempts {
			if err := SleepWithContext(ctx, schedule.DelayFor(attempt)); err != nil {
				return zero, err
			}
		}
	}

	if lastErr != nil {
		return zero, lastErr
	}
	return zero, ErrMaxAttemptsExhausted
}
