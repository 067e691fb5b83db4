package backoff

import (
	"testing"
	"time"
)

func TestComputeBackoffWithRand(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 1000, Factor: 2, Jitter: 0}

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first attempt", 1, 100 * time.Millisecond},
		{"second attempt doubles", 2, 200 * time.Millisecond},
		{"third attempt quadruples", 3, 400 * time.Millisecond},
		{"clamped to max", 6, 1000 * time.Millisecond},
		{"zero attempt treated as first", 0, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBackoffWithRand(policy, tt.attempt, 0.5)
			if got != tt.want {
				t.Errorf("ComputeBackoffWithRand(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestComputeBackoffJitter(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.5}

	// randomValue 1.0 applies the full jitter fraction
	got := ComputeBackoffWithRand(policy, 1, 1.0)
	if got != 150*time.Millisecond {
		t.Errorf("full jitter = %v, want 150ms", got)
	}

	got = ComputeBackoffWithRand(policy, 1, 0)
	if got != 100*time.Millisecond {
		t.Errorf("zero jitter = %v, want 100ms", got)
	}
}
