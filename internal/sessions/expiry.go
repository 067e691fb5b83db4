package sessions

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/tether/internal/observability"
)

// Sweeper purges sessions idle past a TTL on a cron schedule.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	schedule string
	logger   *observability.Logger
	cron     *cron.Cron
	nowFunc  func() time.Time
}

// NewSweeper creates a sweeper. A zero ttl disables sweeping entirely.
func NewSweeper(store Store, ttl time.Duration, schedule string, logger *observability.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Start schedules the sweep. Returns without scheduling when ttl is zero.
func (s *Sweeper) Start() error {
	if s.ttl <= 0 {
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep deletes sessions whose last activity is older than the TTL.
// Returns the number of sessions removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.nowFunc().Add(-s.ttl)

	all, err := s.store.List(ctx, ListOptions{})
	if err != nil {
		if s.logger != nil {
			s.logger.Error(ctx, "session sweep list failed", "error", err)
		}
		return 0
	}

	removed := 0
	for _, session := range all {
		lastActivity := session.UpdatedAt
		if lastActivity.IsZero() {
			lastActivity = session.CreatedAt
		}
		if lastActivity.IsZero() || !lastActivity.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, session.ID); err != nil {
			if s.logger != nil {
				s.logger.Warn(ctx, "session sweep delete failed",
					"session_id", session.ID, "error", err)
			}
			continue
		}
		removed++
	}

	if removed > 0 && s.logger != nil {
		s.logger.Info(ctx, "expired sessions purged", "count", removed)
	}
	return removed
}
