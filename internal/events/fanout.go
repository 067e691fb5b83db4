package events

import (
	"context"
	"sync"

	"github.com/haasonsaas/tether/pkg/models"
)

// Fanout delivers events to a set of watcher sinks that attach and detach
// while runs are in flight. With no watchers it is a no-op, so it can sit
// in a MultiSink permanently.
type Fanout struct {
	mu    sync.Mutex
	sinks map[Sink]struct{}
}

func NewFanout() *Fanout {
	return &Fanout{sinks: map[Sink]struct{}{}}
}

// Add registers a watcher for all subsequent events.
func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks[s] = struct{}{}
	f.mu.Unlock()
}

// Remove detaches a watcher. Removing an unknown sink is a no-op.
func (f *Fanout) Remove(s Sink) {
	f.mu.Lock()
	delete(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Send(ctx context.Context, sessionID string, e models.EngineEvent) {
	f.mu.Lock()
	watchers := make([]Sink, 0, len(f.sinks))
	for s := range f.sinks {
		watchers = append(watchers, s)
	}
	f.mu.Unlock()

	for _, s := range watchers {
		s.Send(ctx, sessionID, e)
	}
}
