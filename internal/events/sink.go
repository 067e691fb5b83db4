// Package events delivers engine events to whoever is watching a session:
// a CLI renderer, a WebSocket client, or a test harness.
package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/tether/pkg/models"
)

// Sink receives engine events during a run. Delivery is fire-and-forget:
// a slow or broken sink must never stall the run loop. Implementations
// must be safe to call from multiple goroutines.
type Sink interface {
	Send(ctx context.Context, sessionID string, e models.EngineEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Send(ctx context.Context, sessionID string, e models.EngineEvent) {}

// CallbackSink wraps a function as a Sink.
type CallbackSink struct {
	fn func(ctx context.Context, sessionID string, e models.EngineEvent)
}

func NewCallbackSink(fn func(ctx context.Context, sessionID string, e models.EngineEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Send(ctx context.Context, sessionID string, e models.EngineEvent) {
	if s.fn != nil {
		s.fn(ctx, sessionID, e)
	}
}

// ChanSink sends events to a channel, dropping when the channel is full
// rather than blocking the run loop. The channel should be buffered.
type ChanSink struct {
	ch chan<- models.EngineEvent
}

func NewChanSink(ch chan<- models.EngineEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Send(ctx context.Context, sessionID string, e models.EngineEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans out events to several sinks. Nil sinks are filtered.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Send(ctx context.Context, sessionID string, e models.EngineEvent) {
	for _, sink := range s.sinks {
		sink.Send(ctx, sessionID, e)
	}
}

// Emitter stamps version, run correlation, timestamps, and a per-run
// monotonic sequence onto events before handing them to the sink. The
// sequence gives consumers a total order per session even when delivery
// reorders frames.
type Emitter struct {
	sink      Sink
	sessionID string
	runID     string
	seq       atomic.Uint64
}

func NewEmitter(sink Sink, sessionID, runID string) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{sink: sink, sessionID: sessionID, runID: runID}
}

// Emit fills in the envelope fields and sends the event.
func (e *Emitter) Emit(ctx context.Context, event models.EngineEvent) {
	event.Version = models.EngineEventVersion
	event.RunID = e.runID
	event.Sequence = e.seq.Add(1)
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	e.sink.Send(ctx, e.sessionID, event)
}
