package chat

import (
	"context"
	"time"
)

// DefaultFlushInterval caps how often streamed text reaches observers.
const DefaultFlushInterval = 100 * time.Millisecond

// Clock is the time source of a Throttle.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Throttle is the flush policy of a streamed turn: accumulated text is
// published at most once per Interval, and once more when the stream ends.
// The zero value flushes on every delta.
type Throttle struct {
	Interval time.Duration
	Clock    Clock
}

// DefaultThrottle returns the policy used when none is configured.
func DefaultThrottle() Throttle {
	return Throttle{Interval: DefaultFlushInterval}
}

// flushGate is the per-turn state of a Throttle.
type flushGate struct {
	interval time.Duration
	clock    Clock
	last     time.Time
}

func (p Throttle) start() *flushGate {
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &flushGate{interval: p.Interval, clock: clock, last: clock.Now()}
}

// due reports whether a flush may happen now and, if so, records it.
func (g *flushGate) due() bool {
	now := g.clock.Now()
	if now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}

// wait blocks until the interval since the last flush has passed, so the final
// flush never lands sooner than a regular one would.
func (g *flushGate) wait(ctx context.Context) error {
	remaining := g.interval - g.clock.Now().Sub(g.last)
	if remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.clock.After(remaining):
		}
	}
	g.last = g.clock.Now()
	return nil
}
