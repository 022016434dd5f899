package engine

import (
	"context"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Clock returns the current time.
type Clock func() time.Time

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pacer enforces a minimum interval between cycle starts.
type pacer struct {
	interval time.Duration
	sleep    Sleeper
	now      Clock
	started  time.Time
}

func newPacer(interval time.Duration, sleep Sleeper, now Clock) *pacer {
	if sleep == nil {
		sleep = SleepContext
	}
	if now == nil {
		now = time.Now
	}
	return &pacer{interval: interval, sleep: sleep, now: now}
}

// mark records the start of a cycle.
func (p *pacer) mark() {
	p.started = p.now()
}

// wait sleeps out whatever remains of the interval since the last mark.
func (p *pacer) wait(ctx context.Context) (time.Duration, error) {
	if p.interval <= 0 || p.started.IsZero() {
		return 0, ctx.Err()
	}
	remaining := p.interval - p.now().Sub(p.started)
	if remaining <= 0 {
		return 0, ctx.Err()
	}
	return remaining, p.sleep(ctx, remaining)
}
