package usecase

import (
	"context"
	"time"
)

// Clock abstracts wall time so polling loops can be driven in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the process clock.
var SystemClock Clock = systemClock{}

func sleepCtx(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// WaitUntil blocks until the clock reaches target, checking at most once a second.
func WaitUntil(ctx context.Context, clock Clock, target time.Time) error {
	for {
		now := clock.Now()
		if !now.Before(target) {
			return nil
		}
		wait := target.Sub(now)
		if wait > time.Second {
			wait = time.Second
		}
		if err := sleepCtx(ctx, clock, wait); err != nil {
			return err
		}
	}
}
