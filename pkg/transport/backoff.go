package transport

import (
	"context"
	"time"
)

// Backoff computes exponential reconnect delays: Base, 2*Base, 4*Base...,
// capped at Max. A zero Base reconnects immediately.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff yields 1s, 2s, 4s, 8s, then 10s.
var DefaultBackoff = Backoff{Base: time.Second, Max: 10 * time.Second}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 || attempt < 1 {
		return 0
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Wait sleeps for Delay(attempt) or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	delay := b.Delay(attempt)
	if delay == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
