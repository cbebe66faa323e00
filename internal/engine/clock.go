package engine

import (
	"context"
	"time"
)

// Clock abstracts the polling cadence of the repricing loops so tests can
// substitute a deterministic fake. WaitForUpdate bounds the wait for a state
// update after an order action; a timeout only ends the polling iteration,
// it never cancels an order.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	WaitForUpdate(ctx context.Context, timeout time.Duration) error
}

// RealClock implements Clock with wall-clock waits.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Sleep blocks for d or until the context is cancelled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
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

// WaitForUpdate blocks up to timeout. The REST gateway has no push channel,
// so the bounded wait is a plain sleep before the next fill query.
func (c RealClock) WaitForUpdate(ctx context.Context, timeout time.Duration) error {
	return c.Sleep(ctx, timeout)
}
