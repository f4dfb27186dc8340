package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy describes an exponential backoff schedule. Attempt numbering starts
// at 1: DelayFor(1) == BaseDelay, DelayFor(n) == min(BaseDelay * 2^(n-1), MaxDelay).
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy mirrors the upstream reconnect defaults.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// DelayFor returns the wait before the given attempt. Attempts below 1 are
// treated as 1.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) || delay < 0 {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Exhausted reports whether the given attempt count has used up the policy.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Sleep waits for d or until the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Retry executes fn up to MaxAttempts times following the policy's schedule.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if p.Exhausted(attempt) {
			break
		}

		if err := Sleep(ctx, p.DelayFor(attempt)); err != nil {
			return fmt.Errorf("retry cancelled during wait: %w", err)
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", p.MaxAttempts, lastErr)
}

// RetryWithResult executes fn returning its result once it succeeds.
func RetryWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.Exhausted(attempt) {
			break
		}

		if err := Sleep(ctx, p.DelayFor(attempt)); err != nil {
			return zero, fmt.Errorf("retry cancelled during wait: %w", err)
		}
	}

	return zero, fmt.Errorf("max attempts (%d) exceeded: %w", p.MaxAttempts, lastErr)
}
