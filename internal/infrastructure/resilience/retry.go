package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// NoRetry marks err as permanent so Retry.Do stops immediately.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Retry is a bounded exponential backoff policy.
type Retry struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt; each subsequent
	// attempt doubles it up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay. Zero means no cap.
	MaxDelay time.Duration
	// Jitter adds up to this fraction of the delay randomly (0..1).
	Jitter float64
	// OnRetry is called before each sleep with the attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultRetry returns the policy used for transient backend failures.
func DefaultRetry() Retry {
	return Retry{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Do runs fn until it succeeds, returns a permanent error, the attempt
// budget is exhausted, or ctx is cancelled. The last error is returned
// wrapped with the attempt count so callers see why the budget ran out.
func (r Retry) Do(ctx context.Context, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}

		if attempt == attempts {
			break
		}

		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr)
		}

		select {
		case <-time.After(r.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// delay computes the backoff for the given 1-based attempt number.
func (r Retry) delay(attempt int) time.Duration {
	d := r.BaseDelay
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			d = r.MaxDelay
			break
		}
	}
	if r.Jitter > 0 {
		d += time.Duration(rand.Float64() * r.Jitter * float64(d))
	}
	return d
}
