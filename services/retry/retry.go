package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/upb/inference-router/services/providers"
)

// Policy defines bounded-attempt exponential backoff with jitter. It is a
// pure configuration value, immutable per call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// BaseDelay is the delay before the second attempt
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay between attempts
	BackoffMultiplier float64

	// JitterRatio randomizes each delay by ±ratio to avoid synchronized
	// retry storms
	JitterRatio float64
}

// DefaultPolicy returns the standard retry policy for provider calls
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterRatio:       0.2,
	}
}

// normalize fills zero-valued fields with defaults
func (p Policy) normalize() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.BackoffMultiplier <= 1 {
		p.BackoffMultiplier = d.BackoffMultiplier
	}
	if p.JitterRatio < 0 || p.JitterRatio >= 1 {
		p.JitterRatio = d.JitterRatio
	}
	return p
}

// DelayBeforeAttempt returns the backoff delay applied before attempt n
// (1-based). The first attempt has no delay; attempt n >= 2 waits
// min(maxDelay, base*mult^(n-2)), randomized by the jitter ratio.
func (p Policy) DelayBeforeAttempt(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	backoff := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(n-2))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	if p.JitterRatio > 0 {
		// spread uniformly over [1-ratio, 1+ratio]
		backoff *= 1 + p.JitterRatio*(2*rand.Float64()-1)
	}
	return time.Duration(backoff)
}

// Do attempts fn up to MaxAttempts times, backing off between attempts.
// Non-retryable errors (capacity, permanent) short-circuit immediately
// without consuming remaining attempts. The final failure is wrapped with
// the attempt count.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	policy = policy.normalize()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if delay := policy.DelayBeforeAttempt(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled after %d attempts: %w", attempt-1, ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !providers.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", policy.MaxAttempts, lastErr)
}

// DoWithResult is the generic counterpart of Do for calls that return a value
func DoWithResult[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, policy, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
