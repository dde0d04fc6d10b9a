package utils

import (
	"context"
	"time"
)

// RetryPolicy describes a bounded exponential backoff schedule and the
// predicate deciding which errors are worth another attempt. The policy
// is an explicit value so callers can see and test the retry behavior
// instead of encoding it in control flow.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff curve.
	MaxDelay time.Duration
	// ShouldRetry reports whether the error warrants another attempt.
	// A nil predicate retries every error.
	ShouldRetry func(error) bool
}

// DefaultRetryPolicy matches the pipeline-wide envelope: three attempts,
// 2s base delay, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the backoff delay preceding the given attempt number
// (attempt 1 is the first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry executes fn under the policy. It returns nil on the first
// success, the last error once attempts are exhausted or the predicate
// rejects the error, and ctx.Err() if the context ends while waiting.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.MaxAttempts
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

		if policy.ShouldRetry != nil && !policy.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return lastErr
}
