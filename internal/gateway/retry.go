package gateway

import (
	"context"
	"time"
)

// RetryPolicy bounds repeated attempts against a remote API. Backoff grows
// linearly with the attempt number.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries up to three times with a 2s, 4s progression.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}
}

// withRetry runs fn under the policy. Auth failures invalidate the token
// source before the next attempt so fn picks up a fresh credential.
// Non-retryable errors abort immediately.
func withRetry(ctx context.Context, p RetryPolicy, ts TokenSource, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if isAuthError(lastErr) && ts != nil {
			ts.Invalidate()
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := time.Duration(attempt) * p.Backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}
