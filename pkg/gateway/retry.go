package gateway

import (
	"context"
	"math/rand/v2"
	"time"
)

// withRetry executes fn, retrying up to maxRetries times on transient errors.
// Retries use exponential backoff starting at baseDelay plus a small jitter.
// Each call of fn gets its own context bounded by attemptTimeout.
func withRetry(ctx context.Context, maxRetries int, baseDelay, attemptTimeout time.Duration, fn func(ctx context.Context, attempt int) error) error {
	baseDelay = max(baseDelay, 0)
	var err error
	for attempt := range maxRetries + 1 {
		err = runAttempt(ctx, attemptTimeout, attempt, fn)
		if err == nil || classify(err) != classTransient {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay)/4 + 1)) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn func(ctx context.Context, attempt int) error) error {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx, attempt)
}
