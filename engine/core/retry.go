package core

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds retries of calls to external collaborators.
// Attempts counts retries after the first call; zero means a single call.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

const (
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryAttempts    = 10
)

func (p RetryPolicy) Enabled() bool {
	return p.Attempts > 0
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Backoff
	if base <= 0 {
		base = defaultRetryBackoff
	}
	b := retry.NewExponential(base)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	attempts := min(p.Attempts, maxRetryAttempts)
	return retry.WithMaxRetries(uint64(attempts), b) // #nosec G115 -- clamped above
}

// Retry runs fn until it succeeds, the policy is exhausted, or ctx ends.
// Context cancellation and deadline errors are never retried.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	return RetryWhen(ctx, policy, nil, fn)
}

// RetryWhen is Retry restricted to errors accepted by retryable. A nil predicate accepts all.
func RetryWhen(
	ctx context.Context,
	policy RetryPolicy,
	retryable func(error) bool,
	fn func(ctx context.Context) error,
) error {
	if !policy.Enabled() {
		return fn(ctx)
	}
	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}
