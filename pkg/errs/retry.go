package errs

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// BaseDelay is the delay before the first retry; doubled each attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// ReadPolicy is the default policy for store reads.
var ReadPolicy = RetryPolicy{Attempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}

// WritePolicy is the default policy for store writes: no retry beyond the
// first attempt, so a partially applied write is never re-issued blindly.
var WritePolicy = RetryPolicy{Attempts: 1}

// Retry runs fn under the policy. Only transient errors are retried;
// validation, filter, and not-found errors surface immediately. Backoff is
// exponential with full jitter.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	delay := p.BaseDelay
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			jittered := time.Duration(rand.Int63n(int64(delay) + 1))
			select {
			case <-ctx.Done():
				return Wrap(KindCancelled, "retry", ctx.Err())
			case <-time.After(jittered):
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if ctx.Err() != nil {
			return Wrap(KindCancelled, "retry", ctx.Err())
		}
	}
	return err
}
