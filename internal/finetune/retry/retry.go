// Package retry implements the retry envelope: a bounded retry loop with
// exponential backoff composed in front of internal/circuitbreaker, in the
// manner of internal/db.Client.QueueWriteWithRetry's bounded-retry-with-
// synchronous-fallback shape. Exhaustion surfaces a distinguished
// MaxAttemptsReached error unchanged to the caller.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/rivermuse/finetune-engine/internal/finetune/ferrors"
)

// IsRetryable reports whether err should be retried. The default only
// retries transient-backend errors; callers compose a user-supplied
// predicate via WithRetryable.
type IsRetryable func(err error) bool

func defaultRetryable(err error) bool {
	return ferrors.IsTransient(err)
}

// Policy is the retry envelope configuration (spec §4.9, §6, §7).
type Policy struct {
	MaxAttempts     int
	WaitTimeSeconds float64
	Retryable       IsRetryable
}

// DefaultPolicy is a fixed 3-attempt, 1-second policy. It does not read
// DEFAULT_MAX_ATTEMPTS/DEFAULT_WAIT_TIME_SECONDS; config.RetryConfig
// carries those (defaults 5 and 0.5 s), and cmd/worker builds its Policy
// from that.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, WaitTimeSeconds: 1, Retryable: defaultRetryable}
}

// WithRetryable returns a copy of p with an additional predicate ORed into
// the default transient-error check, matching the spec's "is_retryable_error"
// user-supplied predicate.
func (p Policy) WithRetryable(extra IsRetryable) Policy {
	base := p.Retryable
	if base == nil {
		base = defaultRetryable
	}
	p.Retryable = func(err error) bool { return base(err) || extra(err) }
	return p
}

// Do runs fn, retrying while Retryable(err) is true and attempts remain,
// waiting WaitTimeSeconds * 2^(attempt-1) between tries (bounded by ctx).
// On exhaustion it returns a *ferrors.MaxAttemptsReached wrapping the last
// error; validation and other non-retryable errors return immediately.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := time.Duration(p.WaitTimeSeconds * math.Pow(2, float64(attempt-1)) * float64(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return &ferrors.MaxAttemptsReached{Attempts: p.MaxAttempts, LastErr: lastErr}
}
