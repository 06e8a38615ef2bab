// Package retry provides a typed retry policy consumed by the deploy
// providers: bounded attempts, exponential backoff, and a per-policy
// retryability predicate.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts bounds total attempts (initial call included). Zero or
	// negative means a single attempt.
	MaxAttempts int

	// InitialInterval seeds the exponential backoff between attempts.
	InitialInterval time.Duration

	// MaxInterval caps the backoff between attempts.
	MaxInterval time.Duration

	// IsRetryable decides whether a given error is worth another attempt.
	// Nil means every error is retryable.
	IsRetryable func(error) bool
}

// DefaultHTTP is the policy used for provider HTTP calls.
var DefaultHTTP = Policy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// Do runs op under the policy, sleeping between attempts. It returns the
// first permanent error, the last error after attempts are exhausted, or nil.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.Reset()

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}
