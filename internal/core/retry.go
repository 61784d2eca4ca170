package core

import (
	"context"
	"errors"
	"time"

	"cureline/pkg/domain"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a conflicting operation is re-run.
type RetryPolicy struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts uint
}

// DefaultRetryPolicy waits 75ms, doubling up to 500ms, over three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: 75 * time.Millisecond, Max: 500 * time.Millisecond, Attempts: 3}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Attempts == 0 {
		p.Attempts = def.Attempts
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	return b
}

// withRetry runs op until it succeeds, fails with a non-conflict error, or the
// policy runs out of attempts. Only domain.ErrConcurrencyConflict is retried.
func withRetry[T any](ctx context.Context, opts serviceOptions, operation string, op func() (T, error)) (T, error) {
	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		out, err := op()
		if err != nil && !domain.IsConflict(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, next time.Duration) {
		opts.logger.Warn("retrying after concurrency conflict",
			"operation", operation,
			"attempt", attempt,
			"delay", next,
			"error", err,
		)
		if observer, ok := opts.metrics.(RetryObserver); ok {
			observer.ObserveRetry(ctx, operation, attempt)
		}
	}
	out, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(opts.retry.backOff()),
		backoff.WithMaxTries(opts.retry.Attempts),
		backoff.WithNotify(notify),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return out, err
}
