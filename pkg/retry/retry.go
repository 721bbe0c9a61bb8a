package retry

import (
	"context"
	"errors"
	"time"
)

// Policy is a bounded fixed-delay retry policy. The engine deliberately
// keeps retries simple: a small attempt count with a fixed inter-attempt
// delay, no backoff, because every call site is already rate-limited by
// the tick cadence.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the pause between tries.
	Delay time.Duration
	// RetryIf decides whether an error is worth another try. Nil retries
	// every error.
	RetryIf func(error) bool
	// OnRetry, if set, is called before each re-attempt.
	OnRetry func(attempt int, err error)
}

func (p *Policy) normalize() {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
}

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
// The last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, op func() error) error {
	p.normalize()

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		default:
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}
		if attempt >= p.Attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}

// DoWithResult is Do for operations returning a value.
func DoWithResult[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so NotPermanent stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// NotPermanent is a RetryIf that stops on Permanent-wrapped errors and on
// context cancellation.
func NotPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
