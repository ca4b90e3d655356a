package httputil

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures (network timeouts, 5xx and 429 responses) with
// this type so that [Retry] knows to attempt the operation again.
//
// After, when positive, is a server-provided minimum wait (Retry-After).
type RetryableError struct {
	Err   error
	After time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Policy controls [Retry].
type Policy struct {
	// Retries is the number of additional attempts after the first.
	Retries int

	// BaseDelay is the wait before the first retry. It doubles after each
	// failed attempt, so retry n waits BaseDelay * 2^n.
	BaseDelay time.Duration

	// MaxDelay caps a single wait, including one asked for by a server's
	// Retry-After. Zero means no cap.
	MaxDelay time.Duration

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for range attempt {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
		if d > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry executes fn until it succeeds, returns a non-retryable error, or
// the policy's retries are exhausted. Only errors wrapped with
// [RetryableError] are retried. fn receives the 0-based attempt number.
//
// The backoff sleep observes ctx: cancellation returns ctx.Err()
// immediately. Returns the last error when all attempts fail.
func Retry(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := max(p.Retries, 0) + 1
	var lastErr error

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(i); err == nil {
			return nil
		} else if lastErr = err; !IsRetryable(err) {
			return err
		}

		if i < attempts-1 {
			wait := p.Delay(i)
			var re *RetryableError
			if errors.As(lastErr, &re) && re.After > wait {
				wait = re.After
			}
			if p.MaxDelay > 0 && wait > p.MaxDelay {
				wait = p.MaxDelay
			}
			if p.OnRetry != nil {
				p.OnRetry(i+1, lastErr, wait)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}

// RetryWithBackoff is a convenience wrapper around [Retry] with sensible
// defaults: 3 retries with 1 second initial delay (doubling each retry).
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return Retry(ctx, Policy{Retries: 3, BaseDelay: time.Second}, func(int) error { return fn() })
}

// IsRetryable reports whether err is marked as retryable.
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}
