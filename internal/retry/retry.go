package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultBackoffs is used when no explicit backoff table is given.
var DefaultBackoffs = []time.Duration{200 * time.Millisecond, 1 * time.Second, 2 * time.Second}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// WithBackoff calls fn up to attempts times, sleeping backoffs[i] between
// attempts. It stops early on success, on a Permanent error or when ctx ends.
func WithBackoff(ctx context.Context, attempts int, backoffs []time.Duration, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	if backoffs == nil {
		backoffs = DefaultBackoffs
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err
		if i == attempts-1 {
			break
		}

		wait := time.Duration(0)
		if len(backoffs) > 0 {
			wait = backoffs[min(i, len(backoffs)-1)]
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed after %d attempts: %w", i+1, errors.Join(lastErr, ctx.Err()))
		case <-time.After(wait):
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
