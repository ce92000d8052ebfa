package remote

import (
	"context"
	"errors"
	"time"
)

// retryBaseDelay is the first backoff delay; it doubles per attempt.
var retryBaseDelay = 500 * time.Millisecond

// permanentError stops retry immediately.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for i := 0; i < maxAttempts; i++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		var pe permanentError
		if errors.As(err, &pe) {
			return zero, pe.err
		}
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * retryBaseDelay // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
