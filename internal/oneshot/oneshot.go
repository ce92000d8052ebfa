// Package oneshot provides a single-assignment result that any number of
// goroutines can wait on.
//
// Waiters are resolved in the order they called Wait. Once resolved, the
// result never changes and later calls to Wait return immediately.
package oneshot

import (
	"context"
	"sync"
)

// Result is a one-shot broadcast of an error value (nil meaning success).
type Result struct {
	mu      sync.Mutex
	done    bool
	err     error
	waiters []chan error
}

// New returns an unresolved Result.
func New() *Result {
	return &Result{}
}

// Wait blocks until the result is resolved or ctx is done.
func (r *Result) Wait(ctx context.Context) error {
	r.mu.Lock()
	if r.done {
		err := r.err
		r.mu.Unlock()
		return err
	}
	ch := make(chan error, 1)
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve sets the result and wakes every waiter in FIFO order.
// It reports false if the result was already resolved.
func (r *Result) Resolve(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return false
	}
	r.done = true
	r.err = err
	for _, ch := range r.waiters {
		ch <- err
	}
	r.waiters = nil
	return true
}

// Done reports whether the result has been resolved.
func (r *Result) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Waiters returns the number of goroutines currently blocked in Wait.
func (r *Result) Waiters() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
