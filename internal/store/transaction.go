package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aweris/hashcache/internal/engine"
)

// Action is the kind of a queued request.
type Action int

const (
	ActionAdd Action = iota
	ActionUpdate
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Request is one operation queued on a Transaction. Err holds the failure
// reported by the engine for this request alone.
type Request struct {
	Action Action
	Key    string
	Value  []byte
	Err    error
}

type txState int

const (
	txCreated txState = iota
	txBegun
	txCommitted
	txAborted
)

// Transaction is one atomic batch of record changes. It is created by
// Store.NewTransaction, begun once, and then committed or aborted once.
// A transaction that does not finish within its timeout is discarded and
// every later call on it fails with ErrTransactionTimeout.
type Transaction struct {
	id         uuid.UUID
	store      *Store
	sess       *session
	durability Durability
	timeout    time.Duration
	log        *log.Entry

	mu       sync.Mutex
	state    txState
	tx       engine.Tx
	requests []*Request
	failed   error
	timer    *time.Timer
	timedOut bool
	err      error
	done     chan struct{}
}

// TxOption configures a Transaction.
type TxOption func(*Transaction)

// WithTimeout overrides the Store's transaction timeout. A non-positive
// value disables the timeout.
func WithTimeout(d time.Duration) TxOption {
	return func(t *Transaction) { t.timeout = d }
}

// NewTransaction creates a transaction against the open database. The
// timeout starts now, not at Begin.
func (s *Store) NewTransaction(durability Durability, opts ...TxOption) (*Transaction, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		id:         uuid.New(),
		store:      s,
		sess:       sess,
		durability: durability,
		timeout:    s.opts.TransactionTimeout,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = s.log.WithField("tx", t.id.String())

	if t.timeout > 0 {
		t.timer = time.AfterFunc(t.timeout, t.expire)
	}
	return t, nil
}

func (t *Transaction) ID() uuid.UUID          { return t.id }
func (t *Transaction) Durability() Durability { return t.durability }

// Done is closed once the transaction has committed or aborted.
func (t *Transaction) Done() <-chan struct{} { return t.done }

// Err returns the error the transaction finished with, or nil while it is
// live or after a successful commit.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transaction) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == txCommitted
}

func (t *Transaction) Aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == txAborted
}

func (t *Transaction) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == txCommitted || t.state == txAborted
}

// Requests returns a snapshot of the queued requests and their status.
func (t *Transaction) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, len(t.requests))
	for i, r := range t.requests {
		out[i] = *r
	}
	return out
}

// Begin allocates the engine transaction. Requests may only be queued after
// Begin.
func (t *Transaction) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.live(); err != nil {
		return err
	}
	if t.state != txCreated {
		return fmt.Errorf("begin transaction %s: already begun", t.id)
	}
	if t.sess.dead() {
		return ErrNotOpen
	}

	tx, err := t.sess.h.eng.Begin(t.durability == Strict)
	if err != nil {
		return &EngineError{Op: "begin", Err: err}
	}
	t.tx = tx
	t.state = txBegun
	return nil
}

// AddRecord queues an insert that fails if key already exists.
func (t *Transaction) AddRecord(key string, value []byte) error {
	return t.enqueue(ActionAdd, key, value)
}

// UpdateRecord queues an insert-or-replace of key.
func (t *Transaction) UpdateRecord(key string, value []byte) error {
	return t.enqueue(ActionUpdate, key, value)
}

// RemoveRecord queues a delete of key.
func (t *Transaction) RemoveRecord(key string) error {
	return t.enqueue(ActionRemove, key, nil)
}

// enqueue pushes a request onto the engine transaction. A failing request
// is returned to the caller and also fails the eventual Commit.
func (t *Transaction) enqueue(action Action, key string, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.live(); err != nil {
		return err
	}
	if t.state != txBegun {
		return ErrNotBegun
	}
	if t.sess.dead() {
		return ErrNotOpen
	}

	req := &Request{Action: action, Key: key, Value: value}
	t.requests = append(t.requests, req)

	var err error
	switch action {
	case ActionAdd, ActionUpdate:
		var raw []byte
		raw, err = t.sess.encode(key, value)
		if err != nil {
			break
		}
		if action == ActionAdd {
			err = t.tx.Add(t.store.recordKey(key), raw)
		} else {
			err = t.tx.Put(t.store.recordKey(key), raw)
		}
	case ActionRemove:
		err = t.tx.Delete(t.store.recordKey(key))
	}

	if err != nil {
		req.Err = &EngineError{Op: action.String(), Key: key, Err: err}
		if t.failed == nil {
			t.failed = req.Err
		}
		return req.Err
	}
	return nil
}

// Commit applies every queued request atomically. If any request failed, or
// the engine rejects the batch, nothing is applied and a *CommitError is
// returned.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.live(); err != nil {
		return err
	}
	if t.state != txBegun {
		return ErrNotBegun
	}

	fail := func(cause error) error {
		t.tx.Discard()
		err := &CommitError{TxID: t.id, Err: cause}
		t.finish(txAborted, err)
		t.log.WithError(cause).Debug("transaction rolled back")
		return err
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if t.failed != nil {
		return fail(t.failed)
	}
	if t.sess.dead() {
		return fail(ErrNotOpen)
	}

	if err := t.tx.Commit(); err != nil {
		return fail(&EngineError{Op: "commit", Err: err})
	}

	for _, req := range t.requests {
		t.sess.cache.Remove(t.store.prefix + req.Key)
	}
	t.finish(txCommitted, nil)
	t.log.WithFields(log.Fields{
		"requests":   len(t.requests),
		"durability": t.durability,
	}).Debug("transaction committed")
	return nil
}

// Abort rolls the transaction back. Queued requests are never applied.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.live(); err != nil {
		return err
	}

	if t.tx != nil {
		t.tx.Discard()
	}
	t.finish(txAborted, nil)

	if t.sess.dead() {
		return &AbortError{TxID: t.id, Err: ErrNotOpen}
	}
	return nil
}

// live reports why the transaction can no longer be used, if it cannot.
// Must be called with t.mu held.
func (t *Transaction) live() error {
	switch {
	case t.timedOut:
		return ErrTransactionTimeout
	case t.state == txCommitted || t.state == txAborted:
		return ErrTransactionClosed
	}
	return nil
}

// finish moves to a terminal state. Must be called with t.mu held.
func (t *Transaction) finish(state txState, err error) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.state = state
	t.err = err
	close(t.done)

	if state == txCommitted {
		t.store.committed.Add(1)
	} else {
		t.store.aborted.Add(1)
	}
}

func (t *Transaction) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == txCommitted || t.state == txAborted {
		return
	}
	t.timedOut = true
	if t.tx != nil {
		t.tx.Discard()
	}
	t.store.timedOut.Add(1)
	t.finish(txAborted, ErrTransactionTimeout)
	t.log.WithFields(log.Fields{
		"timeout":  t.timeout,
		"requests": len(t.requests),
	}).Warn("transaction timed out, discarded")
}
