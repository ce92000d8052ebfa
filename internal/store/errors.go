package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aweris/hashcache/internal/engine"
)

var (
	ErrEngineUnavailable  = errors.New("store: engine unavailable")
	ErrNotOpen            = errors.New("store: not open")
	ErrNotBegun           = errors.New("store: transaction not begun")
	ErrTransactionClosed  = errors.New("store: transaction closed")
	ErrTransactionTimeout = errors.New("store: transaction timed out")
	ErrCorruptRecord      = errors.New("store: corrupt record")
	ErrSchemaVersion      = errors.New("store: unsupported schema version")
	ErrKeyExists          = engine.ErrKeyExists
)

// OpenError reports a failed open. It matches the underlying cause, and
// ErrEngineUnavailable when no engine is registered under the driver name.
type OpenError struct {
	Driver string
	Path   string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s database %s: %v", e.Driver, e.Path, e.Err)
}

func (e *OpenError) Unwrap() []error {
	if errors.Is(e.Err, engine.ErrUnavailable) {
		return []error{ErrEngineUnavailable, e.Err}
	}
	return []error{e.Err}
}

// EngineError is a low-level failure of one engine operation.
type EngineError struct {
	Op  string
	Key string
	Err error
}

func (e *EngineError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// CommitError reports a transaction that did not commit. None of its
// requests were applied.
type CommitError struct {
	TxID uuid.UUID
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit transaction %s: %v", e.TxID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// AbortError reports a rollback that could not be carried out cleanly. The
// transaction is still considered aborted.
type AbortError struct {
	TxID uuid.UUID
	Err  error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort transaction %s: %v", e.TxID, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }
