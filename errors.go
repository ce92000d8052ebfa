package hashcache

import (
	"errors"

	"github.com/aweris/hashcache/internal/remote"
	"github.com/aweris/hashcache/internal/store"
)

var (
	ErrHashMismatch = errors.New("hashcache: hash mismatch")
	ErrInvalidValue = errors.New("hashcache: invalid value")
	ErrFetchFailed  = remote.ErrFetchFailed

	ErrEngineUnavailable  = store.ErrEngineUnavailable
	ErrNotOpen            = store.ErrNotOpen
	ErrNotBegun           = store.ErrNotBegun
	ErrTransactionClosed  = store.ErrTransactionClosed
	ErrTransactionTimeout = store.ErrTransactionTimeout
	ErrCorruptRecord      = store.ErrCorruptRecord
	ErrKeyExists          = store.ErrKeyExists
	ErrSchemaVersion      = store.ErrSchemaVersion
)

type (
	OpenError   = store.OpenError
	EngineError = store.EngineError
	CommitError = store.CommitError
	AbortError  = store.AbortError
)
