// Package store implements the transactional record store under the hash
// cache.
//
// A Store owns one named database and one keyed record collection (the
// folder). It is opened once and then reused:
//   - concurrent Open calls share a single engine open
//   - every mutation goes through a Transaction created by the Store
//   - decoded values are kept in an LRU cache in front of the engine
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aweris/hashcache/internal/compression"
	"github.com/aweris/hashcache/internal/engine"
	"github.com/aweris/hashcache/internal/oneshot"
)

const (
	DefaultDriver             = "leveldb"
	DefaultFolder             = "hashes"
	DefaultCacheSize          = 1024
	DefaultCompressionLevel   = 2
	DefaultTransactionTimeout = 30 * time.Second
)

// Durability selects whether a commit is flushed to stable storage.
type Durability int

const (
	Strict Durability = iota
	Relaxed
)

func (d Durability) String() string {
	switch d {
	case Strict:
		return "strict"
	case Relaxed:
		return "relaxed"
	default:
		return fmt.Sprintf("durability(%d)", int(d))
	}
}

// ParseDurability accepts "strict" or "relaxed".
func ParseDurability(s string) (Durability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return Strict, nil
	case "relaxed":
		return Relaxed, nil
	default:
		return Strict, fmt.Errorf("unknown durability %q", s)
	}
}

// Options configures a Store. Zero values take the defaults above.
type Options struct {
	Driver             string
	Folder             string
	CacheSize          int
	Compression        bool
	CompressionLevel   int
	TransactionTimeout time.Duration
	Logger             *log.Entry
}

type openState int

const (
	unopened openState = iota
	opening
	opened
)

// session is everything that exists only while the Store is open.
// Transactions keep a pointer to it, so it outlives the Store's reference
// and is marked closed instead.
type session struct {
	h     *handle
	cache Cache
	codec *compression.Compressor

	mu     sync.RWMutex
	closed bool
}

// dead reports whether the session or its engine handle has been closed.
func (s *session) dead() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed || s.h.closed.Load()
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.codec.Close()
}

// Stats is a point-in-time view of Store activity.
type Stats struct {
	Open      bool
	Opens     int64
	Committed int64
	Aborted   int64
	TimedOut  int64
	Cached    int
}

type Store struct {
	path   string
	opts   Options
	log    *log.Entry
	prefix string

	mu       sync.RWMutex
	state    openState
	inflight *oneshot.Result
	sess     *session

	opens     atomic.Int64
	committed atomic.Int64
	aborted   atomic.Int64
	timedOut  atomic.Int64
}

// New returns an unopened Store for the database at path.
func New(path string, opts Options) *Store {
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
	}
	if opts.Folder == "" {
		opts.Folder = DefaultFolder
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = DefaultCompressionLevel
	}
	if opts.TransactionTimeout == 0 {
		opts.TransactionTimeout = DefaultTransactionTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	return &Store{
		path:   path,
		opts:   opts,
		prefix: opts.Folder + "/",
		log: logger.WithFields(log.Fields{
			"db":     path,
			"folder": opts.Folder,
		}),
	}
}

func (s *Store) Path() string   { return s.path }
func (s *Store) Folder() string { return s.opts.Folder }

// Open opens the database. It returns immediately when already open; while
// another open is in flight the caller waits for that attempt's result.
// A failed open leaves the Store unopened so a later call can retry.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == opened && s.sess != nil && s.sess.h.closed.Load() {
		// the shared handle was destroyed through another Store
		s.sess.close()
		s.sess = nil
		s.state = unopened
	}
	switch s.state {
	case opened:
		s.mu.Unlock()
		return nil
	case opening:
		wait := s.inflight
		s.mu.Unlock()
		return wait.Wait(ctx)
	}
	result := oneshot.New()
	s.inflight = result
	s.state = opening
	s.mu.Unlock()

	sess, err := s.openSession()

	s.mu.Lock()
	if err != nil {
		s.state = unopened
	} else {
		s.state = opened
		s.sess = sess
	}
	s.inflight = nil
	s.mu.Unlock()

	result.Resolve(err)
	return err
}

func (s *Store) openSession() (*session, error) {
	if strings.Contains(s.opts.Folder, "/") || strings.HasPrefix(s.opts.Folder, "\x00") {
		return nil, &OpenError{Driver: s.opts.Driver, Path: s.path, Err: fmt.Errorf("invalid folder name %q", s.opts.Folder)}
	}

	h, err := acquire(s.opts.Driver, s.path, s.opts.CacheSize)
	if err != nil {
		s.log.WithError(err).Error("open database")
		return nil, &OpenError{Driver: s.opts.Driver, Path: s.path, Err: err}
	}

	if err := s.ensureSchema(h.eng); err != nil {
		_ = h.release()
		s.log.WithError(err).Error("prepare database")
		return nil, &OpenError{Driver: s.opts.Driver, Path: s.path, Err: err}
	}

	codec, err := compression.NewCompressor(s.opts.CompressionLevel, s.opts.Compression)
	if err != nil {
		_ = h.release()
		return nil, &OpenError{Driver: s.opts.Driver, Path: s.path, Err: fmt.Errorf("create compressor: %w", err)}
	}

	s.opens.Add(1)
	s.log.WithField("driver", s.opts.Driver).Debug("database opened")
	return &session{h: h, cache: h.cache, codec: codec}, nil
}

// ensureSchema creates the version and folder markers on first use and
// refuses databases written by a newer schema.
func (s *Store) ensureSchema(eng engine.Engine) error {
	version, err := eng.Get([]byte(versionKey))
	switch {
	case errors.Is(err, engine.ErrNotFound):
		version = nil
	case err != nil:
		return err
	case len(version) != 4:
		return fmt.Errorf("incompatible schema version length: expected: %d  actual: %d", 4, len(version))
	case binary.BigEndian.Uint32(version) > schemaVersion:
		return fmt.Errorf("%w: %d > %d", ErrSchemaVersion, binary.BigEndian.Uint32(version), schemaVersion)
	}

	hasFolder, err := eng.Has(folderKey(s.opts.Folder))
	if err != nil {
		return err
	}
	if version != nil && hasFolder {
		return nil
	}

	tx, err := eng.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Discard()

	if version == nil {
		current := make([]byte, 4)
		binary.BigEndian.PutUint32(current, schemaVersion)
		if err := tx.Put([]byte(versionKey), current); err != nil {
			return err
		}
	}
	if !hasFolder {
		if err := tx.Put(folderKey(s.opts.Folder), []byte{}); err != nil {
			return err
		}
		s.log.Info("created record folder")
	}
	return tx.Commit()
}

func (s *Store) current() (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != opened || s.sess == nil || s.sess.dead() {
		return nil, ErrNotOpen
	}
	return s.sess, nil
}

// IsOpen reports whether the Store currently holds an open database.
func (s *Store) IsOpen() bool {
	_, err := s.current()
	return err == nil
}

func (s *Store) recordKey(key string) []byte {
	return []byte(s.prefix + key)
}

// Get reads the value stored at key in an implicit read transaction.
// A missing key returns found == false and no error.
func (s *Store) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	sess, err := s.current()
	if err != nil {
		return nil, false, err
	}

	ck := s.prefix + key
	if v, ok := sess.cache.Get(ck); ok {
		return v, true, nil
	}

	raw, err := sess.h.eng.Get(s.recordKey(key))
	if errors.Is(err, engine.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &EngineError{Op: "get", Key: key, Err: err}
	}

	value, err = sess.decode(key, raw)
	if err != nil {
		return nil, false, err
	}
	sess.cache.Add(ck, value)
	return value, true, nil
}

// Has reports whether a record exists at key without decoding it.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sess, err := s.current()
	if err != nil {
		return false, err
	}
	if sess.cache.Has(s.prefix + key) {
		return true, nil
	}
	ok, err := sess.h.eng.Has(s.recordKey(key))
	if err != nil {
		return false, &EngineError{Op: "has", Key: key, Err: err}
	}
	return ok, nil
}

// Iterate calls fn for every record in key order. Records whose envelope
// cannot be decoded are passed with Err set rather than stopping the walk.
func (s *Store) Iterate(ctx context.Context, fn func(Record) error) error {
	sess, err := s.current()
	if err != nil {
		return err
	}

	err = sess.h.eng.Iterate([]byte(s.prefix), func(k, raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := strings.TrimPrefix(string(k), s.prefix)
		value, derr := sess.decode(key, raw)
		if errors.Is(derr, ErrNotOpen) {
			return derr
		}
		if err := fn(Record{Key: key, Value: value, Err: derr}); err != nil {
			return callerError{err}
		}
		return nil
	})

	var ce callerError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce.err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &EngineError{Op: "iterate", Err: err}
	}
}

// AllKeys returns every key in the folder in key order.
func (s *Store) AllKeys(ctx context.Context) ([]string, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	var keys []string
	err = sess.h.eng.Iterate([]byte(s.prefix), func(k, _ []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		keys = append(keys, strings.TrimPrefix(string(k), s.prefix))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &EngineError{Op: "keys", Err: err}
	}
	return keys, nil
}

// Update runs fn inside a new begun transaction and commits it, or aborts
// it when fn fails.
func (s *Store) Update(ctx context.Context, durability Durability, fn func(*Transaction) error) error {
	tx, err := s.NewTransaction(durability)
	if err != nil {
		return err
	}
	if err := tx.Begin(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if aerr := tx.Abort(); aerr != nil && !errors.Is(aerr, ErrTransactionClosed) {
			return errors.Join(err, aerr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Clear removes every record in the folder in a single transaction.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.AllKeys(ctx)
	if err != nil {
		return err
	}
	err = s.Update(ctx, Strict, func(tx *Transaction) error {
		for _, key := range keys {
			if err := tx.RemoveRecord(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if sess, err := s.current(); err == nil {
		sess.cache.Clear()
	}
	s.log.WithField("removed", len(keys)).Info("folder cleared")
	return nil
}

// DeleteDatabase closes the database and removes all of its data. The Store
// returns to the unopened state; every operation fails with ErrNotOpen until
// Open is called again.
func (s *Store) DeleteDatabase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != opened || s.sess == nil {
		return ErrNotOpen
	}
	sess := s.sess
	s.sess = nil
	s.state = unopened

	sess.cache.Clear()
	sess.close()
	if err := sess.h.destroy(); err != nil {
		return &EngineError{Op: "delete database", Err: err}
	}
	s.log.Warn("database deleted")
	return nil
}

// Close releases the database handle. Closing an unopened Store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != opened || s.sess == nil {
		return nil
	}
	sess := s.sess
	s.sess = nil
	s.state = unopened

	sess.close()
	if err := sess.h.release(); err != nil {
		return &EngineError{Op: "close", Err: err}
	}
	return nil
}

func (s *Store) Stats() Stats {
	st := Stats{
		Opens:     s.opens.Load(),
		Committed: s.committed.Load(),
		Aborted:   s.aborted.Load(),
		TimedOut:  s.timedOut.Load(),
	}
	if sess, err := s.current(); err == nil {
		st.Open = true
		st.Cached = sess.cache.Len()
	}
	return st
}

// callerError marks errors returned by Iterate callbacks so they are passed
// through unwrapped.
type callerError struct{ err error }

func (e callerError) Error() string { return e.err.Error() }
func (e callerError) Unwrap() error { return e.err }
