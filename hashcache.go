package hashcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/aweris/hashcache/internal/store"
)

// Cache is a content-addressed value cache. Every value is stored under
// SHA256Hex(value); reads re-check that invariant and treat a record that
// fails it as a miss, deleting it.
type Cache struct {
	store *store.Store
	opts  *Options
	log   *log.Entry

	fetcher  Fetcher
	fetches  singleflight.Group
	failures *gocache.Cache

	repaired      atomic.Int64
	fetched       atomic.Int64
	fetchFailures atomic.Int64
}

// Stats is a point-in-time view of Cache activity.
type Stats struct {
	store.Stats
	Repaired      int64
	Fetched       int64
	FetchFailures int64
}

// New returns an unopened Cache for the database in dir. An empty dir uses
// DefaultCacheDir.
func New(dir string, opts ...Option) *Cache {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = log.NewEntry(log.StandardLogger())
	}
	if dir == "" {
		dir = DefaultCacheDir()
	}
	dir = expandPath(dir)

	c := &Cache{
		store:   store.New(dir, options.storeOptions()),
		opts:    options,
		log:     options.Logger.WithField("component", "hashcache"),
		fetcher: options.fetcher(),
	}
	if options.FailureTTL > 0 {
		c.failures = gocache.New(options.FailureTTL, 2*options.FailureTTL)
	}
	return c
}

// Open creates a Cache for dir and opens its database.
func Open(ctx context.Context, dir string, opts ...Option) (*Cache, error) {
	c := New(dir, opts...)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Open opens the database. Concurrent calls share one underlying open.
func (c *Cache) Open(ctx context.Context) error {
	return c.store.Open(ctx)
}

func (c *Cache) Dir() string { return c.store.Path() }

// Has reports whether a record exists at key. The stored value is not
// checked.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	return c.store.Has(ctx, key)
}

// Get returns the value stored at key. A record whose value no longer hashes
// to key is deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, found, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrCorruptRecord):
		return nil, false, c.repair(ctx, key, err)
	case err != nil:
		return nil, false, err
	case !found:
		return nil, false, nil
	}

	if got := SHA256Hex(value); got != key {
		return nil, false, c.repair(ctx, key, fmt.Errorf("%w: content hashes to %s", ErrHashMismatch, got))
	}
	return value, true, nil
}

// Put stores value under key. The key must equal SHA256Hex(value). Storing a
// key that already holds valid content is a no-op; a corrupt record at key is
// replaced.
func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	if len(value) == 0 {
		return ErrInvalidValue
	}
	if got := SHA256Hex(value); got != key {
		return fmt.Errorf("%w: key %s, content hashes to %s", ErrHashMismatch, key, got)
	}

	existing, found, err := c.store.Get(ctx, key)
	var corrupt error
	switch {
	case errors.Is(err, ErrCorruptRecord):
		corrupt = err
	case err != nil:
		return fmt.Errorf("put %s: %w", key, err)
	case found && SHA256Hex(existing) == key:
		return nil
	case found:
		corrupt = fmt.Errorf("%w: existing content does not match key", ErrHashMismatch)
	}

	err = c.store.Update(ctx, c.opts.Durability, func(tx *store.Transaction) error {
		if corrupt != nil {
			if err := tx.RemoveRecord(key); err != nil {
				return err
			}
		}
		return tx.AddRecord(key, value)
	})
	if errors.Is(err, ErrKeyExists) {
		// Another writer stored the same key first; content is identical.
		return nil
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	if corrupt != nil {
		c.repaired.Add(1)
		c.log.WithError(corrupt).WithField("key", key).Warn("replaced corrupt record")
	}
	return nil
}

// Add stores value under its own digest and returns the key.
func (c *Cache) Add(ctx context.Context, value []byte) (string, error) {
	key := SHA256Hex(value)
	if err := c.Put(ctx, key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes key. Deleting an absent key succeeds.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.store.Update(ctx, c.opts.Durability, func(tx *store.Transaction) error {
		return tx.RemoveRecord(key)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys returns every stored key in order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	return c.store.AllKeys(ctx)
}

// Clear removes every record.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// DeleteDatabase removes the database from disk. The Cache must be opened
// again before further use.
func (c *Cache) DeleteDatabase(ctx context.Context) error {
	if c.failures != nil {
		c.failures.Flush()
	}
	return c.store.DeleteDatabase(ctx)
}

func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Stats:         c.store.Stats(),
		Repaired:      c.repaired.Load(),
		Fetched:       c.fetched.Load(),
		FetchFailures: c.fetchFailures.Load(),
	}
}

// repair deletes a corrupt record found on read. The read is a miss either
// way; a failed delete is returned.
func (c *Cache) repair(ctx context.Context, key string, cause error) error {
	c.log.WithError(cause).WithField("key", key).Warn("corrupt record, deleting")

	err := c.store.Update(ctx, c.opts.Durability, func(tx *store.Transaction) error {
		return tx.RemoveRecord(key)
	})
	if err != nil {
		return fmt.Errorf("delete corrupt record %s: %w", key, err)
	}
	c.repaired.Add(1)
	return nil
}
