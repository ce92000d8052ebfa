// Package engine defines the transactional key-value engines the store is
// built on.
//
// An Engine is a flat, ordered byte keyspace with prefix iteration and
// atomic write transactions. Drivers are registered by name; the store picks
// one at open time:
//
//	leveldb  - github.com/syndtr/goleveldb on disk
//	badger   - github.com/dgraph-io/badger/v4 on disk
//	memory   - goleveldb over an in-memory storage, kept per path for the
//	           lifetime of the process
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound    = errors.New("engine: not found")
	ErrKeyExists   = errors.New("engine: key already exists")
	ErrUnavailable = errors.New("engine: unavailable")
	ErrTxDone      = errors.New("engine: transaction already finished")
)

// Engine is an open database handle.
type Engine interface {
	// Get returns a copy of the value stored at key, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Has reports whether key exists.
	Has(key []byte) (bool, error)

	// Iterate calls fn for every key with the given prefix in key order.
	// Key and value are copies owned by fn. Iteration stops at the first
	// error returned by fn, which is returned unchanged.
	Iterate(prefix []byte, fn func(key, value []byte) error) error

	// Begin starts a write transaction. When sync is true the commit is
	// flushed to stable storage before Commit returns.
	Begin(sync bool) (Tx, error)

	Close() error
}

// Tx is a write transaction. Nothing is visible to readers until Commit.
type Tx interface {
	// Add stores value at key, failing with ErrKeyExists if key is present.
	Add(key, value []byte) error

	// Put stores value at key, replacing any previous value.
	Put(key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Commit applies every operation atomically.
	Commit() error

	// Discard drops the transaction. It is safe to call after Commit.
	Discard()
}

// Driver opens and destroys engines at a path.
type Driver interface {
	Open(path string) (Engine, error)
	Destroy(path string) error
}

var registry = struct {
	sync.RWMutex
	drivers map[string]Driver
}{drivers: make(map[string]Driver)}

// Register makes a driver available by name. Registering the same name
// twice replaces the previous driver.
func Register(name string, d Driver) {
	registry.Lock()
	defer registry.Unlock()
	registry.drivers[name] = d
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, error) {
	registry.RLock()
	defer registry.RUnlock()
	d, ok := registry.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: no driver %q", ErrUnavailable, name)
	}
	return d, nil
}

// Drivers returns the registered driver names in sorted order.
func Drivers() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.drivers))
	for name := range registry.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("leveldb", levelDriver{})
	Register("memory", newMemoryDriver())
	Register("badger", badgerDriver{})
}
