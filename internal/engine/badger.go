package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

type badgerDriver struct{}

func (badgerDriver) Open(path string) (Engine, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerEngine{db: db}, nil
}

func (badgerDriver) Destroy(path string) error {
	return os.RemoveAll(path)
}

type badgerEngine struct {
	db *badger.DB
}

func (e *badgerEngine) Get(key []byte) ([]byte, error) {
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (e *badgerEngine) Has(key []byte) (bool, error) {
	err := e.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (e *badgerEngine) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *badgerEngine) Begin(sync bool) (Tx, error) {
	return &badgerTx{
		db:   e.db,
		txn:  e.db.NewTransaction(true),
		sync: sync,
	}, nil
}

func (e *badgerEngine) Close() error {
	return e.db.Close()
}

// badgerTx wraps a native read-write transaction. Reads inside Add register
// the key with badger's conflict detection, so a concurrent Add of the same
// key fails at commit.
type badgerTx struct {
	db   *badger.DB
	txn  *badger.Txn
	sync bool
	done bool
}

func (t *badgerTx) Add(key, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	_, err := t.txn.Get(key)
	if err == nil {
		return fmt.Errorf("%w: %q", ErrKeyExists, key)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return t.txn.Set(clone(key), clone(value))
}

func (t *badgerTx) Put(key, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	return t.txn.Set(clone(key), clone(value))
}

func (t *badgerTx) Delete(key []byte) error {
	if t.done {
		return ErrTxDone
	}
	return t.txn.Delete(clone(key))
}

func (t *badgerTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	if err := t.txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrKeyExists, err)
		}
		return err
	}
	if t.sync {
		return t.db.Sync()
	}
	return nil
}

func (t *badgerTx) Discard() {
	t.done = true
	t.txn.Discard()
}

// badger requires keys and values to stay untouched until commit
func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
