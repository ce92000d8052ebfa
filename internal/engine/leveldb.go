package engine

import (
	"fmt"
	"os"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"
)

type levelDriver struct{}

func (levelDriver) Open(path string) (Engine, error) {
	opt := &ldb_opt.Options{
		ErrorIfExist:   false,
		ErrorIfMissing: false,
	}
	db, err := leveldb.OpenFile(path, opt)
	if err != nil {
		return nil, err
	}
	return &levelEngine{db: db}, nil
}

func (levelDriver) Destroy(path string) error {
	return os.RemoveAll(path)
}

// memoryDriver keeps one in-memory storage per path so that a database
// survives close and reopen until it is destroyed.
type memoryDriver struct {
	mu     sync.Mutex
	stores map[string]storage.Storage
}

func newMemoryDriver() *memoryDriver {
	return &memoryDriver{stores: make(map[string]storage.Storage)}
}

func (d *memoryDriver) Open(path string) (Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stor, ok := d.stores[path]
	if !ok {
		stor = storage.NewMemStorage()
		d.stores[path] = stor
	}
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, err
	}
	return &levelEngine{db: db}, nil
}

func (d *memoryDriver) Destroy(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if stor, ok := d.stores[path]; ok {
		delete(d.stores, path)
		return stor.Close()
	}
	return nil
}

// levelEngine is a LevelDB database. Transactions are batches written with a
// single db.Write; wmu serialises commits so uniqueness checks for Add see a
// stable view.
type levelEngine struct {
	db  *leveldb.DB
	wmu sync.Mutex
}

func (e *levelEngine) Get(key []byte) ([]byte, error) {
	value, err := e.db.Get(key, nil)
	if leveldb.ErrNotFound == err {
		return nil, ErrNotFound
	}
	return value, err
}

func (e *levelEngine) Has(key []byte) (bool, error) {
	return e.db.Has(key, nil)
}

func (e *levelEngine) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := e.db.NewIterator(ldb_util.BytesPrefix(prefix), nil)

	var err error
iterating:
	for iter.Next() {
		// contents of the returned slices are only valid until the next call
		// to Next
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())

		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		if err = fn(key, value); err != nil {
			break iterating
		}
	}
	iter.Release()
	if err == nil {
		err = iter.Error()
	}
	return err
}

func (e *levelEngine) Begin(sync bool) (Tx, error) {
	return &levelTx{
		engine:  e,
		sync:    sync,
		batch:   new(leveldb.Batch),
		adds:    make(map[string]struct{}),
		present: make(map[string]bool),
	}, nil
}

func (e *levelEngine) Close() error {
	return e.db.Close()
}

type levelTx struct {
	engine *levelEngine
	sync   bool
	batch  *leveldb.Batch
	done   bool

	// keys whose Add was checked against the database and must be
	// rechecked at commit
	adds map[string]struct{}
	// key state as written by this transaction: true present, false deleted
	present map[string]bool
}

func (t *levelTx) Add(key, value []byte) error {
	if t.done {
		return ErrTxDone
	}

	k := string(key)
	if state, ok := t.present[k]; ok {
		if state {
			return fmt.Errorf("%w: %q", ErrKeyExists, k)
		}
	} else {
		has, err := t.engine.db.Has(key, nil)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: %q", ErrKeyExists, k)
		}
		t.adds[k] = struct{}{}
	}

	t.present[k] = true
	t.batch.Put(key, value)
	return nil
}

func (t *levelTx) Put(key, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	t.present[string(key)] = true
	t.batch.Put(key, value)
	return nil
}

func (t *levelTx) Delete(key []byte) error {
	if t.done {
		return ErrTxDone
	}
	k := string(key)
	t.present[k] = false
	delete(t.adds, k)
	t.batch.Delete(key)
	return nil
}

func (t *levelTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.engine.wmu.Lock()
	defer t.engine.wmu.Unlock()

	for k := range t.adds {
		has, err := t.engine.db.Has([]byte(k), nil)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("%w: %q", ErrKeyExists, k)
		}
	}

	return t.engine.db.Write(t.batch, &ldb_opt.WriteOptions{Sync: t.sync})
}

func (t *levelTx) Discard() {
	t.done = true
	t.batch.Reset()
}
