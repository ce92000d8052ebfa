package store

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aweris/hashcache/internal/engine"
)

// Engine handles are shared process-wide per driver and path. Disk engines
// lock their directory, so a second Store on the same path reuses the
// handle that is already open instead of failing. The read cache lives on
// the handle so every Store on a path sees the same invalidations.
var handles = struct {
	sync.Mutex
	m map[string]*handle
}{m: make(map[string]*handle)}

type handle struct {
	id     string
	path   string
	driver engine.Driver
	eng    engine.Engine
	cache  Cache
	refs   int
	closed atomic.Bool
}

func acquire(driverName, path string, cacheSize int) (*handle, error) {
	d, err := engine.Lookup(driverName)
	if err != nil {
		return nil, err
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	id := driverName + ":" + path

	handles.Lock()
	defer handles.Unlock()

	if h, ok := handles.m[id]; ok {
		h.refs++
		return h, nil
	}

	eng, err := d.Open(path)
	if err != nil {
		return nil, err
	}
	h := &handle{id: id, path: path, driver: d, eng: eng, cache: NewCache(cacheSize), refs: 1}
	handles.m[id] = h
	return h, nil
}

// release drops one reference and closes the engine with the last one.
func (h *handle) release() error {
	handles.Lock()
	defer handles.Unlock()

	if h.closed.Load() {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	delete(handles.m, h.id)
	h.closed.Store(true)
	return h.eng.Close()
}

// destroy closes the engine for every holder and removes its data.
func (h *handle) destroy() error {
	handles.Lock()
	defer handles.Unlock()

	if cur, ok := handles.m[h.id]; ok && cur == h {
		delete(handles.m, h.id)
	}
	var closeErr error
	if !h.closed.Swap(true) {
		closeErr = h.eng.Close()
	}
	h.refs = 0
	return errors.Join(closeErr, h.driver.Destroy(h.path))
}
