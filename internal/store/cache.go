package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache provides in-memory caching of decoded record values.
type Cache interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte)
	Has(key string) bool
	Remove(key string)
	Clear()
	Len() int
}

// LRUCache is a fixed-size least-recently-used Cache.
type LRUCache struct {
	items *lru.Cache[string, []byte]
}

// NewCache returns an LRU cache holding up to size values, or a cache that
// holds nothing when size is not positive.
func NewCache(size int) Cache {
	if size <= 0 {
		return nopCache{}
	}
	items, err := lru.New[string, []byte](size)
	if err != nil {
		return nopCache{}
	}
	return &LRUCache{items: items}
}

// Get returns a copy of the cached value.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	val, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	return clone(val), true
}

// Add caches a copy of value.
func (c *LRUCache) Add(key string, value []byte) {
	c.items.Add(key, clone(value))
}

func (c *LRUCache) Has(key string) bool {
	return c.items.Contains(key)
}

func (c *LRUCache) Remove(key string) {
	c.items.Remove(key)
}

func (c *LRUCache) Clear() {
	c.items.Purge()
}

func (c *LRUCache) Len() int {
	return c.items.Len()
}

type nopCache struct{}

func (nopCache) Get(string) ([]byte, bool) { return nil, false }
func (nopCache) Add(string, []byte)        {}
func (nopCache) Has(string) bool           { return false }
func (nopCache) Remove(string)             {}
func (nopCache) Clear()                    {}
func (nopCache) Len() int                  { return 0 }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
