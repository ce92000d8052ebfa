package hashcache

import (
	"github.com/aweris/hashcache/internal/engine"
	"github.com/aweris/hashcache/internal/remote"
	"github.com/aweris/hashcache/internal/store"
)

// Durability selects whether commits are flushed to stable storage.
// Re-exported from internal/store for convenience.
type Durability = store.Durability

const (
	Strict  = store.Strict
	Relaxed = store.Relaxed
)

// ParseDurability accepts "strict" or "relaxed".
func ParseDurability(s string) (Durability, error) {
	return store.ParseDurability(s)
}

// Fetcher retrieves content for GetOrFetch on a miss.
type Fetcher = remote.Fetcher

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc = remote.FetcherFunc

// Authenticator provides credentials for oci:// fetches.
type Authenticator = remote.Authenticator

// StaticAuthenticator returns the same credentials for every registry.
type StaticAuthenticator = remote.StaticAuthenticator

// Drivers lists the registered storage engines.
func Drivers() []string {
	return engine.Drivers()
}
