package hashcache

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/aweris/hashcache/internal/remote"
	"github.com/aweris/hashcache/internal/store"
)

const (
	DefaultConcurrency = 4
	DefaultFailureTTL  = 30 * time.Second
)

// Options configures a Cache.
type Options struct {
	Driver             string
	Folder             string
	Durability         Durability
	TransactionTimeout time.Duration
	CacheSize          int
	Compression        bool
	CompressionLevel   int

	Fetcher       Fetcher
	Auth          Authenticator
	FetchRate     rate.Limit
	FetchBurst    int
	FetchAttempts int
	FailureTTL    time.Duration
	Concurrency   int

	Logger *log.Entry
}

// Option is a functional option for configuring a Cache.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Driver:             store.DefaultDriver,
		Folder:             store.DefaultFolder,
		Durability:         Strict,
		TransactionTimeout: store.DefaultTransactionTimeout,
		CacheSize:          store.DefaultCacheSize,
		CompressionLevel:   store.DefaultCompressionLevel,
		FetchAttempts:      remote.DefaultAttempts,
		FailureTTL:         DefaultFailureTTL,
		Concurrency:        DefaultConcurrency,
	}
}

// WithDriver selects the storage engine: leveldb, badger or memory.
func WithDriver(name string) Option {
	return func(o *Options) { o.Driver = name }
}

// WithFolder names the record collection inside the database.
func WithFolder(name string) Option {
	return func(o *Options) { o.Folder = name }
}

// WithDurability sets the durability of every write transaction.
func WithDurability(d Durability) Option {
	return func(o *Options) { o.Durability = d }
}

// WithTransactionTimeout bounds how long a transaction may stay open.
// A non-positive value disables the timeout.
func WithTransactionTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d <= 0 {
			d = -1
		}
		o.TransactionTimeout = d
	}
}

// WithCacheSize sets the number of decoded values kept in memory. Zero
// disables the read cache.
func WithCacheSize(n int) Option {
	return func(o *Options) { o.CacheSize = n }
}

// WithCompression stores values zstd compressed at level 1 (fastest) to 3
// (best).
func WithCompression(level int) Option {
	return func(o *Options) {
		o.Compression = true
		if level > 0 {
			o.CompressionLevel = level
		}
	}
}

// WithFetcher replaces the default http/https/oci fetcher.
func WithFetcher(f Fetcher) Option {
	return func(o *Options) { o.Fetcher = f }
}

// WithAuth sets credentials for oci:// fetches.
func WithAuth(auth Authenticator) Option {
	return func(o *Options) { o.Auth = auth }
}

// WithFetchRate limits fetches to r per second with the given burst.
func WithFetchRate(r float64, burst int) Option {
	return func(o *Options) {
		o.FetchRate = rate.Limit(r)
		o.FetchBurst = max(burst, 1)
	}
}

// WithFetchAttempts sets how many times a failing fetch is tried.
func WithFetchAttempts(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.FetchAttempts = n
		}
	}
}

// WithFailureTTL sets how long a failed fetch URL keeps failing fast. Zero
// disables the negative cache.
func WithFailureTTL(d time.Duration) Option {
	return func(o *Options) { o.FailureTTL = d }
}

// WithConcurrency sets the number of parallel workers for the verify sweep.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(l *log.Entry) Option {
	return func(o *Options) { o.Logger = l }
}

func (o *Options) storeOptions() store.Options {
	return store.Options{
		Driver:             o.Driver,
		Folder:             o.Folder,
		CacheSize:          o.CacheSize,
		Compression:        o.Compression,
		CompressionLevel:   o.CompressionLevel,
		TransactionTimeout: o.TransactionTimeout,
		Logger:             o.Logger,
	}
}

func (o *Options) fetcher() Fetcher {
	if o.Fetcher != nil {
		return o.Fetcher
	}
	var limiter *rate.Limiter
	if o.FetchRate > 0 {
		limiter = rate.NewLimiter(o.FetchRate, o.FetchBurst)
	}
	return remote.NewDefault(remote.Options{
		Auth:     o.Auth,
		Attempts: o.FetchAttempts,
		Limiter:  limiter,
		Logger:   o.Logger,
	})
}

// DefaultCacheDir returns the default database directory.
func DefaultCacheDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "hashcache")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "hashcache")
	}
	return ".hashcache"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
