// Package remote fetches content from outside the cache on a miss.
//
// URLs are dispatched by scheme:
// - http, https: plain GET of the response body
// - oci: a registry blob, oci://registry/repository@sha256:<hex>
//
// Every failure is reported wrapping ErrFetchFailed.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultAttempts = 3
	DefaultMaxSize  = 256 << 20
)

var ErrFetchFailed = errors.New("fetch failed")

// Fetcher retrieves the bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rawURL string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return f(ctx, rawURL)
}

// Options configures the default fetchers.
type Options struct {
	Auth     Authenticator
	Client   *http.Client
	Attempts int
	MaxSize  int64
	Limiter  *rate.Limiter
	Logger   *log.Entry
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Auth == nil {
		o.Auth = NewDefaultAuthenticator()
	}
	if o.Logger == nil {
		o.Logger = log.NewEntry(log.StandardLogger())
	}
	return o
}

// Mux dispatches to a Fetcher by URL scheme.
type Mux struct {
	fetchers map[string]Fetcher
	limiter  *rate.Limiter
	log      *log.Entry
}

func NewMux(limiter *rate.Limiter, logger *log.Entry) *Mux {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Mux{
		fetchers: make(map[string]Fetcher),
		limiter:  limiter,
		log:      logger,
	}
}

// NewDefault returns a Mux serving http, https and oci URLs.
func NewDefault(opts Options) *Mux {
	opts = opts.withDefaults()
	m := NewMux(opts.Limiter, opts.Logger)
	h := NewHTTPFetcher(opts)
	m.Handle("http", h)
	m.Handle("https", h)
	m.Handle("oci", NewOCIFetcher(opts))
	return m
}

// Handle registers f for scheme, replacing any previous fetcher.
func (m *Mux) Handle(scheme string, f Fetcher) {
	m.fetchers[scheme] = f
}

// Schemes returns the registered schemes in sorted order.
func (m *Mux) Schemes() []string {
	out := make([]string, 0, len(m.fetchers))
	for s := range m.fetchers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Mux) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrFetchFailed, err)
	}
	f, ok := m.fetchers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrFetchFailed, u.Scheme)
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %v", ErrFetchFailed, err)
		}
	}

	m.log.WithField("url", u.Redacted()).Debug("fetching")
	data, err := f.Fetch(ctx, rawURL)
	if err != nil {
		if !errors.Is(err, ErrFetchFailed) {
			err = fmt.Errorf("%w: %v", ErrFetchFailed, err)
		}
		return nil, err
	}
	return data, nil
}
