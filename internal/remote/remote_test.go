package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	retryBaseDelay = time.Millisecond
}

func TestHTTPFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	data, err := NewDefault(Options{}).Fetch(context.Background(), srv.URL+"/blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestHTTPFetchNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(Options{}).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	data, err := NewHTTPFetcher(Options{Attempts: 3}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetchGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(Options{Attempts: 2}).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetchRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(Options{MaxSize: 16}).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestMuxUnsupportedScheme(t *testing.T) {
	_, err := NewDefault(Options{}).Fetch(context.Background(), "ftp://example.com/x")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "ftp")
}

func TestMuxWrapsFetcherErrors(t *testing.T) {
	m := NewMux(nil, nil)
	m.Handle("test", FetcherFunc(func(context.Context, string) ([]byte, error) {
		return nil, assert.AnError
	}))

	_, err := m.Fetch(context.Background(), "test://x")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, []string{"test"}, m.Schemes())
}

func TestMuxRateLimitHonoursContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	m := NewMux(limiter, nil)
	m.Handle("test", FetcherFunc(func(context.Context, string) ([]byte, error) {
		return []byte("x"), nil
	}))

	_, err := m.Fetch(context.Background(), "test://a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Fetch(ctx, "test://b")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestParseBlobRef(t *testing.T) {
	const digest = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	ref, err := ParseBlobRef("oci://ghcr.io/acme/assets@" + digest)
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io", ref.Context().RegistryStr())
	assert.Equal(t, digest, ref.DigestStr())

	_, err = ParseBlobRef("oci://ghcr.io/acme/assets:latest")
	assert.Error(t, err)

	_, err = ParseBlobRef("https://ghcr.io/acme/assets@" + digest)
	assert.Error(t, err)
}

func TestOCIFetchInvalidRef(t *testing.T) {
	_, err := NewOCIFetcher(Options{}).Fetch(context.Background(), "oci://not a ref")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestStaticAuthenticator(t *testing.T) {
	u, p, err := StaticAuthenticator{Username: "bob", Password: "secret"}.Authenticate("ghcr.io")
	require.NoError(t, err)
	assert.Equal(t, "bob", u)
	assert.Equal(t, "secret", p)
}
