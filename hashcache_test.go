package hashcache

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/hashcache/internal/store"
)

func quietLogger() *log.Entry {
	l := log.New()
	l.SetLevel(log.PanicLevel)
	return log.NewEntry(l)
}

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithDriver("memory"), WithLogger(quietLogger())}, opts...)
	c, err := Open(context.Background(), t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// writeRaw stores value at key without any hash check.
func writeRaw(t *testing.T, c *Cache, key string, value []byte) {
	t.Helper()
	err := c.store.Update(context.Background(), Strict, func(tx *store.Transaction) error {
		return tx.UpdateRecord(key, value)
	})
	require.NoError(t, err)
}

func TestSHA256Hex(t *testing.T) {
	const hello = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	assert.Equal(t, hello, SHA256HexString("hello"))
	assert.Equal(t, hello, SHA256Hex([]byte("hello")))
	assert.True(t, ValidKey(hello))
	assert.False(t, ValidKey(strings.ToUpper(hello)))
	assert.False(t, ValidKey("abc"))
	assert.Equal(t, hello, NormalizeKey("sha256:"+hello))
}

func TestRoundTrip(t *testing.T) {
	values := [][]byte{
		[]byte("hello"),
		{0x00, 0xff, 0x10, 0x80},
		bytes.Repeat([]byte("compressible "), 100),
	}

	for _, driver := range []string{"memory", "leveldb", "badger"} {
		t.Run(driver, func(t *testing.T) {
			c := newTestCache(t, WithDriver(driver), WithCompression(2))
			ctx := context.Background()

			for _, v := range values {
				key := SHA256Hex(v)
				require.NoError(t, c.Put(ctx, key, v))

				got, found, err := c.Get(ctx, key)
				require.NoError(t, err)
				require.True(t, found)
				assert.Equal(t, v, got)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)

	got, found, err := c.Get(context.Background(), SHA256HexString("nothing"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestPutRejectsHashMismatch(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := SHA256HexString("other")

	err := c.Put(ctx, key, []byte("value"))
	assert.ErrorIs(t, err, ErrHashMismatch)

	ok, err := c.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutRejectsMismatchOverExistingKey(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key, err := c.Add(ctx, []byte("value"))
	require.NoError(t, err)

	assert.ErrorIs(t, c.Put(ctx, key, []byte("different")), ErrHashMismatch)

	got, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("value"), got)
}

func TestPutRejectsEmptyValue(t *testing.T) {
	c := newTestCache(t)

	err := c.Put(context.Background(), SHA256Hex(nil), nil)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = c.Add(context.Background(), []byte{})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestPutIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	v := []byte("same content")
	key := SHA256Hex(v)

	require.NoError(t, c.Put(ctx, key, v))
	require.NoError(t, c.Put(ctx, key, v))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestConcurrentPutsOfSameContent(t *testing.T) {
	c := newTestCache(t, WithDriver("leveldb"))
	ctx := context.Background()
	v := []byte("raced")
	key := SHA256Hex(v)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Put(ctx, key, v)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestCorruptRecordSelfHeals(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	writeRaw(t, c, "abc", []byte("hashes to something else"))

	got, found, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)

	ok, err := c.Has(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok, "corrupt record should be deleted on read")
	assert.Equal(t, int64(1), c.Stats().Repaired)

	v := []byte("real content")
	key := SHA256Hex(v)
	writeRaw(t, c, key, []byte("tampered"))

	require.NoError(t, c.Put(ctx, key, v))
	got, found, err = c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v, got)
}

func TestRemoveKeysNotIn(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var keys []string
	for _, v := range []string{"A", "B", "C"} {
		key, err := c.Add(ctx, []byte(v))
		require.NoError(t, err)
		keys = append(keys, key)
	}
	a, b, cc := keys[0], keys[1], keys[2]

	removed, err := c.RemoveKeysNotIn(ctx, NewKeySet(a, cc))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for key, want := range map[string]bool{a: true, b: false, cc: true} {
		ok, err := c.Has(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, ok, key)
	}

	removed, err = c.RemoveKeysNotIn(ctx, NewKeySet(a, cc))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDeleteAndClear(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	k1, err := c.Add(ctx, []byte("one"))
	require.NoError(t, err)
	_, err = c.Add(ctx, []byte("two"))
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, k1))
	require.NoError(t, c.Delete(ctx, k1))
	ok, err := c.Has(ctx, k1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Clear(ctx))
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestVerifyAndRepairAll(t *testing.T) {
	c := newTestCache(t, WithConcurrency(2))
	ctx := context.Background()

	var good []string
	for _, v := range []string{"one", "two", "three"} {
		key, err := c.Add(ctx, []byte(v))
		require.NoError(t, err)
		good = append(good, key)
	}
	bad1 := SHA256HexString("four")
	bad2 := SHA256HexString("five")
	writeRaw(t, c, bad2, []byte("not five"))
	writeRaw(t, c, bad1, []byte("not four"))

	report, err := c.VerifyAndRepairAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Checked)

	want := []string{bad1, bad2}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, report.Removed)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, good, keys)

	report, err = c.VerifyAndRepairAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Empty(t, report.Removed)
}

type countingFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
	wait  chan struct{}
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.wait != nil {
		<-f.wait
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func TestGetOrFetchFallsBackToFetcher(t *testing.T) {
	v := []byte("remote content")
	f := &countingFetcher{data: v}
	c := newTestCache(t, WithFetcher(f))
	ctx := context.Background()
	key := SHA256Hex(v)

	got, err := c.GetOrFetch(ctx, key, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, v, got)

	got, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v, got)

	_, err = c.GetOrFetch(ctx, key, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int64(1), c.Stats().Fetched)
}

func TestGetOrFetchRejectsWrongContent(t *testing.T) {
	f := &countingFetcher{data: []byte("not what was asked for")}
	c := newTestCache(t, WithFetcher(f))
	ctx := context.Background()
	key := SHA256HexString("wanted")

	_, err := c.GetOrFetch(ctx, key, "https://example.com/a")
	assert.ErrorIs(t, err, ErrHashMismatch)

	ok, err := c.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrFetchRemembersFailures(t *testing.T) {
	f := &countingFetcher{err: errors.New("connection refused")}
	c := newTestCache(t, WithFetcher(f), WithFailureTTL(time.Minute))
	ctx := context.Background()
	key := SHA256HexString("x")

	_, err := c.GetOrFetch(ctx, key, "https://example.com/x")
	assert.ErrorIs(t, err, ErrFetchFailed)
	_, err = c.GetOrFetch(ctx, key, "https://example.com/x")
	assert.ErrorIs(t, err, ErrFetchFailed)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int64(1), c.Stats().FetchFailures)
}

func TestGetOrFetchWithoutFailureCache(t *testing.T) {
	f := &countingFetcher{err: errors.New("connection refused")}
	c := newTestCache(t, WithFetcher(f), WithFailureTTL(0))
	ctx := context.Background()
	key := SHA256HexString("x")

	for i := 0; i < 2; i++ {
		_, err := c.GetOrFetch(ctx, key, "https://example.com/x")
		assert.ErrorIs(t, err, ErrFetchFailed)
	}
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestGetOrFetchSharesConcurrentMisses(t *testing.T) {
	v := []byte("slow content")
	f := &countingFetcher{data: v, wait: make(chan struct{})}
	c := newTestCache(t, WithFetcher(f))
	ctx := context.Background()
	key := SHA256Hex(v)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	errs := make([]error, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(ctx, key, "https://example.com/slow")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.wait)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, v, results[i])
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGetOrFetchSurvivesFirstCallerCancelling(t *testing.T) {
	v := []byte("content for the patient caller")
	f := &countingFetcher{data: v, wait: make(chan struct{})}
	c := newTestCache(t, WithFetcher(f))
	key := SHA256Hex(v)
	url := "https://example.com/shared"

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, key, url)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		data []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, err := c.GetOrFetch(context.Background(), key, url)
		second <- result{data, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.wait)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, v, res.data)
	assert.Equal(t, int32(1), f.calls.Load())

	got, found, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v, got)
}

func TestGetOrFetchOverHTTP(t *testing.T) {
	v := []byte("served over http")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(v)
	}))
	defer srv.Close()

	c := newTestCache(t)
	got, err := c.GetOrFetch(context.Background(), SHA256Hex(v), srv.URL+"/asset")
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestGetOrFetchUnsupportedScheme(t *testing.T) {
	c := newTestCache(t)
	_, err := c.GetOrFetch(context.Background(), SHA256HexString("x"), "gopher://example.com/x")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestOperationsBeforeOpenFail(t *testing.T) {
	c := New(t.TempDir(), WithDriver("memory"), WithLogger(quietLogger()))
	ctx := context.Background()

	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = c.Add(ctx, []byte("v"))
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = c.Keys(ctx)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestConcurrentOpen(t *testing.T) {
	c := New(t.TempDir(), WithDriver("memory"), WithLogger(quietLogger()))
	t.Cleanup(func() { _ = c.Close() })

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Open(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), c.Stats().Opens)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), WithDriver("nope"), WithLogger(quietLogger()))
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	var oe *OpenError
	assert.ErrorAs(t, err, &oe)
}

func TestDeleteDatabase(t *testing.T) {
	c := newTestCache(t, WithDriver("leveldb"))
	ctx := context.Background()

	key, err := c.Add(ctx, []byte("gone"))
	require.NoError(t, err)
	require.NoError(t, c.DeleteDatabase(ctx))

	_, _, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, c.Open(ctx))
	ok, err := c.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeySet(t *testing.T) {
	s := NewKeySet("a", "b", "a")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
}
