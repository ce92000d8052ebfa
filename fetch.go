package hashcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// GetOrFetch returns the value at key, fetching it from url on a miss and
// storing it. The fetched bytes must hash to key or ErrHashMismatch is
// returned and nothing is stored. Concurrent misses for the same key and url
// share one fetch, which keeps running when the caller that started it
// gives up. A url that failed recently fails again immediately with
// ErrFetchFailed until the failure TTL passes.
func (c *Cache) GetOrFetch(ctx context.Context, key, url string) ([]byte, error) {
	value, found, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return value, nil
	}

	if c.failures != nil {
		if cause, ok := c.failures.Get(url); ok {
			return nil, fmt.Errorf("%w: %s failed recently: %v", ErrFetchFailed, url, cause)
		}
	}

	// The flight outlives any single caller; each caller stops waiting on
	// its own ctx.
	flight := context.WithoutCancel(ctx)
	ch := c.fetches.DoChan(key+"\x00"+url, func() (any, error) {
		return c.fetch(flight, key, url)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data := res.Val.([]byte)
		if res.Shared {
			data = bytes.Clone(data)
		}
		return data, nil
	}
}

func (c *Cache) fetch(ctx context.Context, key, url string) ([]byte, error) {
	logger := c.log.WithFields(log.Fields{"key": key, "url": url})

	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		c.fetchFailures.Add(1)
		if !errors.Is(err, ErrFetchFailed) {
			err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		if c.failures != nil {
			c.failures.SetDefault(url, err)
		}
		logger.WithError(err).Debug("fetch failed")
		return nil, err
	}
	c.fetched.Add(1)

	if err := c.Put(ctx, key, data); err != nil {
		return nil, err
	}
	logger.WithField("size", len(data)).Debug("fetched and stored")
	return data, nil
}
