package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// HTTPFetcher GETs a URL and returns the response body. 5xx responses and
// transport errors are retried; other non-2xx responses are not.
type HTTPFetcher struct {
	client   *http.Client
	attempts int
	maxSize  int64
	log      *log.Entry
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	opts = opts.withDefaults()
	return &HTTPFetcher{
		client:   opts.Client,
		attempts: opts.Attempts,
		maxSize:  opts.MaxSize,
		log:      opts.Logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := retry(ctx, f.attempts, func() ([]byte, error) {
		return f.get(ctx, rawURL)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, rawURL, err)
	}
	return data, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, permanent(err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 500 {
			f.log.WithField("status", resp.StatusCode).Debug("retrying fetch")
			return nil, err
		}
		return nil, permanent(err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, permanent(fmt.Errorf("body exceeds %d bytes", f.maxSize))
	}
	return data, nil
}
