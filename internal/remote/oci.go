package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	log "github.com/sirupsen/logrus"
)

const ociScheme = "oci://"

// OCIFetcher reads single blobs from an OCI registry. The URL names the blob
// by digest, e.g. oci://ghcr.io/acme/assets@sha256:<hex>. The blob bytes are
// returned exactly as stored in the registry.
type OCIFetcher struct {
	auth     Authenticator
	attempts int
	maxSize  int64
	log      *log.Entry
}

func NewOCIFetcher(opts Options) *OCIFetcher {
	opts = opts.withDefaults()
	return &OCIFetcher{
		auth:     opts.Auth,
		attempts: opts.Attempts,
		maxSize:  opts.MaxSize,
		log:      opts.Logger,
	}
}

// ParseBlobRef turns an oci:// URL into a digest reference.
func ParseBlobRef(rawURL string) (name.Digest, error) {
	ref, ok := strings.CutPrefix(rawURL, ociScheme)
	if !ok {
		return name.Digest{}, fmt.Errorf("not an %s url: %q", ociScheme, rawURL)
	}
	d, err := name.NewDigest(ref)
	if err != nil {
		return name.Digest{}, fmt.Errorf("invalid blob ref %q: %w", ref, err)
	}
	return d, nil
}

func (f *OCIFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ref, err := ParseBlobRef(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	data, err := retry(ctx, f.attempts, func() ([]byte, error) {
		return f.readBlob(ctx, ref)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, ref, err)
	}
	f.log.WithFields(log.Fields{"ref": ref.String(), "size": len(data)}).Debug("blob fetched")
	return data, nil
}

func (f *OCIFetcher) readBlob(ctx context.Context, ref name.Digest) ([]byte, error) {
	layer, err := remote.Layer(ref, f.remoteOptions(ctx, ref.Context().RegistryStr())...)
	if err != nil {
		return nil, fmt.Errorf("resolve blob: %w", err)
	}

	rc, err := layer.Compressed()
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, f.maxSize+1))
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, permanent(fmt.Errorf("blob exceeds %d bytes", f.maxSize))
	}
	return data, nil
}

func (f *OCIFetcher) remoteOptions(ctx context.Context, registry string) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if f.auth != nil {
		username, password, err := f.auth.Authenticate(registry)
		if err != nil {
			f.log.WithError(err).WithField("registry", registry).Debug("authentication lookup failed")
		}
		if err == nil && username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			}))
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}
