// Package transport implements the Transport Adapter (C8): a uniform verb
// set over pluggable remote schemes (spec.md §4.7.1, §4.8).
package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/odi-dev/odi/internal/odierr"
	"github.com/odi-dev/odi/internal/refstore"
)

// Adapter is the five-verb interface the Sync Engine (C7) drives against any
// scheme.
type Adapter interface {
	ListRefs(ctx context.Context) (map[string]string, error)
	HasObjects(ctx context.Context, hashes []string) ([]bool, error)
	GetObject(ctx context.Context, hash string) ([]byte, error)
	PutObject(ctx context.Context, hash string, data []byte) error
	UpdateRef(ctx context.Context, name string, expectedHash, newHash string) (refstore.CASResult, string, error)
	Close() error
}

// Dial resolves uri's scheme and returns the matching Adapter implementation.
func Dial(ctx context.Context, uri string, opts Options) (Adapter, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: parse remote uri %q: %v", odierr.ErrInvalidIdentifier, uri, err)
	}
	switch u.Scheme {
	case "file":
		return dialFile(u)
	case "http", "https":
		return dialHTTP(u, opts), nil
	case "ssh":
		return dialSSH(ctx, u, opts)
	default:
		return nil, fmt.Errorf("%w: unsupported remote scheme %q", odierr.ErrInvalidIdentifier, u.Scheme)
	}
}

// Options carries per-remote auth configuration (spec.md §4.8). It has no
// timeout settings.
type Options struct {
	// BearerToken, if set, is sent as "Authorization: Bearer <token>" for
	// http(s) remotes.
	BearerToken string
	// BasicUser/BasicPass authenticate http(s) remotes when BearerToken is
	// empty.
	BasicUser string
	BasicPass string
	// SSHKeyPath selects an explicit private key for ssh remotes; empty
	// means discover via ssh-agent or the default identity files.
	SSHKeyPath string
}
