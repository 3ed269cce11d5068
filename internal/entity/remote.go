package entity

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/odi-dev/odi/internal/odierr"
)

var remoteNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// AuthHint tells the Transport Adapter (C8) which credential flow to use; it
// is opaque to the core beyond this enum.
type AuthHint string

const (
	AuthHintNone   AuthHint = "none"
	AuthHintSSHKey AuthHint = "ssh_key"
	AuthHintToken  AuthHint = "token"
)

var supportedSchemes = map[string]bool{"file": true, "ssh": true, "http": true, "https": true}

// RemoteDescriptor names a sync peer.
type RemoteDescriptor struct {
	Name       string      `odi:"1"`
	URI        string      `odi:"2"`
	ProjectIDs []ProjectID `odi:"3"` // sorted set
	LastSync   *time.Time  `odi:"4"`
	AuthHint   AuthHint    `odi:"5"`
}

func (r *RemoteDescriptor) Validate() error {
	if !remoteNamePattern.MatchString(r.Name) {
		return fmt.Errorf("%w: remote name %q must match %s", odierr.ErrInvalidIdentifier, r.Name, remoteNamePattern.String())
	}
	u, err := url.Parse(r.URI)
	if err != nil {
		return fmt.Errorf("%w: remote uri %q: %v", odierr.ErrInvalidIdentifier, r.URI, err)
	}
	if !supportedSchemes[u.Scheme] {
		return fmt.Errorf("%w: unsupported remote scheme %q", odierr.ErrInvalidIdentifier, u.Scheme)
	}
	return nil
}
