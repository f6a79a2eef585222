// Package session holds the current access/refresh credential pair for a
// vpanel account. A Store is a plain data holder: it never talks to the
// network and never decides when credentials are stale. The transport client
// is the only writer during normal operation; login and logout write through
// the CLI.
package session

import (
	"errors"
	"time"
)

// ErrNoSession is returned by SetMeta when no credentials are stored.
// Metadata describes a session and cannot exist without one.
var ErrNoSession = errors.New("session: no credentials stored")

// expirySkew treats a credential as expired slightly before its real expiry
// so a request does not leave with a token that dies in flight.
const expirySkew = 10 * time.Second

// Credentials is the access/refresh pair issued by the panel. At most one
// pair exists per Store; Set replaces, never merges.
type Credentials struct {
	AccessToken  string
	RefreshToken string

	// ExpiresAt is zero when the server did not report an expiry and the
	// access token carried no exp claim.
	ExpiresAt time.Time
}

// Valid reports whether the pair carries an access token at all.
func (c *Credentials) Valid() bool {
	return c != nil && c.AccessToken != ""
}

// Expired reports whether the access token is past its expiry at now.
// A zero ExpiresAt never expires locally; the server's 401 is authoritative.
func (c *Credentials) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}

	return !now.Before(c.ExpiresAt.Add(-expirySkew))
}

// Clone returns an independent copy so callers cannot mutate stored state.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}

	cp := *c

	return &cp
}

// Store persists the single current credential pair. Get returns (nil, nil)
// when no pair is stored. Implementations must be safe for concurrent use.
type Store interface {
	Get() (*Credentials, error)
	Set(c *Credentials) error
	Clear() error
}

// MetaStore is implemented by stores that can also keep a small map of
// cached profile metadata (user name, role) next to the credentials.
// SetMeta merges into the existing map and fails with ErrNoSession when no
// credentials are stored; Clear drops the metadata with the credentials.
type MetaStore interface {
	Store
	Meta() (map[string]string, error)
	SetMeta(meta map[string]string) error
}
