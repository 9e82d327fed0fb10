// Package session manages per-tenant session tokens that scope calls to
// session-gated capabilities.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the default session lifetime (spec: 3600s).
const DefaultTTL = 1 * time.Hour

// DefaultCompactionInterval is how often expired sessions are purged.
// The spec requires at least every 60s.
const DefaultCompactionInterval = 30 * time.Second

// ErrNotFound is returned when a token is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Session is an opaque, expiring token scoping calls to session-gated
// capabilities for one tenant.
type Session struct {
	Token        string    `json:"session_token"`
	Capabilities []string  `json:"capabilities"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired reports whether the session has passed its expiry.
func (s *Session) IsExpired() bool {
	return !time.Now().Before(s.ExpiresAt)
}

// Store is the per-tenant session store contract. Implementations must
// serialize all operations for a given token with each other and with
// background compaction.
type Store interface {
	// Create mints a new session bound to the given capability snapshot.
	Create(ctx context.Context, capabilities []string) (*Session, error)
	// Validate returns the session for token, or ErrNotFound if unknown or
	// expired. An expired entry is lazily evicted.
	Validate(ctx context.Context, token string) (*Session, error)
	// End idempotently removes a session.
	End(ctx context.Context, token string) error
	// Destroy stops background compaction and drops all entries. Safe to
	// call more than once.
	Destroy()
}
