package credential

import (
	"context"
	"time"

	signin "github.com/goliatone/go-signin"
)

// ProviderSession is the persisted result of a successful sign in. It is
// what makes a session survive a restart of the host.
type ProviderSession struct {
	Identity     signin.Identity `json:"identity"`
	IDToken      string          `json:"id_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at,omitempty"`
	SignedInAt   time.Time       `json:"signed_in_at"`
}

// Expired reports whether the backend token has passed its expiry. A zero
// expiry never expires.
func (s *ProviderSession) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// SessionStore persists the current provider session. Load returns
// ErrSessionNotFound when nobody is signed in.
type SessionStore interface {
	Load(ctx context.Context) (*ProviderSession, error)
	Save(ctx context.Context, session *ProviderSession) error
	Delete(ctx context.Context) error
}
