package remote

import (
	"context"

	"github.com/goliatone/go-signin/credential"
	"golang.org/x/oauth2"
)

// SessionTokenSource exposes the ID token of the stored session as an
// oauth2.TokenSource. The store is read on every call so a sign out takes
// effect immediately.
type SessionTokenSource struct {
	store credential.SessionStore
}

// NewSessionTokenSource creates a token source backed by store.
func NewSessionTokenSource(store credential.SessionStore) *SessionTokenSource {
	return &SessionTokenSource{store: store}
}

var _ oauth2.TokenSource = (*SessionTokenSource)(nil)

// Token implements oauth2.TokenSource.
func (s *SessionTokenSource) Token() (*oauth2.Token, error) {
	session, err := s.store.Load(context.Background())
	if err != nil {
		return nil, err
	}
	if session.IDToken == "" {
		return nil, credential.ErrSessionNotFound
	}
	return &oauth2.Token{
		AccessToken: session.IDToken,
		TokenType:   "Bearer",
		Expiry:      session.ExpiresAt,
	}, nil
}
