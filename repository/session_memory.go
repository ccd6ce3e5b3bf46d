package repository

import (
	"context"
	"sync"

	"github.com/goliatone/go-signin/credential"
)

// MemorySessionStore keeps the provider session in process memory. Sessions
// do not survive a restart.
type MemorySessionStore struct {
	mu      sync.RWMutex
	session *credential.ProviderSession
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

var _ credential.SessionStore = (*MemorySessionStore)(nil)

// Load implements credential.SessionStore.
func (s *MemorySessionStore) Load(ctx context.Context) (*credential.ProviderSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, credential.ErrSessionNotFound
	}
	out := *s.session
	return &out, nil
}

// Save implements credential.SessionStore.
func (s *MemorySessionStore) Save(ctx context.Context, session *credential.ProviderSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil {
		return s.Delete(ctx)
	}
	out := *session
	s.mu.Lock()
	s.session = &out
	s.mu.Unlock()
	return nil
}

// Delete implements credential.SessionStore. Deleting an empty store is not
// an error.
func (s *MemorySessionStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	return nil
}
