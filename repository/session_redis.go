package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-signin/credential"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "signin:session"

// RedisSessionStore persists the provider session of one installation as
// a JSON blob under "<prefix>:<installationID>".
type RedisSessionStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	now    func() time.Time
}

// RedisOption configures a RedisSessionStore.
type RedisOption func(*RedisSessionStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisSessionStore) {
		if prefix != "" {
			s.key = prefix
		}
	}
}

// WithSessionTTL caps how long a saved session is kept. Zero keeps it until
// the session itself expires.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSessionStore) {
		s.ttl = ttl
	}
}

// NewRedisSessionStore creates a store for installationID.
func NewRedisSessionStore(client redis.Cmdable, installationID string, opts ...RedisOption) (*RedisSessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis session store: client is required")
	}
	if installationID == "" {
		return nil, fmt.Errorf("redis session store: installation id is required")
	}

	s := &RedisSessionStore{
		client: client,
		key:    DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.key = s.key + ":" + installationID
	return s, nil
}

var _ credential.SessionStore = (*RedisSessionStore)(nil)

// Key returns the redis key used by this store.
func (s *RedisSessionStore) Key() string {
	return s.key
}

// Load implements credential.SessionStore.
func (s *RedisSessionStore) Load(ctx context.Context) (*credential.ProviderSession, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis session store: load: %w", err)
	}

	var session credential.ProviderSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("redis session store: corrupt session: %w", err)
	}
	return &session, nil
}

// Save implements credential.SessionStore.
func (s *RedisSessionStore) Save(ctx context.Context, session *credential.ProviderSession) error {
	if session == nil {
		return s.Delete(ctx)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("redis session store: encode: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.expiration(session)).Err(); err != nil {
		return fmt.Errorf("redis session store: save: %w", err)
	}
	return nil
}

// Delete implements credential.SessionStore. Deleting a missing key is not
// an error.
func (s *RedisSessionStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis session store: delete: %w", err)
	}
	return nil
}

// expiration keeps sessions that can be refreshed for the full TTL and
// drops the others when their token expires.
func (s *RedisSessionStore) expiration(session *credential.ProviderSession) time.Duration {
	ttl := s.ttl
	if session.RefreshToken != "" || session.ExpiresAt.IsZero() {
		return ttl
	}

	remaining := session.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		remaining = time.Second
	}
	if ttl == 0 || remaining < ttl {
		return remaining
	}
	return ttl
}
