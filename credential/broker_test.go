package credential_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

type fakeProvider struct {
	mu          sync.Mutex
	lastAuth    credential.AuthCodeConfig
	lastVerify  string
	exchangeErr error
	verifyErr   error
	profile     *credential.Profile
}

func (p *fakeProvider) Name() string { return "google" }

func (p *fakeProvider) AuthCodeURL(state string, opts ...credential.AuthCodeOption) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAuth = credential.ApplyAuthCodeOptions(nil, opts...)
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string, opts ...credential.ExchangeOption) (*credential.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	cfg := credential.ApplyExchangeOptions(opts...)
	p.mu.Lock()
	p.lastVerify = cfg.CodeVerifier
	p.mu.Unlock()
	return &credential.Token{AccessToken: "at", IDToken: "id-token-for-" + code, RefreshToken: "rt"}, nil
}

func (p *fakeProvider) VerifyIDToken(_ context.Context, raw, nonce string) (*credential.Profile, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if nonce != p.lastAuth.Nonce {
		return nil, credential.ErrIDTokenInvalid
	}
	if p.profile != nil {
		return p.profile, nil
	}
	return &credential.Profile{
		Subject:  "alice-sub",
		Provider: "google",
		Email:    "alice@example.com",
		Name:     "Alice",
		Picture:  "https://example.com/alice.png",
		Raw:      map[string]any{"raw": raw},
	}, nil
}

type MockFederator struct {
	mock.Mock
}

func (m *MockFederator) Name() string { return "firebase" }

func (m *MockFederator) SignInWithIDToken(ctx context.Context, providerID, idToken string) (*credential.FederatedSession, error) {
	args := m.Called(ctx, providerID, idToken)
	if session := args.Get(0); session != nil {
		return session.(*credential.FederatedSession), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRevoker struct {
	mock.Mock
}

func (m *MockRevoker) Revoke(ctx context.Context, identityID string) error {
	return m.Called(ctx, identityID).Error(0)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifySession(ctx context.Context, idToken string) (*signin.Identity, error) {
	args := m.Called(ctx, idToken)
	if identity := args.Get(0); identity != nil {
		return identity.(*signin.Identity), args.Error(1)
	}
	return nil, args.Error(1)
}

type memoryStore struct {
	mu      sync.Mutex
	session *credential.ProviderSession
	deletes int
}

func (s *memoryStore) Load(context.Context) (*credential.ProviderSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, credential.ErrSessionNotFound
	}
	out := *s.session
	return &out, nil
}

func (s *memoryStore) Save(_ context.Context, session *credential.ProviderSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *session
	s.session = &out
	return nil
}

func (s *memoryStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	s.session = nil
	return nil
}

func newTestBroker(t *testing.T, provider credential.IdentityProvider, opts ...credential.BrokerOption) *credential.Broker {
	t.Helper()
	opts = append([]credential.BrokerOption{credential.WithBrokerLogger(quietLogger{})}, opts...)
	b, err := credential.NewBroker(provider, opts...)
	require.NoError(t, err)
	return b
}

func TestBrokerCompletesCodeFlow(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	store := &memoryStore{}
	b := newTestBroker(t, provider, credential.WithSessionStore(store))

	assert.Nil(t, b.CurrentIdentity(ctx))

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, "google", req.Provider)
	assert.Contains(t, req.URL, url.QueryEscape(req.State))
	assert.True(t, req.ExpiresAt.After(req.IssuedAt))
	assert.Equal(t, "select_account", provider.lastAuth.Prompt)
	assert.Equal(t, "S256", provider.lastAuth.CodeChallengeMethod)
	assert.NotEmpty(t, provider.lastAuth.Nonce)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"})
	require.True(t, result.Succeeded(), result.Reason())
	assert.Equal(t, "attempt-1", result.AttemptID)
	assert.Equal(t, "alice-sub", result.Identity.ID)
	assert.Equal(t, "Alice", result.Identity.DisplayName)
	assert.Equal(t, provider.lastAuth.CodeChallenge, credential.CodeChallengeS256(provider.lastVerify))

	current := b.CurrentIdentity(ctx)
	require.NotNil(t, current)
	assert.Equal(t, "alice@example.com", current.Email)

	require.NotNil(t, store.session)
	assert.Equal(t, "id-token-for-abc", store.session.IDToken)
	assert.Equal(t, "rt", store.session.RefreshToken)
}

func TestBrokerAcceptsDirectIDToken(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t, &fakeProvider{})

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, IDToken: "raw"})
	assert.True(t, result.Succeeded())
}

func TestBrokerUserCancelled(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t, &fakeProvider{})

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Error: "access_denied"})
	assert.False(t, result.Succeeded())
	assert.Equal(t, credential.ReasonCancelled, result.Reason())
	assert.Equal(t, "attempt-1", result.AttemptID)

	// the cancelled attempt can not be completed afterwards
	result = b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "late"})
	assert.False(t, result.Succeeded())
	assert.Equal(t, signin.UnmatchedAttempt, result.AttemptID)
}

func TestBrokerProviderErrorDescription(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t, &fakeProvider{})

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{
		State:            req.State,
		Error:            "server_error",
		ErrorDescription: "Try again later",
	})
	assert.Equal(t, "Try again later", result.Reason())
}

func TestBrokerRejectsTamperedState(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t, &fakeProvider{})

	_, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: "not-a-state", Code: "abc"})
	assert.False(t, result.Succeeded())
	assert.Equal(t, "invalid sign in state", result.Reason())
	assert.Equal(t, signin.UnmatchedAttempt, result.AttemptID)
	assert.Nil(t, b.CurrentIdentity(ctx))
}

func TestBrokerStrayResponseKeepsAttemptPending(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t, &fakeProvider{})

	req, err := b.BeginSignIn(ctx, "attempt-7")
	require.NoError(t, err)

	stray := b.CompleteSignIn(ctx, signin.CredentialResponse{State: "forged", Error: "access_denied"})
	assert.Equal(t, signin.UnmatchedAttempt, stray.AttemptID)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"})
	require.True(t, result.Succeeded(), result.Reason())
	assert.Equal(t, "attempt-7", result.AttemptID)
}

func TestBrokerRejectsReusedState(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t, &fakeProvider{})

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)

	first := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"})
	require.True(t, first.Succeeded())

	second := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"})
	assert.False(t, second.Succeeded())
	assert.Equal(t, "sign in state already used", second.Reason())
}

func TestBrokerNewAttemptSupersedesPending(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t, &fakeProvider{})

	first, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)
	second, err := b.BeginSignIn(ctx, "attempt-2")
	require.NoError(t, err)

	stale := b.CompleteSignIn(ctx, signin.CredentialResponse{State: first.State, Code: "a"})
	assert.False(t, stale.Succeeded())
	assert.Equal(t, signin.UnmatchedAttempt, stale.AttemptID)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: second.State, Code: "b"})
	assert.True(t, result.Succeeded())
	assert.Equal(t, "attempt-2", result.AttemptID)
}

func TestBrokerExchangeFailure(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{
		exchangeErr: credential.WrapProviderError(credential.ErrTokenExchangeFailed, "google", "exchange", &credential.ProviderError{
			Provider:    "google",
			Operation:   "exchange",
			Status:      400,
			Code:        "invalid_grant",
			Description: "Bad Request",
		}),
	}
	b := newTestBroker(t, provider)

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)

	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"})
	assert.False(t, result.Succeeded())
	assert.Equal(t, credential.ReasonCredentialExpired, result.Reason())
}

func TestBrokerWithoutProvider(t *testing.T) {
	b := newTestBroker(t, nil)

	req, err := b.BeginSignIn(context.Background(), "attempt-1")
	assert.Nil(t, req)
	assert.ErrorIs(t, err, signin.ErrProviderUnavailable)
}

func TestBrokerFederatesIDToken(t *testing.T) {
	ctx := context.Background()
	federator := &MockFederator{}
	federator.On("SignInWithIDToken", mock.Anything, "google", "id-token-for-abc").Return(&credential.FederatedSession{
		LocalID:      "firebase-uid",
		ProviderID:   "google.com",
		IDToken:      "firebase-id-token",
		RefreshToken: "firebase-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil).Once()
	store := &memoryStore{}

	b := newTestBroker(t, &fakeProvider{}, credential.WithFederator(federator), credential.WithSessionStore(store))

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)
	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"})
	require.True(t, result.Succeeded())

	assert.Equal(t, "firebase-uid", result.Identity.ID)
	assert.Equal(t, "Alice", result.Identity.DisplayName, "missing fields come from the provider profile")
	assert.Equal(t, "google.com", result.Identity.Provider)
	assert.Equal(t, "firebase-id-token", store.session.IDToken)
	federator.AssertExpectations(t)
}

func TestBrokerFederationFailure(t *testing.T) {
	ctx := context.Background()
	federator := &MockFederator{}
	federator.On("SignInWithIDToken", mock.Anything, "google", mock.Anything).Return(nil, &credential.ProviderError{
		Provider:    "firebase",
		Operation:   "signInWithIdp",
		Status:      400,
		Description: "INVALID_IDP_RESPONSE",
	}).Once()

	b := newTestBroker(t, &fakeProvider{}, credential.WithFederator(federator))

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)
	result := b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"})
	assert.False(t, result.Succeeded())
	assert.Equal(t, "INVALID_IDP_RESPONSE", result.Reason())
	assert.Nil(t, b.CurrentIdentity(ctx))
}

func TestBrokerRestoresStoredSession(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{session: &credential.ProviderSession{
		Identity:  signin.Identity{ID: "bob", DisplayName: "Bob"},
		IDToken:   "stored",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	verifier := &MockVerifier{}
	verifier.On("VerifySession", mock.Anything, "stored").Return(&signin.Identity{ID: "bob", Email: "bob@example.com"}, nil).Once()

	b := newTestBroker(t, &fakeProvider{}, credential.WithSessionStore(store), credential.WithSessionVerifier(verifier))

	current := b.CurrentIdentity(ctx)
	require.NotNil(t, current)
	assert.Equal(t, "Bob", current.DisplayName)
	assert.Equal(t, "bob@example.com", current.Email)

	// cached after the first lookup
	_ = b.CurrentIdentity(ctx)
	verifier.AssertNumberOfCalls(t, "VerifySession", 1)
}

func TestBrokerDiscardsRejectedSession(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{session: &credential.ProviderSession{
		Identity: signin.Identity{ID: "bob"},
		IDToken:  "revoked",
	}}
	verifier := &MockVerifier{}
	verifier.On("VerifySession", mock.Anything, "revoked").Return(nil, credential.ErrIDTokenInvalid).Once()

	b := newTestBroker(t, &fakeProvider{}, credential.WithSessionStore(store), credential.WithSessionVerifier(verifier))

	assert.Nil(t, b.CurrentIdentity(ctx))
	assert.Nil(t, store.session)
	assert.Equal(t, 1, store.deletes)
}

func TestBrokerDiscardsExpiredSession(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{session: &credential.ProviderSession{
		Identity:  signin.Identity{ID: "bob"},
		ExpiresAt: time.Now().Add(-time.Minute),
	}}

	b := newTestBroker(t, &fakeProvider{}, credential.WithSessionStore(store))

	assert.Nil(t, b.CurrentIdentity(ctx))
	assert.Nil(t, store.session)
}

func TestBrokerDiscardsExpiredSessionWithRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{session: &credential.ProviderSession{
		Identity:     signin.Identity{ID: "bob", DisplayName: "Bob", Email: "bob@example.com"},
		IDToken:      "stale",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-2 * time.Hour),
	}}
	verifier := &MockVerifier{}
	verifier.On("VerifySession", mock.Anything, mock.Anything).Return(nil, credential.ErrIDTokenInvalid)

	provider := &fakeProvider{}
	b := newTestBroker(t, provider, credential.WithSessionStore(store), credential.WithSessionVerifier(verifier))

	assert.Nil(t, b.CurrentIdentity(ctx))
	assert.Nil(t, store.session)
	assert.Equal(t, 1, store.deletes)

	// the next attempt suggests the account that expired
	_, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", provider.lastAuth.LoginHint)
}

func TestBrokerLoginHintClearedAfterSignIn(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{session: &credential.ProviderSession{
		Identity:  signin.Identity{ID: "bob", Email: "bob@example.com"},
		ExpiresAt: time.Now().Add(-time.Minute),
	}}
	provider := &fakeProvider{}
	b := newTestBroker(t, provider, credential.WithSessionStore(store))
	require.Nil(t, b.CurrentIdentity(ctx))

	req, err := b.BeginSignIn(ctx, "attempt-1")
	require.NoError(t, err)
	require.True(t, b.CompleteSignIn(ctx, signin.CredentialResponse{State: req.State, Code: "abc"}).Succeeded())
	require.NoError(t, b.SignOut(ctx))

	_, err = b.BeginSignIn(ctx, "attempt-2")
	require.NoError(t, err)
	assert.Empty(t, provider.lastAuth.LoginHint)
}

func TestBrokerSignOutRevokesAndClears(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{session: &credential.ProviderSession{Identity: signin.Identity{ID: "bob"}}}
	revoker := &MockRevoker{}
	revoker.On("Revoke", mock.Anything, "bob").Return(assert.AnError).Once()

	b := newTestBroker(t, &fakeProvider{}, credential.WithSessionStore(store), credential.WithRevoker(revoker))
	require.NotNil(t, b.CurrentIdentity(ctx))

	err := b.SignOut(ctx)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, b.CurrentIdentity(ctx), "local session is cleared even when revocation fails")
	assert.Nil(t, store.session)
	revoker.AssertExpectations(t)
}

func TestBrokerSignOutWithoutSession(t *testing.T) {
	revoker := &MockRevoker{}
	b := newTestBroker(t, &fakeProvider{}, credential.WithRevoker(revoker))

	require.NoError(t, b.SignOut(context.Background()))
	revoker.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything)
}
