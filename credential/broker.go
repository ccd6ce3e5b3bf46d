package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	signin "github.com/goliatone/go-signin"
)

const (
	// ReasonCancelled is reported when the user dismisses the account picker.
	ReasonCancelled = "cancelled"

	reasonMissingCredential = "no credential returned"
)

// Broker implements signin.CredentialBroker on top of an OpenID Connect
// provider, an optional federated backend and an optional session store.
type Broker struct {
	provider  IdentityProvider
	federator Federator
	verifier  SessionVerifier
	revoker   Revoker
	store     SessionStore
	codec     StateCodec
	logger    signin.Logger
	now       func() time.Time

	mu        sync.Mutex
	current   *signin.Identity
	loaded    bool
	pending   string
	loginHint string
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithFederator exchanges the provider ID token with a federated backend.
func WithFederator(federator Federator) BrokerOption {
	return func(b *Broker) {
		b.federator = federator
	}
}

// WithSessionVerifier re-validates a restored session before trusting it.
func WithSessionVerifier(verifier SessionVerifier) BrokerOption {
	return func(b *Broker) {
		b.verifier = verifier
	}
}

// WithRevoker revokes backend tokens on sign out.
func WithRevoker(revoker Revoker) BrokerOption {
	return func(b *Broker) {
		b.revoker = revoker
	}
}

// WithSessionStore persists sessions across restarts.
func WithSessionStore(store SessionStore) BrokerOption {
	return func(b *Broker) {
		b.store = store
	}
}

// WithStateCodec overrides the default ephemeral state codec.
func WithStateCodec(codec StateCodec) BrokerOption {
	return func(b *Broker) {
		if codec != nil {
			b.codec = codec
		}
	}
}

// WithBrokerLogger sets the logger.
func WithBrokerLogger(logger signin.Logger) BrokerOption {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBrokerClock sets the time source.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroker creates a Broker for provider.
func NewBroker(provider IdentityProvider, opts ...BrokerOption) (*Broker, error) {
	b := &Broker{
		provider: provider,
		logger:   signin.DefaultLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.codec == nil {
		codec, err := NewEphemeralStateCodec(DefaultStateTTL)
		if err != nil {
			return nil, err
		}
		b.codec = codec.WithClock(b.now)
	}
	return b, nil
}

var _ signin.CredentialBroker = (*Broker)(nil)

// CurrentIdentity returns the signed in identity, loading it from the store
// the first time it is asked.
func (b *Broker) CurrentIdentity(ctx context.Context) *signin.Identity {
	b.mu.Lock()
	if b.loaded {
		defer b.mu.Unlock()
		return copyIdentity(b.current)
	}
	b.mu.Unlock()

	identity := b.restore(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		b.current = identity
		b.loaded = true
	}
	return copyIdentity(b.current)
}

func (b *Broker) restore(ctx context.Context) *signin.Identity {
	if b.store == nil {
		return nil
	}

	session, err := b.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			b.logger.Warn("failed to load stored session", "error", err)
		}
		return nil
	}

	if session.Expired(b.now()) {
		b.logger.Info("stored session expired", "identity_id", session.Identity.ID)
		b.forget(ctx, session)
		return nil
	}

	if b.verifier != nil && session.IDToken != "" {
		identity, err := b.verifier.VerifySession(ctx, session.IDToken)
		if err != nil {
			b.logger.Warn("stored session rejected by backend", "identity_id", session.Identity.ID, "error", err)
			b.forget(ctx, session)
			return nil
		}
		if identity != nil {
			merged := mergeIdentity(session.Identity, *identity)
			return &merged
		}
	}

	identity := session.Identity
	return &identity
}

// BeginSignIn prepares a new attempt bound to attemptID. Any earlier pending
// attempt is forgotten and its state can no longer complete. When a stored
// session was dropped because it expired, the provider UI is pointed at the
// same account.
func (b *Broker) BeginSignIn(ctx context.Context, attemptID string) (*signin.SignInRequest, error) {
	if b.provider == nil {
		return nil, signin.ErrProviderUnavailable
	}

	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, WrapProviderError(signin.ErrProviderUnavailable, b.provider.Name(), "begin", err)
	}

	state := &SignInState{
		Nonce:        generateNonce(),
		Provider:     b.provider.Name(),
		CodeVerifier: verifier,
		AttemptID:    attemptID,
	}
	token, err := b.codec.Encode(state)
	if err != nil {
		return nil, WrapProviderError(signin.ErrProviderUnavailable, b.provider.Name(), "begin", err)
	}

	b.mu.Lock()
	hint := b.loginHint
	b.mu.Unlock()

	authURL := b.provider.AuthCodeURL(token,
		WithNonce(state.Nonce),
		WithPKCE(CodeChallengeS256(verifier), "S256"),
		WithPrompt("select_account"),
		WithLoginHint(hint),
	)
	if authURL == "" {
		return nil, signin.ErrProviderUnavailable
	}

	b.mu.Lock()
	b.pending = state.Nonce
	b.mu.Unlock()

	b.logger.Debug("sign in started", "provider", state.Provider, "attempt_id", attemptID)

	return &signin.SignInRequest{
		URL:       authURL,
		State:     token,
		Provider:  state.Provider,
		IssuedAt:  time.Unix(state.IssuedAt, 0),
		ExpiresAt: time.Unix(state.ExpiresAt, 0),
	}, nil
}

// CompleteSignIn turns the provider response into an attempt result bound to
// the attempt recorded in its state. It never returns an error: every failure
// becomes a failed result carrying a human readable reason. Responses whose
// state does not decode or is not pending belong to no live attempt and are
// bound to signin.UnmatchedAttempt, so they never resolve the current one.
func (b *Broker) CompleteSignIn(ctx context.Context, response signin.CredentialResponse) signin.SignInAttemptResult {
	state, err := b.codec.Decode(response.State)
	if err != nil {
		b.logger.Warn("sign in state rejected", "error", err)
		return signin.SignInFailed(reasonFor(err)).ForAttempt(signin.UnmatchedAttempt)
	}

	b.mu.Lock()
	if state.Nonce == "" || state.Nonce != b.pending {
		b.mu.Unlock()
		b.logger.Warn("sign in state is not pending", "provider", state.Provider, "attempt_id", state.AttemptID)
		return signin.SignInFailed(reasonFor(ErrStateReused)).ForAttempt(signin.UnmatchedAttempt)
	}
	b.pending = ""
	b.mu.Unlock()

	result := b.complete(ctx, state, response)
	return result.ForAttempt(state.AttemptID)
}

func (b *Broker) complete(ctx context.Context, state *SignInState, response signin.CredentialResponse) signin.SignInAttemptResult {
	if response.Error != "" {
		return signin.SignInFailed(responseErrorReason(response))
	}

	if b.provider == nil {
		return signin.SignInFailed(reasonFor(signin.ErrProviderUnavailable))
	}

	rawIDToken := response.IDToken
	var refreshToken string
	if rawIDToken == "" && response.Code != "" {
		token, err := b.provider.Exchange(ctx, response.Code, WithCodeVerifier(state.CodeVerifier))
		if err != nil {
			b.logger.Error("token exchange failed", "provider", state.Provider, "error", err)
			return signin.SignInFailed(reasonFor(err))
		}
		rawIDToken = token.IDToken
		refreshToken = token.RefreshToken
	}
	if rawIDToken == "" {
		return signin.SignInFailed(reasonMissingCredential)
	}

	profile, err := b.provider.VerifyIDToken(ctx, rawIDToken, state.Nonce)
	if err != nil {
		b.logger.Error("id token verification failed", "provider", state.Provider, "error", err)
		return signin.SignInFailed(reasonFor(err))
	}

	identity := profile.Identity()
	session := &ProviderSession{
		Identity:     identity,
		IDToken:      rawIDToken,
		RefreshToken: refreshToken,
		ExpiresAt:    profile.ExpiresAt,
		SignedInAt:   b.now(),
	}

	if b.federator != nil {
		federated, err := b.federator.SignInWithIDToken(ctx, b.provider.Name(), rawIDToken)
		if err != nil {
			b.logger.Error("federated sign in failed", "backend", b.federator.Name(), "error", err)
			return signin.SignInFailed(reasonFor(err))
		}
		identity = federated.Identity(profile)
		session.Identity = identity
		session.IDToken = federated.IDToken
		session.RefreshToken = federated.RefreshToken
		session.ExpiresAt = federated.ExpiresAt
	}

	if b.store != nil {
		if err := b.store.Save(ctx, session); err != nil {
			b.logger.Warn("failed to persist session", "identity_id", identity.ID, "error", err)
		}
	}

	b.mu.Lock()
	b.current = copyIdentity(&identity)
	b.loaded = true
	b.loginHint = ""
	b.mu.Unlock()

	b.logger.Info("sign in completed", "identity_id", identity.ID, "provider", identity.Provider)

	return signin.SignInSucceeded(identity)
}

// SignOut clears the local session. Local state is always cleared; the
// first error from revocation or the store is returned.
func (b *Broker) SignOut(ctx context.Context) error {
	b.mu.Lock()
	current := b.current
	b.current = nil
	b.loaded = true
	b.pending = ""
	b.loginHint = ""
	b.mu.Unlock()

	var firstErr error
	if b.revoker != nil && current != nil {
		if err := b.revoker.Revoke(ctx, current.ID); err != nil {
			b.logger.Warn("failed to revoke session", "identity_id", current.ID, "error", err)
			firstErr = err
		}
	}

	if b.store != nil {
		if err := b.store.Delete(ctx); err != nil && !errors.Is(err, ErrSessionNotFound) {
			b.logger.Warn("failed to delete stored session", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// forget deletes a stored session that can no longer be trusted and keeps
// its email as the login hint for the next attempt.
func (b *Broker) forget(ctx context.Context, session *ProviderSession) {
	b.mu.Lock()
	b.loginHint = session.Identity.Email
	b.mu.Unlock()

	if err := b.store.Delete(ctx); err != nil && !errors.Is(err, ErrSessionNotFound) {
		b.logger.Warn("failed to delete stored session", "error", err)
	}
}

func responseErrorReason(response signin.CredentialResponse) string {
	switch response.Error {
	case "access_denied", "user_cancelled", "cancelled":
		return ReasonCancelled
	}
	if response.ErrorDescription != "" {
		return response.ErrorDescription
	}
	return response.Error
}

func reasonFor(err error) string {
	if err == nil {
		return ""
	}
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Reason() != "" {
		return perr.Reason()
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		if source, ok := richErr.Source.(*ProviderError); ok && source.Reason() != "" {
			return source.Reason()
		}
		return richErr.Message
	}
	return err.Error()
}

func mergeIdentity(stored, fresh signin.Identity) signin.Identity {
	if fresh.ID == "" {
		fresh.ID = stored.ID
	}
	if fresh.DisplayName == "" {
		fresh.DisplayName = stored.DisplayName
	}
	if fresh.ProfilePictureURL == "" {
		fresh.ProfilePictureURL = stored.ProfilePictureURL
	}
	if fresh.Email == "" {
		fresh.Email = stored.Email
	}
	if fresh.Provider == "" {
		fresh.Provider = stored.Provider
	}
	return fresh
}

func copyIdentity(identity *signin.Identity) *signin.Identity {
	if identity == nil {
		return nil
	}
	out := *identity
	return &out
}
