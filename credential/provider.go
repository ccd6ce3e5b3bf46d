package credential

import (
	"context"
	"time"

	signin "github.com/goliatone/go-signin"
)

// IdentityProvider defines what the broker needs from an OpenID Connect
// provider such as Google.
type IdentityProvider interface {
	// Name returns the provider identifier (e.g., "google").
	Name() string

	// AuthCodeURL returns the URL the host opens to show the sign-in UI.
	AuthCodeURL(state string, opts ...AuthCodeOption) string

	// Exchange trades an authorization code for tokens.
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error)

	// VerifyIDToken checks signature, issuer, audience, expiry and nonce and
	// returns the profile carried by the token.
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*Profile, error)
}

// Federator exchanges a provider ID token for a session with a federated
// backend (e.g., Firebase Authentication).
type Federator interface {
	Name() string
	SignInWithIDToken(ctx context.Context, providerID, idToken string) (*FederatedSession, error)
}

// SessionVerifier confirms that a stored session token is still accepted by
// the backend.
type SessionVerifier interface {
	VerifySession(ctx context.Context, idToken string) (*signin.Identity, error)
}

// Revoker invalidates the backend refresh tokens of an identity on sign out.
type Revoker interface {
	Revoke(ctx context.Context, identityID string) error
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*authCodeConfig)

// WithScopes sets additional scopes for the auth request.
func WithScopes(scopes ...string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.scopes = append(c.scopes, scopes...)
	}
}

// WithPKCE enables PKCE with the given code challenge.
func WithPKCE(codeChallenge, method string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.codeChallenge = codeChallenge
		c.codeChallengeMethod = method
	}
}

// WithPrompt sets the prompt parameter (e.g., "consent", "select_account").
func WithPrompt(prompt string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.prompt = prompt
	}
}

// WithNonce binds the ID token to this request.
func WithNonce(nonce string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.nonce = nonce
	}
}

// WithLoginHint pre-selects an account in the provider UI.
func WithLoginHint(hint string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.loginHint = hint
	}
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*exchangeConfig)

// WithCodeVerifier sets the PKCE code verifier for token exchange.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *exchangeConfig) {
		c.codeVerifier = verifier
	}
}

type authCodeConfig struct {
	scopes              []string
	codeChallenge       string
	codeChallengeMethod string
	prompt              string
	nonce               string
	loginHint           string
}

type exchangeConfig struct {
	codeVerifier string
}

// AuthCodeConfig represents applied auth code options in a provider-friendly form.
type AuthCodeConfig struct {
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	Nonce               string
	LoginHint           string
}

// ExchangeConfig represents applied exchange options in a provider-friendly form.
type ExchangeConfig struct {
	CodeVerifier string
}

// ApplyAuthCodeOptions applies AuthCodeOption values and returns a normalized config.
func ApplyAuthCodeOptions(scopes []string, opts ...AuthCodeOption) AuthCodeConfig {
	cfg := authCodeConfig{scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return AuthCodeConfig{
		Scopes:              cfg.scopes,
		CodeChallenge:       cfg.codeChallenge,
		CodeChallengeMethod: cfg.codeChallengeMethod,
		Prompt:              cfg.prompt,
		Nonce:               cfg.nonce,
		LoginHint:           cfg.loginHint,
	}
}

// ApplyExchangeOptions applies ExchangeOption values and returns a normalized config.
func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := exchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return ExchangeConfig{CodeVerifier: cfg.codeVerifier}
}

// Token represents an OAuth2 token response.
type Token struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	Scopes       []string
}

// Profile is the normalized content of a verified ID token.
type Profile struct {
	Subject       string
	Provider      string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
	ExpiresAt     time.Time
	Raw           map[string]any
}

// DisplayName falls back to the given/family names and finally the email.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	if full := joinNonEmpty(p.GivenName, p.FamilyName); full != "" {
		return full
	}
	return p.Email
}

// Identity converts the profile into a signin.Identity.
func (p *Profile) Identity() signin.Identity {
	return signin.Identity{
		ID:                p.Subject,
		DisplayName:       p.DisplayName(),
		ProfilePictureURL: p.Picture,
		Email:             p.Email,
		Provider:          p.Provider,
	}
}

// FederatedSession is what the federated backend returns after exchanging a
// provider ID token.
type FederatedSession struct {
	LocalID      string
	DisplayName  string
	PhotoURL     string
	Email        string
	ProviderID   string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	IsNewUser    bool
}

// Identity converts the federated session into a signin.Identity, filling
// gaps from the provider profile.
func (s *FederatedSession) Identity(fallback *Profile) signin.Identity {
	identity := signin.Identity{
		ID:                s.LocalID,
		DisplayName:       s.DisplayName,
		ProfilePictureURL: s.PhotoURL,
		Email:             s.Email,
		Provider:          s.ProviderID,
	}
	if fallback != nil {
		if identity.DisplayName == "" {
			identity.DisplayName = fallback.DisplayName()
		}
		if identity.ProfilePictureURL == "" {
			identity.ProfilePictureURL = fallback.Picture
		}
		if identity.Email == "" {
			identity.Email = fallback.Email
		}
		if identity.Provider == "" {
			identity.Provider = fallback.Provider
		}
	}
	return identity
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += part
	}
	return out
}
