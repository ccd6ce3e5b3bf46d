package credential

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	signin "github.com/goliatone/go-signin"
)

// IDTokenClaims holds the OpenID Connect claims used to build a profile.
// Firebase ID tokens carry the same standard claims plus user_id.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Nonce           string         `json:"nonce,omitempty"`
	AuthorizedParty string         `json:"azp,omitempty"`
	Email           string         `json:"email,omitempty"`
	EmailVerified   bool           `json:"email_verified,omitempty"`
	Name            string         `json:"name,omitempty"`
	GivenName       string         `json:"given_name,omitempty"`
	FamilyName      string         `json:"family_name,omitempty"`
	Picture         string         `json:"picture,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Firebase        map[string]any `json:"firebase,omitempty"`
}

// Profile maps the claims to a Profile for provider.
func (c *IDTokenClaims) Profile(provider string) *Profile {
	profile := &Profile{
		Subject:       c.Subject,
		Provider:      provider,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
		Picture:       c.Picture,
		Raw: map[string]any{
			"sub":   c.Subject,
			"iss":   c.Issuer,
			"email": c.Email,
		},
	}
	if c.ExpiresAt != nil {
		profile.ExpiresAt = c.ExpiresAt.Time
	}
	if c.UserID != "" && profile.Subject == "" {
		profile.Subject = c.UserID
	}
	if len(c.Firebase) > 0 {
		profile.Raw["firebase"] = c.Firebase
	}
	return profile
}

// IDTokenVerifier validates RS256 ID tokens against a key set, a list of
// accepted issuers and a single audience.
type IDTokenVerifier struct {
	keyfunc  jwt.Keyfunc
	audience string
	issuers  []string
	leeway   time.Duration
	now      func() time.Time
}

// NewIDTokenVerifier creates a verifier. At least one issuer is required.
func NewIDTokenVerifier(kf jwt.Keyfunc, audience string, issuers ...string) (*IDTokenVerifier, error) {
	if kf == nil {
		return nil, fmt.Errorf("id token verifier: key function is required")
	}
	if audience == "" {
		return nil, fmt.Errorf("id token verifier: audience is required")
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("id token verifier: at least one issuer is required")
	}
	return &IDTokenVerifier{
		keyfunc:  kf,
		audience: audience,
		issuers:  issuers,
		leeway:   30 * time.Second,
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source.
func (v *IDTokenVerifier) WithClock(now func() time.Time) *IDTokenVerifier {
	if now != nil {
		v.now = now
	}
	return v
}

// WithLeeway sets the accepted clock skew.
func (v *IDTokenVerifier) WithLeeway(leeway time.Duration) *IDTokenVerifier {
	v.leeway = leeway
	return v
}

// Verify parses raw and checks signature, expiry, audience, issuer and,
// when nonce is not empty, the nonce claim.
func (v *IDTokenVerifier) Verify(raw, nonce string) (*IDTokenClaims, error) {
	if raw == "" {
		return nil, idTokenError(stderrors.New("empty token"), "")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	claims := &IDTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, v.keyfunc); err != nil {
		return nil, idTokenError(err, "")
	}

	if !v.acceptsIssuer(claims.Issuer) {
		return nil, idTokenError(jwt.ErrTokenInvalidIssuer, claims.Issuer)
	}

	if nonce != "" && claims.Nonce != nonce {
		return nil, idTokenError(stderrors.New("nonce mismatch"), claims.Issuer)
	}

	if claims.Subject == "" {
		return nil, idTokenError(stderrors.New("missing subject"), claims.Issuer)
	}

	return claims, nil
}

func (v *IDTokenVerifier) acceptsIssuer(issuer string) bool {
	for _, accepted := range v.issuers {
		if issuer == accepted {
			return true
		}
	}
	return false
}

func idTokenError(err error, issuer string) error {
	clone := ErrIDTokenInvalid.Clone()
	if clone == nil {
		return err
	}
	clone.Source = err
	meta := map[string]any{"cause": err.Error()}
	if issuer != "" {
		meta["issuer"] = issuer
	}
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		meta["expired"] = true
	}
	return clone.WithMetadata(meta)
}

// StaticKey is a verification key registered under a key ID.
type StaticKey struct {
	Key       any
	Algorithm string
}

// StaticKeyfunc resolves keys from a fixed set.
func StaticKeyfunc(keys map[string]StaticKey) jwt.Keyfunc {
	given := make(map[string]keyfunc.GivenKey, len(keys))
	for kid, key := range keys {
		alg := key.Algorithm
		if alg == "" {
			alg = jwt.SigningMethodRS256.Alg()
		}
		given[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
			Algorithm: alg,
		})
	}
	return keyfunc.NewGiven(given).Keyfunc
}

// RemoteKeySet lazily fetches a JWK Set and keeps it refreshed in the
// background. The first fetch happens on the first verification so a host
// can start while offline.
type RemoteKeySet struct {
	url    string
	logger signin.Logger

	mu   sync.Mutex
	jwks *keyfunc.JWKS
}

// NewRemoteKeySet creates a key set for jwksURL.
func NewRemoteKeySet(jwksURL string, logger signin.Logger) *RemoteKeySet {
	if logger == nil {
		logger = signin.DefaultLogger()
	}
	return &RemoteKeySet{url: jwksURL, logger: logger}
}

// Keyfunc implements jwt.Keyfunc.
func (r *RemoteKeySet) Keyfunc(token *jwt.Token) (any, error) {
	jwks, err := r.load()
	if err != nil {
		return nil, err
	}
	return jwks.Keyfunc(token)
}

// Close stops the background refresh.
func (r *RemoteKeySet) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jwks != nil {
		r.jwks.EndBackground()
		r.jwks = nil
	}
	return nil
}

func (r *RemoteKeySet) load() (*keyfunc.JWKS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jwks != nil {
		return r.jwks, nil
	}

	jwks, err := keyfunc.Get(r.url, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			r.logger.Warn("failed to refresh JWK set", "url", r.url, "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK set %s: %w", r.url, err)
	}
	r.jwks = jwks
	return jwks, nil
}
