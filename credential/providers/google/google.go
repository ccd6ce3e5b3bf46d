package google

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/credential"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"

	providerName = "google"
)

// Issuers lists the issuer values Google puts in ID tokens.
var Issuers = []string{"https://accounts.google.com", "accounts.google.com"}

// Config holds Google OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	JWKSURL  string

	// KeyFunc overrides the remote JWK set, mostly for tests.
	KeyFunc jwt.Keyfunc

	HTTPClient *http.Client
	Logger     signin.Logger
}

// DefaultScopes returns the default Google scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements credential.IdentityProvider for Google.
type Provider struct {
	config     Config
	oauth      *oauth2.Config
	httpClient *http.Client
	keys       *credential.RemoteKeySet
	verifier   *credential.IDTokenVerifier
}

// New creates a new Google provider.
func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("google: client id is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = defaultJWKSURL
	}
	if cfg.Logger == nil {
		cfg.Logger = signin.DefaultLogger()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	p := &Provider{
		config:     cfg,
		httpClient: client,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}

	kf := cfg.KeyFunc
	if kf == nil {
		p.keys = credential.NewRemoteKeySet(cfg.JWKSURL, cfg.Logger)
		kf = p.keys.Keyfunc
	}

	verifier, err := credential.NewIDTokenVerifier(kf, cfg.ClientID, Issuers...)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	p.verifier = verifier

	return p, nil
}

// WithClock overrides the time source used for token expiry checks.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.verifier.WithClock(now)
	return p
}

// Name implements credential.IdentityProvider.
func (p *Provider) Name() string {
	return providerName
}

// AuthCodeURL implements credential.IdentityProvider.
func (p *Provider) AuthCodeURL(state string, opts ...credential.AuthCodeOption) string {
	cfg := credential.ApplyAuthCodeOptions(nil, opts...)

	conf := *p.oauth
	if len(cfg.Scopes) > 0 {
		conf.Scopes = append(append([]string(nil), p.oauth.Scopes...), cfg.Scopes...)
	}

	params := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if cfg.CodeChallenge != "" {
		method := cfg.CodeChallengeMethod
		if method == "" {
			method = "S256"
		}
		params = append(params,
			oauth2.SetAuthURLParam("code_challenge", cfg.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", method),
		)
	}
	if cfg.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", cfg.Prompt))
	}
	if cfg.Nonce != "" {
		params = append(params, oauth2.SetAuthURLParam("nonce", cfg.Nonce))
	}
	if cfg.LoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", cfg.LoginHint))
	}

	return conf.AuthCodeURL(state, params...)
}

// Exchange implements credential.IdentityProvider.
func (p *Provider) Exchange(ctx context.Context, code string, opts ...credential.ExchangeOption) (*credential.Token, error) {
	cfg := credential.ApplyExchangeOptions(opts...)

	var params []oauth2.AuthCodeOption
	if cfg.CodeVerifier != "" {
		params = append(params, oauth2.VerifierOption(cfg.CodeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth.Exchange(ctx, code, params...)
	if err != nil {
		return nil, credential.WrapProviderError(credential.ErrTokenExchangeFailed, providerName, "exchange", exchangeError(err))
	}

	if tok.AccessToken == "" {
		return nil, credential.WrapProviderError(credential.ErrTokenExchangeFailed, providerName, "exchange",
			providerError("exchange", http.StatusOK, "missing_access_token", "missing access token", nil, nil))
	}

	idToken, _ := tok.Extra("id_token").(string)
	scope, _ := tok.Extra("scope").(string)

	return &credential.Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		ExpiresAt:    tok.Expiry,
		Scopes:       splitSpaceScopes(scope),
	}, nil
}

// VerifyIDToken implements credential.IdentityProvider.
func (p *Provider) VerifyIDToken(_ context.Context, rawIDToken, nonce string) (*credential.Profile, error) {
	claims, err := p.verifier.Verify(rawIDToken, nonce)
	if err != nil {
		return nil, err
	}
	return mapProfile(claims), nil
}

// Close stops the background JWK set refresh.
func (p *Provider) Close(ctx context.Context) error {
	if p.keys == nil {
		return nil
	}
	return p.keys.Close(ctx)
}

func exchangeError(err error) error {
	var rerr *oauth2.RetrieveError
	if !stderrors.As(err, &rerr) {
		return providerError("exchange", 0, "", "", err, nil)
	}

	status := 0
	if rerr.Response != nil {
		status = rerr.Response.StatusCode
	}

	code, desc := rerr.ErrorCode, rerr.ErrorDescription
	raw := map[string]any{}
	if code == "" && desc == "" {
		code, desc, raw = parseGoogleError(rerr.Body)
	} else {
		raw["error"] = code
		raw["error_description"] = desc
	}
	return providerError("exchange", status, code, desc, err, raw)
}

type googleErrorResponse struct {
	Error string `json:"error"`
	Desc  string `json:"error_description"`
}

type googleAPIError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func parseGoogleError(body []byte) (string, string, map[string]any) {
	var plain googleErrorResponse
	if err := json.Unmarshal(body, &plain); err == nil && (plain.Error != "" || plain.Desc != "") {
		return plain.Error, plain.Desc, map[string]any{
			"error":             plain.Error,
			"error_description": plain.Desc,
		}
	}

	var api googleAPIError
	if err := json.Unmarshal(body, &api); err == nil && (api.Error.Message != "" || api.Error.Status != "") {
		code := api.Error.Status
		if code == "" && api.Error.Code != 0 {
			code = fmt.Sprintf("%d", api.Error.Code)
		}
		return code, api.Error.Message, map[string]any{
			"status":  api.Error.Status,
			"message": api.Error.Message,
			"code":    api.Error.Code,
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "google request failed"
	}

	return "", msg, nil
}

func splitSpaceScopes(scopes string) []string {
	if scopes == "" {
		return nil
	}
	return strings.Fields(scopes)
}

func providerError(operation string, status int, code, description string, err error, raw map[string]any) *credential.ProviderError {
	return &credential.ProviderError{
		Provider:    providerName,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
		Raw:         raw,
	}
}
