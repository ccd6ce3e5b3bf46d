package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-signin/credential"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	defaultRequestURI         = "http://localhost"

	backendName = "firebase"
)

// ProviderIDs maps identity provider names to Firebase provider IDs.
var ProviderIDs = map[string]string{
	"google":   "google.com",
	"apple":    "apple.com",
	"facebook": "facebook.com",
	"github":   "github.com",
}

// IdentityToolkitConfig configures the Identity Toolkit REST client.
type IdentityToolkitConfig struct {
	APIKey string

	// RequestURI is sent as requestUri; Firebase only checks it is a valid URL.
	RequestURI string

	// BaseURL overrides the API host (emulator, tests).
	BaseURL string

	HTTPClient *http.Client
}

// IdentityToolkit signs a provider ID token in to Firebase Authentication.
// It implements credential.Federator.
type IdentityToolkit struct {
	config     IdentityToolkitConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewIdentityToolkit creates a client. APIKey is required.
func NewIdentityToolkit(cfg IdentityToolkitConfig) (*IdentityToolkit, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("firebase: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultIdentityToolkitURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.RequestURI == "" {
		cfg.RequestURI = defaultRequestURI
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &IdentityToolkit{
		config:     cfg,
		httpClient: client,
		now:        time.Now,
	}, nil
}

var _ credential.Federator = (*IdentityToolkit)(nil)

// Name implements credential.Federator.
func (c *IdentityToolkit) Name() string {
	return backendName
}

// SignInWithIDToken implements credential.Federator.
func (c *IdentityToolkit) SignInWithIDToken(ctx context.Context, providerID, idToken string) (*credential.FederatedSession, error) {
	if mapped, ok := ProviderIDs[providerID]; ok {
		providerID = mapped
	}

	postBody := url.Values{
		"id_token":   {idToken},
		"providerId": {providerID},
	}

	payload, err := json.Marshal(signInWithIdpRequest{
		PostBody:            postBody.Encode(),
		RequestURI:          c.config.RequestURI,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.config.BaseURL + "/v1/accounts:signInWithIdp?key=" + url.QueryEscape(c.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, credential.WrapProviderError(credential.ErrFederationFailed, backendName, "signInWithIdp",
			federationError(0, "", "", err, nil))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		code, desc, raw := parseToolkitError(body)
		return nil, credential.WrapProviderError(credential.ErrFederationFailed, backendName, "signInWithIdp",
			federationError(resp.StatusCode, code, desc, nil, raw))
	}

	var out signInWithIdpResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, credential.WrapProviderError(credential.ErrFederationFailed, backendName, "signInWithIdp",
			federationError(resp.StatusCode, "invalid_response", "failed to decode signInWithIdp response", err, nil))
	}
	if out.LocalID == "" || out.IDToken == "" {
		return nil, credential.WrapProviderError(credential.ErrFederationFailed, backendName, "signInWithIdp",
			federationError(resp.StatusCode, "missing_session", "response carried no session", nil, nil))
	}

	session := &credential.FederatedSession{
		LocalID:      out.LocalID,
		DisplayName:  out.DisplayName,
		PhotoURL:     out.PhotoURL,
		Email:        out.Email,
		ProviderID:   out.ProviderID,
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		IsNewUser:    out.IsNewUser,
	}
	if out.DisplayName == "" && out.FullName != "" {
		session.DisplayName = out.FullName
	}
	if seconds, err := strconv.Atoi(out.ExpiresIn); err == nil && seconds > 0 {
		session.ExpiresAt = c.now().Add(time.Duration(seconds) * time.Second)
	}

	return session, nil
}

type signInWithIdpRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

type signInWithIdpResponse struct {
	ProviderID   string `json:"providerId"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	FullName     string `json:"fullName"`
	PhotoURL     string `json:"photoUrl"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	IsNewUser    bool   `json:"isNewUser"`
}

type toolkitError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseToolkitError splits messages like "INVALID_IDP_RESPONSE : detail".
func parseToolkitError(body []byte) (string, string, map[string]any) {
	var apiErr toolkitError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "firebase request failed"
		}
		return "", msg, nil
	}

	code := apiErr.Error.Message
	if idx := strings.Index(code, " : "); idx > 0 {
		code = code[:idx]
	}
	return code, apiErr.Error.Message, map[string]any{
		"message": apiErr.Error.Message,
		"status":  apiErr.Error.Status,
		"code":    apiErr.Error.Code,
	}
}

func federationError(status int, code, description string, err error, raw map[string]any) *credential.ProviderError {
	return &credential.ProviderError{
		Provider:    backendName,
		Operation:   "signInWithIdp",
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
		Raw:         raw,
	}
}
