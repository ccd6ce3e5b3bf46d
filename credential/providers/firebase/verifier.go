package firebase

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/credential"
)

const (
	securetokenJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	securetokenIssuer  = "https://securetoken.google.com/"
)

// TokenVerifier checks Firebase ID tokens against the public securetoken
// keys. It needs no service account, which makes it the default for hosts
// that only hold an API key.
type TokenVerifier struct {
	keys     *credential.RemoteKeySet
	verifier *credential.IDTokenVerifier
}

// NewTokenVerifier creates a verifier for projectID. A nil kf uses the
// remote securetoken key set.
func NewTokenVerifier(projectID string, kf jwt.Keyfunc, logger signin.Logger) (*TokenVerifier, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firebase: project id is required")
	}

	tv := &TokenVerifier{}
	if kf == nil {
		tv.keys = credential.NewRemoteKeySet(securetokenJWKSURL, logger)
		kf = tv.keys.Keyfunc
	}

	verifier, err := credential.NewIDTokenVerifier(kf, projectID, securetokenIssuer+projectID)
	if err != nil {
		return nil, fmt.Errorf("firebase: %w", err)
	}
	tv.verifier = verifier
	return tv, nil
}

var _ credential.SessionVerifier = (*TokenVerifier)(nil)

// VerifySession implements credential.SessionVerifier.
func (v *TokenVerifier) VerifySession(_ context.Context, idToken string) (*signin.Identity, error) {
	claims, err := v.verifier.Verify(idToken, "")
	if err != nil {
		return nil, err
	}

	identity := claims.Profile(signInProvider(claims)).Identity()
	return &identity, nil
}

// Close stops the background key refresh.
func (v *TokenVerifier) Close(ctx context.Context) error {
	if v.keys == nil {
		return nil
	}
	return v.keys.Close(ctx)
}

func signInProvider(claims *credential.IDTokenClaims) string {
	if provider, ok := claims.Firebase["sign_in_provider"].(string); ok {
		return provider
	}
	return backendName
}
