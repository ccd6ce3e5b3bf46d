package firebase

import (
	"context"
	"fmt"

	firebasesdk "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	goerrors "github.com/goliatone/go-errors"
	signin "github.com/goliatone/go-signin"
	"github.com/goliatone/go-signin/credential"
	"google.golang.org/api/option"
)

// AuthClient is the subset of the Firebase Admin auth client used here.
type AuthClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// Admin verifies stored sessions and revokes them on sign out using the
// Firebase Admin SDK. It implements credential.SessionVerifier and
// credential.Revoker.
type Admin struct {
	client AuthClient
	logger signin.Logger
}

// NewAdmin initializes the Admin SDK for projectID. Credentials come from
// opts or from Application Default Credentials.
func NewAdmin(ctx context.Context, projectID string, logger signin.Logger, opts ...option.ClientOption) (*Admin, error) {
	app, err := firebasesdk.NewApp(ctx, &firebasesdk.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: error initializing app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: error getting auth client: %w", err)
	}

	return NewAdminWithClient(client, logger), nil
}

// NewAdminWithClient wraps an existing auth client.
func NewAdminWithClient(client AuthClient, logger signin.Logger) *Admin {
	if logger == nil {
		logger = signin.DefaultLogger()
	}
	return &Admin{client: client, logger: logger}
}

var (
	_ credential.SessionVerifier = (*Admin)(nil)
	_ credential.Revoker         = (*Admin)(nil)
)

// VerifySession implements credential.SessionVerifier. The user record is
// read to refresh profile fields; a lookup failure is not fatal.
func (a *Admin) VerifySession(ctx context.Context, idToken string) (*signin.Identity, error) {
	token, err := a.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, adminError(credential.ErrIDTokenInvalid, "verify", err)
	}

	identity := &signin.Identity{
		ID:       token.UID,
		Provider: token.Firebase.SignInProvider,
	}
	if email, ok := token.Claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		identity.DisplayName = name
	}
	if picture, ok := token.Claims["picture"].(string); ok {
		identity.ProfilePictureURL = picture
	}

	user, err := a.client.GetUser(ctx, token.UID)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, adminError(credential.ErrIDTokenInvalid, "get_user", err)
		}
		a.logger.Warn("failed to load firebase user", "uid", token.UID, "error", err)
		return identity, nil
	}

	if user.UserInfo != nil {
		if user.DisplayName != "" {
			identity.DisplayName = user.DisplayName
		}
		if user.Email != "" {
			identity.Email = user.Email
		}
		if user.PhotoURL != "" {
			identity.ProfilePictureURL = user.PhotoURL
		}
	}

	return identity, nil
}

// Revoke implements credential.Revoker.
func (a *Admin) Revoke(ctx context.Context, identityID string) error {
	if identityID == "" {
		return nil
	}
	if err := a.client.RevokeRefreshTokens(ctx, identityID); err != nil {
		return adminError(credential.ErrFederationFailed, "revoke", err)
	}
	a.logger.Debug("revoked firebase refresh tokens", "uid", identityID)
	return nil
}

func adminError(base *goerrors.Error, operation string, err error) error {
	return credential.WrapProviderError(base, backendName, operation, &credential.ProviderError{
		Provider:  backendName,
		Operation: operation,
		Err:       err,
	})
}
