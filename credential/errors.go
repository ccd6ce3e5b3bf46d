package credential

import "github.com/goliatone/go-errors"

const (
	TextCodeInvalidState      = "credential_invalid_state"
	TextCodeStateExpired      = "credential_state_expired"
	TextCodeStateReused       = "credential_state_reused"
	TextCodeTokenExchangeFail = "credential_token_exchange_failed"
	TextCodeIDTokenInvalid    = "credential_id_token_invalid"
	TextCodeFederationFail    = "credential_federation_failed"
	TextCodeSessionNotFound   = "credential_session_not_found"
)

// ErrInvalidState is returned when the sign-in state is invalid or tampered.
var ErrInvalidState = errors.New("invalid sign in state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when the sign-in state has expired.
var ErrStateExpired = errors.New("sign in state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)

// ErrStateReused is returned when a state token is presented a second time.
var ErrStateReused = errors.New("sign in state already used", errors.CategoryBadInput).
	WithTextCode(TextCodeStateReused).
	WithCode(errors.CodeBadRequest)

// ErrTokenExchangeFailed is returned when a provider token exchange fails.
var ErrTokenExchangeFailed = errors.New("token exchange failed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExchangeFail).
	WithCode(errors.CodeUnauthorized)

// ErrIDTokenInvalid is returned when an ID token fails verification.
var ErrIDTokenInvalid = errors.New("id token invalid", errors.CategoryAuth).
	WithTextCode(TextCodeIDTokenInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrFederationFailed is returned when the federated backend rejects the
// provider credential.
var ErrFederationFailed = errors.New("federated sign in failed", errors.CategoryAuth).
	WithTextCode(TextCodeFederationFail).
	WithCode(errors.CodeUnauthorized)

// ErrSessionNotFound is returned by session stores when nobody is signed in.
var ErrSessionNotFound = errors.New("provider session not found", errors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(errors.CodeNotFound)
