package signin

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeProviderUnavailable = "SIGNIN_PROVIDER_UNAVAILABLE"
	TextCodeCredentialRejected  = "SIGNIN_CREDENTIAL_REJECTED"
	TextCodeRemoteCallFailed    = "SIGNIN_REMOTE_CALL_FAILED"
	TextCodeSignInInProgress    = "SIGNIN_IN_PROGRESS"
	TextCodeInvalidTransition   = "INVALID_SESSION_STATE_TRANSITION"
	TextCodeStaleAttempt        = "SIGNIN_STALE_ATTEMPT"
)

// ErrProviderUnavailable is returned when the sign-in flow cannot start. The
// user may retry.
var ErrProviderUnavailable = goerrors.New("identity provider unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeProviderUnavailable).
	WithCode(goerrors.CodeInternal)

// ErrCredentialRejected describes a failed credential exchange.
var ErrCredentialRejected = goerrors.New("credential rejected", goerrors.CategoryAuth).
	WithTextCode(TextCodeCredentialRejected).
	WithCode(goerrors.CodeUnauthorized)

// ErrRemoteCallFailed is set on a RemoteCallOutcome when the function or the
// transport fails.
var ErrRemoteCallFailed = goerrors.New("remote function call failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeRemoteCallFailed).
	WithCode(goerrors.CodeInternal)

// ErrSignInInProgress is returned by StartSignIn while an attempt is in flight.
var ErrSignInInProgress = goerrors.New("sign in already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeSignInInProgress).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when a requested session change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrStaleAttempt is returned when a result arrives for an attempt that is no
// longer current.
var ErrStaleAttempt = goerrors.New("sign in attempt is no longer current", goerrors.CategoryConflict).
	WithTextCode(TextCodeStaleAttempt).
	WithCode(goerrors.CodeConflict)

// transitionError clones base and attaches metadata so the shared sentinel is
// never mutated.
func transitionError(base *goerrors.Error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	return clone.WithMetadata(meta)
}

// HasTextCode reports whether err is a go-errors error with the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	return richErr.TextCode == code
}
