package signin

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity is the verified user record returned by the identity provider.
// Treat it as immutable once constructed.
type Identity struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
	Email             string `json:"email,omitempty"`
	Provider          string `json:"provider,omitempty"`
}

// HasProfilePicture reports whether the provider returned an avatar.
func (i Identity) HasProfilePicture() bool {
	return i.ProfilePictureURL != ""
}

// SignInAttemptResult is produced once per sign-in attempt. Exactly one of
// Identity or ErrorMessage is populated.
type SignInAttemptResult struct {
	Identity     *Identity
	ErrorMessage string
	// AttemptID binds the result to an attempt; empty means the current one.
	AttemptID string
}

const defaultSignInError = "sign in failed"

// UnmatchedAttempt binds a result to no attempt at all, e.g. a provider
// response whose state was forged or already used. The state machine drops
// such results as stale.
const UnmatchedAttempt = "unmatched"

// SignInSucceeded builds a successful result carrying a copy of identity.
func SignInSucceeded(identity Identity) SignInAttemptResult {
	return SignInAttemptResult{Identity: &identity}
}

// SignInFailed builds a failed result. An empty reason is replaced with a
// generic message so the result is never empty.
func SignInFailed(reason string) SignInAttemptResult {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultSignInError
	}
	return SignInAttemptResult{ErrorMessage: reason}
}

// Succeeded reports whether the result carries an identity.
func (r SignInAttemptResult) Succeeded() bool {
	return r.Identity != nil
}

// Reason returns the failure reason, normalizing results that carry neither
// field.
func (r SignInAttemptResult) Reason() string {
	if r.Identity != nil {
		return ""
	}
	if r.ErrorMessage == "" {
		return defaultSignInError
	}
	return r.ErrorMessage
}

// ForAttempt returns a copy of the result bound to attemptID.
func (r SignInAttemptResult) ForAttempt(attemptID string) SignInAttemptResult {
	r.AttemptID = attemptID
	return r
}

// SessionStatus enumerates the states of a sign-in session.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusInProgress SessionStatus = "in_progress"
	StatusSucceeded  SessionStatus = "succeeded"
	StatusFailed     SessionStatus = "failed"
)

// SessionState is the observable snapshot of the session.
type SessionState struct {
	Status      SessionStatus
	Identity    *Identity
	SignInError string
	AttemptID   string
	UpdatedAt   time.Time
}

func (s SessionState) IsSignInInProgress() bool {
	return s.Status == StatusInProgress
}

func (s SessionState) IsSignInSuccessful() bool {
	return s.Status == StatusSucceeded && s.Identity != nil
}

// Equal compares two states by value, ignoring UpdatedAt.
func (s SessionState) Equal(other SessionState) bool {
	if s.Status != other.Status || s.SignInError != other.SignInError || s.AttemptID != other.AttemptID {
		return false
	}
	switch {
	case s.Identity == nil && other.Identity == nil:
		return true
	case s.Identity == nil || other.Identity == nil:
		return false
	default:
		return *s.Identity == *other.Identity
	}
}

func (s SessionState) String() string {
	switch s.Status {
	case StatusSucceeded:
		if s.Identity != nil {
			return fmt.Sprintf("succeeded(%s)", s.Identity.ID)
		}
	case StatusFailed:
		return fmt.Sprintf("failed(%s)", s.SignInError)
	}
	return string(s.Status)
}

// SignInRequest is the launchable descriptor handed to the host so it can
// present the provider's sign-in UI.
type SignInRequest struct {
	URL       string
	State     string
	Provider  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CredentialResponse is the raw payload returned by the provider-hosted
// sign-in UI.
type CredentialResponse struct {
	State            string
	Code             string
	IDToken          string
	Error            string
	ErrorDescription string
}

// ParseCredentialResponse builds a CredentialResponse from callback query
// parameters.
func ParseCredentialResponse(values url.Values) CredentialResponse {
	return CredentialResponse{
		State:            values.Get("state"),
		Code:             values.Get("code"),
		IDToken:          values.Get("id_token"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
}

// RemoteCallOutcome is produced once per remote invocation.
type RemoteCallOutcome struct {
	Function string
	Region   string
	Message  string
	Payload  map[string]any
	Err      error
}

func (o RemoteCallOutcome) Failed() bool {
	return o.Err != nil
}

func (o RemoteCallOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// IdentitySource answers whether a user is already signed in.
type IdentitySource interface {
	CurrentIdentity(ctx context.Context) *Identity
}

// CredentialBroker wraps the external identity provider. Implementations
// must report sign-in failures as data and never panic past this boundary.
type CredentialBroker interface {
	IdentitySource
	// BeginSignIn prepares a launchable request for the attempt attemptID.
	// CompleteSignIn binds its result to the attempt the response answers.
	BeginSignIn(ctx context.Context, attemptID string) (*SignInRequest, error)
	CompleteSignIn(ctx context.Context, response CredentialResponse) SignInAttemptResult
	SignOut(ctx context.Context) error
}

// RemoteInvoker invokes a named remote function. done is called exactly once.
type RemoteInvoker interface {
	Invoke(ctx context.Context, name, region string, done func(RemoteCallOutcome))
}

// Notifier surfaces transient messages to the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, message string)

func (f NotifierFunc) Notify(ctx context.Context, message string) {
	if f != nil {
		f(ctx, message)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string) {}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] SIGNIN " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] SIGNIN " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] SIGNIN " + format(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] SIGNIN " + format(msg, args...))
}

// format renders msg followed by key=value pairs.
func format(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, "%v", args[i])
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}
