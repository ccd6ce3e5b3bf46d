package credential

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Reasons shown to the user for provider and backend failures that have a
// well known cause.
const (
	ReasonTryAgain          = "sign in service unavailable, try again later"
	ReasonAccountDisabled   = "account disabled"
	ReasonSignInNotAllowed  = "sign in method not enabled"
	ReasonCredentialExpired = "credential expired, sign in again"
	ReasonMisconfigured     = "sign in is not configured correctly"
)

// knownReasons maps OAuth error codes and Identity Toolkit messages to a
// reason. Keys are upper case.
var knownReasons = map[string]string{
	"INVALID_GRANT":               ReasonCredentialExpired,
	"INVALID_CLIENT":              ReasonMisconfigured,
	"UNAUTHORIZED_CLIENT":         ReasonMisconfigured,
	"TEMPORARILY_UNAVAILABLE":     ReasonTryAgain,
	"USER_DISABLED":               ReasonAccountDisabled,
	"OPERATION_NOT_ALLOWED":       ReasonSignInNotAllowed,
	"TOKEN_EXPIRED":               ReasonCredentialExpired,
	"INVALID_ID_TOKEN":            ReasonCredentialExpired,
	"INVALID_API_KEY":             ReasonMisconfigured,
	"PROJECT_NOT_FOUND":           ReasonMisconfigured,
	"TOO_MANY_ATTEMPTS_TRY_LATER": ReasonTryAgain,
}

// ProviderError is a failed call to the identity provider or the federated
// backend. Code holds the OAuth error code or the Identity Toolkit message
// code, Description the human readable detail.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	var b strings.Builder
	b.WriteString(firstNonEmpty(e.Provider, "provider"))
	if e.Operation != "" {
		b.WriteString(" " + e.Operation)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}

	switch {
	case e.Description != "":
		b.WriteString(": " + e.Description)
	case e.Code != "":
		b.WriteString(": " + e.Code)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the non-empty fields for structured errors and logs.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{"temporary": e.Temporary()}
	for key, value := range map[string]string{
		"provider":    e.Provider,
		"operation":   e.Operation,
		"code":        e.Code,
		"description": e.Description,
	} {
		if value != "" {
			meta[key] = value
		}
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}
	return meta
}

// Temporary reports whether the failure is likely to go away on retry.
// Network failures, rate limiting and server errors qualify.
func (e *ProviderError) Temporary() bool {
	if e == nil {
		return false
	}
	if knownReasons[e.normalizedCode()] == ReasonTryAgain {
		return true
	}
	if e.Status == 0 {
		var netErr net.Error
		return errors.As(e.Err, &netErr)
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Reason returns the text shown to the user for a failed sign in. Known
// codes get a fixed reason and temporary failures ask the user to retry.
// Anything else surfaces the provider's own description.
func (e *ProviderError) Reason() string {
	if e == nil {
		return ""
	}
	if reason, ok := knownReasons[e.normalizedCode()]; ok {
		return reason
	}
	if e.Temporary() {
		return ReasonTryAgain
	}
	return firstNonEmpty(e.Description, e.Code)
}

// normalizedCode strips the " : detail" suffix Identity Toolkit appends to
// its message codes.
func (e *ProviderError) normalizedCode() string {
	code := e.Code
	if idx := strings.Index(code, " : "); idx > 0 {
		code = code[:idx]
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// WrapProviderError clones base and attaches provider metadata plus the
// underlying error as source. Temporary provider failures are recategorized
// as external so callers can tell them apart from rejections.
func WrapProviderError(base *goerrors.Error, provider, operation string, err error) error {
	if base == nil {
		return err
	}

	meta := map[string]any{}
	if provider != "" {
		meta["provider"] = provider
	}
	if operation != "" {
		meta["operation"] = operation
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr != nil {
		for k, v := range perr.Metadata() {
			meta[k] = v
		}
		if perr.Temporary() {
			clone.Category = goerrors.CategoryExternal
		}
	} else if err != nil {
		meta["error"] = err.Error()
	}

	if err != nil {
		clone.Source = err
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}

	return clone
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
