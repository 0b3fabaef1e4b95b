package authsdk

import (
	"fmt"
	"net/http"

	"github.com/PandaCare-A14/gateway/pkg/httpx"
)

// Kind is the structured failure category for the auth subsystem. The
// boundary that renders user-facing output switches on it exhaustively
// instead of string-matching error messages.
type Kind string

const (
	// KindKeyFetch - JWKS unreachable or malformed. Treated as an
	// authentication failure; verification is never skipped.
	KindKeyFetch Kind = "key_fetch_error"

	// KindInvalidToken - malformed token, bad signature, wrong issuer, or
	// bad role claim. Session cleared, not retried.
	KindInvalidToken Kind = "invalid_token"

	// KindExpired - valid signature, past expiry. Triggers exactly one
	// refresh attempt.
	KindExpired Kind = "token_expired"

	// KindRefreshFailed - refresh endpoint rejected or unreachable.
	// Session cleared, not retried.
	KindRefreshFailed Kind = "refresh_failed"

	// KindForbidden - authenticated but wrong role or wrong resource
	// owner. No session mutation.
	KindForbidden Kind = "forbidden"
)

// AuthError is a tagged authentication/authorization failure.
type AuthError struct {
	// StatusCode is the HTTP status code for this error when rendered as JSON
	StatusCode int `json:"-"`

	// Kind is the structured failure category
	Kind Kind `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// WriteError writes this AuthError to an HTTP response writer. Used for
// API-style routes where a redirect would be wrong.
func (e *AuthError) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, map[string]string{
		"error":             string(e.Kind),
		"error_description": e.Description,
	})
}

var (
	// ErrUnauthenticated is returned when no usable session or token exists.
	ErrUnauthenticated = &AuthError{
		StatusCode:  http.StatusUnauthorized,
		Kind:        KindInvalidToken,
		Description: "authentication required",
	}

	// ErrForbidden is returned when the caller is authenticated but not
	// allowed to reach the resource.
	ErrForbidden = &AuthError{
		StatusCode:  http.StatusForbidden,
		Kind:        KindForbidden,
		Description: "you don't have permission to access this resource",
	}
)

// NewAuthError creates an AuthError with the given status, kind, and
// description.
func NewAuthError(statusCode int, kind Kind, description string) *AuthError {
	return &AuthError{
		StatusCode:  statusCode,
		Kind:        kind,
		Description: description,
	}
}

// NewRefreshFailed wraps a refresh failure, carrying the auth server's
// error detail when there is one.
func NewRefreshFailed(detail string) *AuthError {
	if detail == "" {
		detail = "could not refresh the session"
	}
	return &AuthError{
		StatusCode:  http.StatusUnauthorized,
		Kind:        KindRefreshFailed,
		Description: detail,
	}
}
