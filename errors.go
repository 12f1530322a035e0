package auth

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to session and gateway errors.
const (
	TextCodeTokenMissing       = "TOKEN_MISSING"
	TextCodeTokenMalformed     = goerrors.TextCodeTokenMalformed
	TextCodeTokenExpired       = goerrors.TextCodeTokenExpired
	TextCodeInvalidCredentials = goerrors.TextCodeInvalidCredentials
	TextCodeAccountLocked      = goerrors.TextCodeAccountLocked
	TextCodeTooManyAttempts    = goerrors.TextCodeTooManyAttempts
	TextCodeSessionEnded       = "SESSION_ENDED"
	TextCodeAccessDenied       = "ACCESS_DENIED"
	TextCodeInvalidInput       = "INVALID_INPUT"
	TextCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	TextCodeLoginInProgress    = "LOGIN_IN_PROGRESS"
	TextCodeUnknownRole        = "UNKNOWN_ROLE"
)

// ErrTokenMissing is returned when a privileged call has no bearer token
var ErrTokenMissing = goerrors.New("missing access token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMissing).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a bearer token can not be decoded
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when the token exp claim is in the past
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrLoginInProgress guards against two concurrent logins racing on the store
var ErrLoginInProgress = goerrors.New("login already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeLoginInProgress).
	WithCode(goerrors.CodeConflict)

// ErrAlreadyAuthenticated is returned when login is attempted over a live session
var ErrAlreadyAuthenticated = goerrors.New("session already authenticated", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrNotAuthenticated is returned for operations that need a live session
var ErrNotAuthenticated = goerrors.New("session not authenticated", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidTransition is returned when a session status change is not allowed
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrUnknownRole is returned when parsing a role identifier outside the catalogue
var ErrUnknownRole = goerrors.New("unknown role", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnknownRole).
	WithCode(goerrors.CodeBadRequest)

// ErrSessionEnded is returned when the backend rejected the session mid operation
var ErrSessionEnded = goerrors.New("session ended", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionEnded).
	WithCode(goerrors.CodeUnauthorized)

// ErrLoginFailed wraps the backend rejection of a login attempt
var ErrLoginFailed = goerrors.New("login failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// User facing messages. Transport level details never reach the UI.
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgAccountLocked      = "Account is locked, contact an administrator"
	MsgAccessDenied       = "Access denied"
	MsgSessionExpired     = "Your session has expired, please sign in again"
	MsgTryAgain           = "Something went wrong, please try again"
	MsgTokenMissing       = "You need to sign in to continue"
)

// CategoryForStatus maps a backend HTTP status onto an error category.
// Zero means the request never got an answer.
func CategoryForStatus(status int) goerrors.Category {
	switch status {
	case 0:
		return goerrors.CategoryExternal
	case http.StatusLocked:
		return goerrors.CategoryAuth
	case http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	}
	if status >= 500 {
		return goerrors.CategoryExternal
	}
	return goerrors.HTTPStatusToCategory(status)
}

func textCodeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return TextCodeSessionEnded
	case status == http.StatusForbidden:
		return TextCodeAccessDenied
	case status == http.StatusLocked:
		return TextCodeAccountLocked
	case status == http.StatusTooManyRequests:
		return TextCodeTooManyAttempts
	case status >= 400 && status < 500:
		return TextCodeInvalidInput
	default:
		return TextCodeBackendUnavailable
	}
}

// IsUnauthorized reports a backend (or local) rejection of the bearer token.
func IsUnauthorized(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Code == http.StatusUnauthorized
}

// UserMessage returns the message safe to show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return MsgTryAgain
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// IsSessionError reports errors that end the current session.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrTokenMissing) ||
		IsTokenExpiredError(err) ||
		IsMalformedError(err) ||
		errors.Is(err, ErrSessionEnded)
}
