package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// Result is the uniform outcome of a gateway call. Gateways never return
// Go errors: every failure is folded into Success=false plus a message
// that is safe to show to a user.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Status is the HTTP status behind the outcome, zero for local or
	// transport failures.
	Status int `json:"-"`
	// Category classifies a failure. Empty means derived from Status.
	Category goerrors.Category `json:"-"`
}

// Ok builds a successful result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed result for a local failure that never reached
// the backend.
func Fail[T any](category goerrors.Category, message string) Result[T] {
	return Result[T]{Error: message, Category: category}
}

// FailStatus builds a failed result carrying the HTTP status.
func FailStatus[T any](status int, message string) Result[T] {
	return Result[T]{Error: message, Status: status, Category: CategoryForStatus(status)}
}

// Empty is the payload of calls that only report success.
type Empty struct{}

// Gateway is the stateless facade over the backend auth endpoints.
type Gateway interface {
	Login(ctx context.Context, email, password string) Result[*LoginResponse]
	Logout(ctx context.Context, accessToken string) Result[Empty]
	Validate(ctx context.Context, accessToken string) Result[*User]
	Refresh(ctx context.Context, refreshToken string) Result[TokenPair]
	ChangePassword(ctx context.Context, accessToken string, req ChangePasswordRequest) Result[Empty]
	DeactivateAccount(ctx context.Context, accessToken, userID string) Result[Empty]
}

// Err returns nil for a successful result and a *goerrors.Error otherwise.
// The error code is the HTTP status and the message is the user facing one.
func (r Result[T]) Err() error {
	return r.ErrCause(nil)
}

// ErrCause is Err with cause set as the wrapped source, so errors.Is
// matches cause while errors.As still finds the user facing error first.
func (r Result[T]) ErrCause(cause error) error {
	if r.Success {
		return nil
	}
	return NewGatewayError(r.Category, r.Status, r.Error, cause)
}

// NewGatewayError builds the structured form of a failed gateway call.
// An empty category is derived from status.
func NewGatewayError(category goerrors.Category, status int, message string, cause error) *goerrors.Error {
	if category == "" {
		category = CategoryForStatus(status)
	}
	if message == "" {
		message = MsgTryAgain
	}

	richErr := goerrors.New(message, category).
		WithCode(status).
		WithTextCode(textCodeFor(category, status))
	richErr.Source = cause
	return richErr
}

func textCodeFor(category goerrors.Category, status int) string {
	if status != 0 {
		return textCodeForStatus(status)
	}
	switch category {
	case goerrors.CategoryAuth:
		return TextCodeTokenMissing
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return TextCodeInvalidInput
	default:
		return TextCodeBackendUnavailable
	}
}
