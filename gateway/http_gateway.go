package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	auth "github.com/goliatone/go-church-auth"
	goerrors "github.com/goliatone/go-errors"
)

var _ auth.Gateway = (*HTTPGateway)(nil)

// HTTPGateway talks to the backend /auth endpoints. It owns no session
// state and folds every failure into an auth.Result.
type HTTPGateway struct {
	t *transport
}

// New returns a gateway for baseURL (e.g. https://church.example/api).
func New(baseURL string, opts ...Option) *HTTPGateway {
	return &HTTPGateway{t: newTransport(baseURL, opts...)}
}

// FromConfig builds a gateway from auth.Config.
func FromConfig(cfg auth.Config, opts ...Option) *HTTPGateway {
	base := []Option{
		WithTimeout(cfg.APITimeout),
		WithBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
	}
	return New(cfg.APIBaseURL, append(base, opts...)...)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest auth.ChangePasswordRequest

func (r changePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 128)),
	)
}

// Login posts credentials to /auth/login.
func (g *HTTPGateway) Login(ctx context.Context, email, password string) auth.Result[*auth.LoginResponse] {
	req := loginRequest{Email: email, Password: password}
	if err := req.Validate(); err != nil {
		return auth.Fail[*auth.LoginResponse](goerrors.CategoryValidation, err.Error())
	}

	resp, err := g.t.send(ctx, http.MethodPost, "/auth/login", "", req)
	if err != nil {
		g.t.logger.Error("login request failed", "error", err)
		return auth.FailStatus[*auth.LoginResponse](resp.status, auth.MsgTryAgain)
	}

	if !isSuccess(resp.status) {
		return auth.FailStatus[*auth.LoginResponse](resp.status, loginFailureMessage(resp))
	}

	out := &auth.LoginResponse{}
	if err := decodeData(resp.body, out); err != nil {
		g.t.logger.Error("login response decode failed", "error", err)
		return auth.FailStatus[*auth.LoginResponse](resp.status, auth.MsgTryAgain)
	}

	if out.Tokens.AccessToken == "" {
		// some deployments return the pair at the top level
		var flat auth.TokenPair
		if err := decodeData(resp.body, &flat); err == nil {
			out.Tokens = flat
		}
	}

	res := auth.Ok(out)
	res.Status = resp.status
	return res
}

// Logout asks the backend to drop the token. Callers clean up locally
// regardless of the outcome.
func (g *HTTPGateway) Logout(ctx context.Context, accessToken string) auth.Result[auth.Empty] {
	if !validBearer(accessToken) {
		return auth.Fail[auth.Empty](goerrors.CategoryAuth, auth.MsgTokenMissing)
	}

	resp, err := g.t.send(ctx, http.MethodPost, "/auth/logout", accessToken, nil)
	if err != nil {
		return auth.FailStatus[auth.Empty](resp.status, auth.MsgTryAgain)
	}
	if !isSuccess(resp.status) {
		return auth.FailStatus[auth.Empty](resp.status, statusMessage(resp))
	}
	return auth.Ok(auth.Empty{})
}

// Validate fetches /auth/profile. It is both "get profile" and the token
// re-assertion used by the session manager, which owns the reaction to a
// rejection, so no failure signal is published here.
func (g *HTTPGateway) Validate(ctx context.Context, accessToken string) auth.Result[*auth.User] {
	if !validBearer(accessToken) {
		return auth.Fail[*auth.User](goerrors.CategoryAuth, auth.MsgTokenMissing)
	}

	resp, err := g.t.send(ctx, http.MethodGet, "/auth/profile", accessToken, nil)
	if err != nil {
		return auth.FailStatus[*auth.User](resp.status, auth.MsgTryAgain)
	}
	if !isSuccess(resp.status) {
		return auth.FailStatus[*auth.User](resp.status, statusMessage(resp))
	}

	user, err := decodeUser(resp.body)
	if err != nil {
		g.t.logger.Error("profile response decode failed", "error", err)
		return auth.FailStatus[*auth.User](resp.status, auth.MsgTryAgain)
	}

	res := auth.Ok(user)
	res.Status = resp.status
	return res
}

// Refresh trades a refresh token for a new pair.
func (g *HTTPGateway) Refresh(ctx context.Context, refreshToken string) auth.Result[auth.TokenPair] {
	if !validBearer(refreshToken) {
		return auth.Fail[auth.TokenPair](goerrors.CategoryAuth, auth.MsgSessionExpired)
	}

	resp, err := g.t.send(ctx, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return auth.FailStatus[auth.TokenPair](resp.status, auth.MsgTryAgain)
	}
	if !isSuccess(resp.status) {
		return auth.FailStatus[auth.TokenPair](resp.status, statusMessage(resp))
	}

	var wrapped struct {
		Tokens *auth.TokenPair `json:"tokens"`
	}
	var pair auth.TokenPair
	if err := decodeData(resp.body, &wrapped); err == nil && wrapped.Tokens != nil {
		pair = *wrapped.Tokens
	} else if err := decodeData(resp.body, &pair); err != nil {
		return auth.FailStatus[auth.TokenPair](resp.status, auth.MsgTryAgain)
	}

	if pair.AccessToken == "" {
		return auth.FailStatus[auth.TokenPair](resp.status, auth.MsgSessionExpired)
	}

	return auth.Ok(pair)
}

// ChangePassword updates the signed in user's password.
func (g *HTTPGateway) ChangePassword(ctx context.Context, accessToken string, req auth.ChangePasswordRequest) auth.Result[auth.Empty] {
	if !validBearer(accessToken) {
		return auth.Fail[auth.Empty](goerrors.CategoryAuth, auth.MsgTokenMissing)
	}
	if err := changePasswordRequest(req).Validate(); err != nil {
		return auth.Fail[auth.Empty](goerrors.CategoryValidation, err.Error())
	}

	return g.privileged(ctx, http.MethodPut, "/auth/change-password", accessToken, req, "change_password")
}

// DeactivateAccount deactivates userID.
func (g *HTTPGateway) DeactivateAccount(ctx context.Context, accessToken, userID string) auth.Result[auth.Empty] {
	if !validBearer(accessToken) {
		return auth.Fail[auth.Empty](goerrors.CategoryAuth, auth.MsgTokenMissing)
	}
	if userID == "" {
		return auth.Fail[auth.Empty](goerrors.CategoryBadInput, "user id is required")
	}

	path := "/auth/users/" + url.PathEscape(userID) + "/deactivate"
	return g.privileged(ctx, http.MethodPut, path, accessToken, nil, "deactivate_account")
}

func (g *HTTPGateway) privileged(ctx context.Context, method, path, token string, body any, source string) auth.Result[auth.Empty] {
	resp, err := g.t.send(ctx, method, path, token, body)
	if err != nil {
		return auth.FailStatus[auth.Empty](resp.status, auth.MsgTryAgain)
	}

	if resp.status == http.StatusUnauthorized {
		g.t.publishAuthFailure(ctx, source)
	}

	if !isSuccess(resp.status) {
		return auth.FailStatus[auth.Empty](resp.status, statusMessage(resp))
	}
	return auth.Ok(auth.Empty{})
}

func decodeUser(body []byte) (*auth.User, error) {
	var wrapped struct {
		User json.RawMessage `json:"user"`
	}
	if err := decodeData(body, &wrapped); err == nil && len(wrapped.User) > 0 && string(wrapped.User) != "null" {
		user := &auth.User{}
		if err := json.Unmarshal(wrapped.User, user); err != nil {
			return nil, err
		}
		return user, nil
	}

	user := &auth.User{}
	if err := decodeData(body, user); err != nil {
		return nil, err
	}
	return user, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func loginFailureMessage(resp response) string {
	msg := errorMessage(resp.body)
	switch resp.status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
		if msg != "" {
			return msg
		}
		return auth.MsgInvalidCredentials
	case http.StatusLocked, http.StatusForbidden:
		if msg != "" {
			return msg
		}
		return auth.MsgAccountLocked
	case http.StatusTooManyRequests:
		return auth.MsgTryAgain
	default:
		if msg != "" {
			return msg
		}
		return auth.MsgInvalidCredentials
	}
}

func statusMessage(resp response) string {
	switch {
	case resp.status == http.StatusUnauthorized:
		return auth.MsgSessionExpired
	case resp.status == http.StatusForbidden:
		return auth.MsgAccessDenied
	case resp.status >= 400 && resp.status < 500:
		if msg := errorMessage(resp.body); msg != "" {
			return msg
		}
		return auth.MsgTryAgain
	default:
		return auth.MsgTryAgain
	}
}
