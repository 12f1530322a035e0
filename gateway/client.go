package gateway

import (
	"context"
	"fmt"
	"net/http"

	auth "github.com/goliatone/go-church-auth"
)

// Client performs authenticated JSON calls for admin screens (users,
// resources, reports, streaming). It takes the bearer from a TokenSource,
// which fails locally for missing or stale tokens, and publishes on the
// auth failure bus when the backend answers 401.
type Client struct {
	t      *transport
	tokens auth.TokenSource
}

// NewClient returns a client for baseURL using tokens for the bearer.
func NewClient(baseURL string, tokens auth.TokenSource, opts ...Option) *Client {
	return &Client{
		t:      newTransport(baseURL, opts...),
		tokens: tokens,
	}
}

// Do sends body as JSON and decodes a 2xx answer into out (when not nil).
// Errors are auth token errors or a *goerrors.Error whose code is the
// HTTP status and whose message is safe to show. Transport failures carry
// auth.MsgTryAgain. A 401 wraps auth.ErrSessionEnded.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if c.tokens == nil {
		return auth.ErrTokenMissing
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	if !validBearer(token) {
		return auth.ErrTokenMissing
	}

	resp, err := c.t.send(ctx, method, path, token, body)
	if err != nil {
		c.t.logger.Error("api request failed", "method", method, "path", path, "error", err)
		return auth.NewGatewayError("", resp.status, auth.MsgTryAgain, err)
	}

	if resp.status == http.StatusUnauthorized {
		c.t.publishAuthFailure(ctx, method+" "+path)
		return auth.NewGatewayError("", resp.status, auth.MsgSessionExpired, auth.ErrSessionEnded)
	}

	if !isSuccess(resp.status) {
		return auth.NewGatewayError("", resp.status, statusMessage(resp), nil)
	}

	if out == nil || len(resp.body) == 0 {
		return nil
	}

	if err := decodeData(resp.body, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Get is shorthand for Do with GET.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post is shorthand for Do with POST.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}
