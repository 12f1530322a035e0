package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	auth "github.com/goliatone/go-church-auth"
	"github.com/sony/gobreaker/v2"
)

const maxBodyBytes = 1 << 20

var errServerStatus = errors.New("backend returned server error")

// Option customizes the transport shared by HTTPGateway and Client.
type Option func(*transport)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *transport) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

// WithAuthFailureBus sets the bus notified when the backend rejects a bearer token.
func WithAuthFailureBus(bus *auth.AuthFailureBus) Option {
	return func(t *transport) {
		t.bus = bus
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(t *transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithBreaker opens the circuit after failures consecutive transport or
// 5xx failures and keeps it open for timeout.
func WithBreaker(failures uint32, timeout time.Duration) Option {
	return func(t *transport) {
		t.breakerFailures = failures
		t.breakerTimeout = timeout
	}
}

type response struct {
	status int
	body   []byte
}

type transport struct {
	baseURL         string
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker[response]
	breakerFailures uint32
	breakerTimeout  time.Duration
	bus             *auth.AuthFailureBus
	logger          auth.Logger
}

func newTransport(baseURL string, opts ...Option) *transport {
	t := &transport{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		breakerFailures: 5,
		breakerTimeout:  30 * time.Second,
		logger:          auth.NewSlogLogger(nil),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	failures := t.breakerFailures
	if failures == 0 {
		failures = 1
	}

	t.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        "church-api",
		MaxRequests: 1,
		Timeout:     t.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return t
}

// send performs one request. A non-nil error means the request never got
// a usable answer: transport failure, 5xx or open circuit.
func (t *transport) send(ctx context.Context, method, path, bearer string, body any) (response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return response{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return t.breaker.Execute(func() (response, error) {
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return response{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return response{}, fmt.Errorf("read response: %w", err)
		}

		out := response{status: resp.StatusCode, body: data}
		if resp.StatusCode >= 500 {
			return out, fmt.Errorf("%w: %d", errServerStatus, resp.StatusCode)
		}
		return out, nil
	})
}

func (t *transport) publishAuthFailure(ctx context.Context, source string) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(ctx, source)
}

// validBearer rejects tokens that must never reach an Authorization header.
func validBearer(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || token == "undefined" || token == "null" {
		return false
	}
	return !strings.ContainsAny(token, " \t\r\n")
}

// errorMessage extracts a backend message from common error envelopes:
// {"message": "..."}, {"error": "..."} and {"error": {"message": "..."}}.
func errorMessage(body []byte) string {
	var envelope struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if len(envelope.Error) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(envelope.Error, &plain); err == nil {
		return plain
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

// decodeData decodes body into out, unwrapping a {"data": ...} envelope.
func decodeData(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		body = envelope.Data
	}
	return json.Unmarshal(body, out)
}
