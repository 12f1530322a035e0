package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-church-auth"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockGateway implements auth.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Login(ctx context.Context, email, password string) auth.Result[*auth.LoginResponse] {
	args := m.Called(ctx, email, password)
	return args.Get(0).(auth.Result[*auth.LoginResponse])
}

func (m *MockGateway) Logout(ctx context.Context, accessToken string) auth.Result[auth.Empty] {
	args := m.Called(ctx, accessToken)
	return args.Get(0).(auth.Result[auth.Empty])
}

func (m *MockGateway) Validate(ctx context.Context, accessToken string) auth.Result[*auth.User] {
	args := m.Called(ctx, accessToken)
	return args.Get(0).(auth.Result[*auth.User])
}

func (m *MockGateway) Refresh(ctx context.Context, refreshToken string) auth.Result[auth.TokenPair] {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(auth.Result[auth.TokenPair])
}

func (m *MockGateway) ChangePassword(ctx context.Context, accessToken string, req auth.ChangePasswordRequest) auth.Result[auth.Empty] {
	args := m.Called(ctx, accessToken, req)
	return args.Get(0).(auth.Result[auth.Empty])
}

func (m *MockGateway) DeactivateAccount(ctx context.Context, accessToken, userID string) auth.Result[auth.Empty] {
	args := m.Called(ctx, accessToken, userID)
	return args.Get(0).(auth.Result[auth.Empty])
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testClock() time.Time {
	return testNow
}

// makeToken signs a token with the given claims. exp is relative to testNow
// and omitted when zero.
func makeToken(t *testing.T, exp time.Duration, claims jwt.MapClaims) string {
	t.Helper()
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	if _, ok := claims["sub"]; !ok {
		claims["sub"] = "user-1"
	}
	if exp != 0 {
		claims["exp"] = testNow.Add(exp).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func testUser(roles ...auth.Role) *auth.User {
	return &auth.User{
		ID:       "user-1",
		Email:    "leader@church.example",
		Roles:    roles,
		IsActive: true,
	}
}

func loginOK(token string, user *auth.User) auth.Result[*auth.LoginResponse] {
	return auth.Ok(&auth.LoginResponse{
		Tokens: auth.TokenPair{AccessToken: token, RefreshToken: "refresh-1"},
		User:   user,
	})
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.ActivityEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}
