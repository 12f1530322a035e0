package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-church-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestManager(store auth.CredentialStore, gw auth.Gateway, opts ...auth.ManagerOption) *auth.SessionManager {
	base := []auth.ManagerOption{auth.WithManagerClock(testClock)}
	return auth.NewSessionManager(store, gw, append(base, opts...)...)
}

func authenticatedManager(t *testing.T, gw *MockGateway, store auth.CredentialStore, user *auth.User, opts ...auth.ManagerOption) (*auth.SessionManager, string) {
	t.Helper()
	ctx := context.Background()
	token := makeToken(t, time.Hour, nil)

	gw.On("Login", mock.Anything, user.Email, "secret-password").Return(loginOK(token, user)).Once()

	m := newTestManager(store, gw, opts...)
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)
	_, err = m.Login(ctx, user.Email, "secret-password")
	require.NoError(t, err)
	return m, token
}

func TestHydrateWithoutCredentialsIsAnonymous(t *testing.T) {
	gw := &MockGateway{}
	sink := &recordingSink{}
	m := newTestManager(nil, gw, auth.WithManagerActivitySink(sink))

	assert.Equal(t, auth.StatusUnhydrated, m.Snapshot().Status)
	assert.False(t, m.Snapshot().IsHydrated)

	snap, err := m.Hydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.True(t, snap.IsHydrated)
	assert.False(t, snap.IsLoading)
	assert.False(t, snap.IsAuthenticated)
	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventHydrated}, sink.types())
	gw.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
}

func TestHydrateRunsOnce(t *testing.T) {
	gw := &MockGateway{}
	m := newTestManager(nil, gw)

	first, err := m.Hydrate(context.Background())
	require.NoError(t, err)
	second, err := m.Hydrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ChangedAt, second.ChangedAt)
}

func TestHydrateFreshTokenIsOptimisticThenVerified(t *testing.T) {
	ctx := context.Background()
	token := makeToken(t, time.Hour, jwt.MapClaims{
		"email": "pastor@church.example",
		"roles": []string{"pastor"},
	})
	store := auth.NewMemoryCredentialStore()
	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: token, RefreshToken: "refresh-1"}))

	release := make(chan struct{})
	profile := &auth.User{ID: "user-1", Email: "pastor@church.example", FirstName: "Ruth", Roles: []auth.Role{auth.RolePastor}, IsActive: true}

	gw := &MockGateway{}
	gw.On("Validate", mock.Anything, token).
		Run(func(mock.Arguments) { <-release }).
		Return(auth.Ok(profile)).Once()

	m := newTestManager(store, gw)

	snap, err := m.Hydrate(ctx)
	require.NoError(t, err)

	assert.Equal(t, auth.StatusAuthenticated, snap.Status)
	assert.True(t, snap.IsAuthenticated, "authenticated before the profile call resolved")
	assert.False(t, snap.Verified)
	assert.True(t, snap.HasRefreshToken)
	require.NotNil(t, snap.User)
	assert.Equal(t, "pastor@church.example", snap.User.Email)
	assert.True(t, snap.Can(auth.PermApproveReport), "placeholder user carries token roles")

	close(release)
	m.Wait()

	snap = m.Snapshot()
	assert.True(t, snap.Verified)
	assert.Equal(t, "Ruth", snap.User.FirstName)
	gw.AssertExpectations(t)
}

func TestHydrateExpiredTokenForcesAnonymous(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryCredentialStore()
	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: makeToken(t, -time.Minute, nil)}))

	gw := &MockGateway{}
	m := newTestManager(store, gw)

	snap, err := m.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.False(t, snap.IsAuthenticated)
	assert.True(t, store.Load(ctx).IsEmpty(), "stale token is cleared")
	gw.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
}

func TestHydrateTokenInsideLeewayIsStale(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryCredentialStore()
	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: makeToken(t, 10*time.Second, nil)}))

	m := newTestManager(store, &MockGateway{}, auth.WithExpiryLeeway(30*time.Second))

	snap, err := m.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
}

func TestHydrateMalformedTokenForcesAnonymous(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryCredentialStore()
	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: "not-a-jwt"}))

	m := newTestManager(store, &MockGateway{})

	snap, err := m.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.True(t, store.Load(ctx).IsEmpty())
}

func TestHydrateBackgroundVerificationFailureEndsSession(t *testing.T) {
	ctx := context.Background()
	token := makeToken(t, time.Hour, nil)
	store := auth.NewMemoryCredentialStore()
	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: token}))

	gw := &MockGateway{}
	gw.On("Validate", mock.Anything, token).
		Return(auth.FailStatus[*auth.User](401, auth.MsgSessionExpired)).Once()

	sink := &recordingSink{}
	m := newTestManager(store, gw, auth.WithManagerActivitySink(sink))

	_, err := m.Hydrate(ctx)
	require.NoError(t, err)
	m.Wait()

	snap := m.Snapshot()
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.True(t, snap.IsHydrated)
	assert.Empty(t, snap.Error, "invalidation is silent")
	assert.True(t, store.Load(ctx).IsEmpty())
	assert.Contains(t, sink.types(), auth.ActivityEventInvalidated)
}

func TestHydrateStrictAwaitsProfile(t *testing.T) {
	ctx := context.Background()
	token := makeToken(t, time.Hour, nil)

	t.Run("verified", func(t *testing.T) {
		store := auth.NewMemoryCredentialStore()
		require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: token}))

		gw := &MockGateway{}
		gw.On("Validate", mock.Anything, token).Return(auth.Ok(testUser(auth.RoleEditor))).Once()

		m := newTestManager(store, gw, auth.WithStrictHydration(true))
		snap, err := m.Hydrate(ctx)
		require.NoError(t, err)
		assert.True(t, snap.IsAuthenticated)
		assert.True(t, snap.Verified)
		gw.AssertExpectations(t)
	})

	t.Run("rejected", func(t *testing.T) {
		store := auth.NewMemoryCredentialStore()
		require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: token}))

		gw := &MockGateway{}
		gw.On("Validate", mock.Anything, token).Return(auth.FailStatus[*auth.User](401, auth.MsgSessionExpired)).Once()

		m := newTestManager(store, gw, auth.WithStrictHydration(true))
		snap, err := m.Hydrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, auth.StatusAnonymous, snap.Status)
		assert.True(t, store.Load(ctx).IsEmpty())
	})
}

func TestLoginFailureLeavesAnonymousWithError(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	gw.On("Login", mock.Anything, "a@b.com", "wrong").
		Return(auth.Fail[*auth.LoginResponse](goerrors.CategoryAuth, "Invalid credentials")).Once()

	store := auth.NewMemoryCredentialStore()
	m := newTestManager(store, gw)
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)

	snap, err := m.Login(ctx, "a@b.com", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrLoginFailed)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, "Invalid credentials", richErr.Message)
	assert.Equal(t, goerrors.CategoryAuth, richErr.Category)

	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.Equal(t, "Invalid credentials", snap.Error)
	assert.False(t, snap.IsLoading)
	assert.False(t, snap.IsAuthenticated)
	assert.True(t, store.Load(ctx).IsEmpty())

	m.ClearError()
	assert.Empty(t, m.Snapshot().Error)
}

func TestLoginSuccessPersistsCredentials(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	store := auth.NewMemoryCredentialStore()
	sink := &recordingSink{}

	m, token := authenticatedManager(t, gw, store, testUser(auth.RoleMinistryLeader), auth.WithManagerActivitySink(sink))

	snap := m.Snapshot()
	assert.Equal(t, auth.StatusAuthenticated, snap.Status)
	assert.True(t, snap.Verified)
	assert.False(t, snap.IsLoading)
	assert.Empty(t, snap.Error)
	assert.Equal(t, token, snap.AccessToken)

	creds := store.Load(ctx)
	assert.Equal(t, token, creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventHydrated,
		auth.ActivityEventLoginSuccess,
	}, sink.types())
}

func TestLoginClearsPreviousError(t *testing.T) {
	ctx := context.Background()
	user := testUser(auth.RoleEditor)
	gw := &MockGateway{}
	gw.On("Login", mock.Anything, user.Email, "wrong").Return(auth.Fail[*auth.LoginResponse](goerrors.CategoryAuth, auth.MsgInvalidCredentials)).Once()
	gw.On("Login", mock.Anything, user.Email, "secret-password").Return(loginOK(makeToken(t, time.Hour, nil), user)).Once()

	m := newTestManager(nil, gw)
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)

	_, err = m.Login(ctx, user.Email, "wrong")
	require.Error(t, err)

	snap, err := m.Login(ctx, user.Email, "secret-password")
	require.NoError(t, err)
	assert.Empty(t, snap.Error)
}

func TestLoginRequiresHydration(t *testing.T) {
	m := newTestManager(nil, &MockGateway{})

	_, err := m.Login(context.Background(), "a@b.com", "pw")
	assert.ErrorIs(t, err, auth.ErrInvalidTransition)
}

func TestLoginWhileAuthenticated(t *testing.T) {
	gw := &MockGateway{}
	m, _ := authenticatedManager(t, gw, nil, testUser(auth.RoleEditor))

	_, err := m.Login(context.Background(), "other@church.example", "pw")
	assert.ErrorIs(t, err, auth.ErrAlreadyAuthenticated)
	gw.AssertNumberOfCalls(t, "Login", 1)
}

func TestLoginMissingUserIsFailure(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	gw.On("Login", mock.Anything, "a@b.com", "pw").
		Return(auth.Ok(&auth.LoginResponse{Tokens: auth.TokenPair{AccessToken: makeToken(t, time.Hour, nil)}})).Once()

	m := newTestManager(nil, gw)
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)

	snap, err := m.Login(ctx, "a@b.com", "pw")
	require.ErrorIs(t, err, auth.ErrLoginFailed)
	assert.Equal(t, auth.MsgTryAgain, snap.Error)
	assert.False(t, snap.IsAuthenticated)
}

func TestConcurrentLoginIsRejected(t *testing.T) {
	ctx := context.Background()
	user := testUser(auth.RoleEditor)
	started := make(chan struct{})
	release := make(chan struct{})

	gw := &MockGateway{}
	gw.On("Login", mock.Anything, user.Email, "secret-password").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(loginOK(makeToken(t, time.Hour, nil), user)).Once()

	m := newTestManager(nil, gw)
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = m.Login(ctx, user.Email, "secret-password")
	}()

	<-started
	loading := m.Snapshot()
	assert.Equal(t, auth.StatusAuthenticating, loading.Status)
	assert.True(t, loading.IsLoading)

	_, err = m.Login(ctx, user.Email, "secret-password")
	assert.ErrorIs(t, err, auth.ErrLoginInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.True(t, m.Snapshot().IsAuthenticated)
	gw.AssertNumberOfCalls(t, "Login", 1)
}

func TestLogoutClearsEvenWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	store := auth.NewMemoryCredentialStore()
	m, token := authenticatedManager(t, gw, store, testUser(auth.RoleEditor))

	gw.On("Logout", mock.Anything, token).Return(auth.FailStatus[auth.Empty](500, auth.MsgTryAgain)).Once()

	snap, err := m.Logout(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.AccessToken)
	assert.False(t, snap.IsLoading)
	assert.True(t, store.Load(ctx).IsEmpty())
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	store := auth.NewMemoryCredentialStore()
	m, token := authenticatedManager(t, gw, store, testUser(auth.RoleEditor))

	gw.On("Logout", mock.Anything, token).Return(auth.Ok(auth.Empty{})).Once()

	first, err := m.Logout(ctx)
	require.NoError(t, err)
	second, err := m.Logout(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, auth.StatusAnonymous, second.Status)
	gw.AssertNumberOfCalls(t, "Logout", 1)
}

func TestStaleVerificationAfterLogoutIsDropped(t *testing.T) {
	ctx := context.Background()
	token := makeToken(t, time.Hour, nil)
	store := auth.NewMemoryCredentialStore()
	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: token}))

	release := make(chan struct{})
	gw := &MockGateway{}
	gw.On("Validate", mock.Anything, token).
		Run(func(mock.Arguments) { <-release }).
		Return(auth.Ok(testUser(auth.RoleAdmin))).Once()
	gw.On("Logout", mock.Anything, token).Return(auth.Ok(auth.Empty{})).Once()

	m := newTestManager(store, gw)
	snap, err := m.Hydrate(ctx)
	require.NoError(t, err)
	require.True(t, snap.IsAuthenticated)

	_, err = m.Logout(ctx)
	require.NoError(t, err)

	close(release)
	m.Wait()

	snap = m.Snapshot()
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.False(t, snap.IsAuthenticated)
	assert.True(t, store.Load(ctx).IsEmpty())
}

func TestInvalidateOnlyActsOnAuthenticatedSession(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	m := newTestManager(nil, &MockGateway{}, auth.WithManagerActivitySink(sink))
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)

	snap := m.Invalidate(ctx, "auth_failed")
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.NotContains(t, sink.types(), auth.ActivityEventInvalidated)
}

func TestInvalidateEndsSession(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	store := auth.NewMemoryCredentialStore()
	sink := &recordingSink{}
	m, _ := authenticatedManager(t, gw, store, testUser(auth.RoleEditor), auth.WithManagerActivitySink(sink))

	var statuses []auth.SessionStatus
	unsubscribe := m.Subscribe(func(s auth.Snapshot) {
		statuses = append(statuses, s.Status)
	})
	defer unsubscribe()

	snap := m.Invalidate(ctx, "auth_failed")
	assert.Equal(t, auth.StatusAnonymous, snap.Status)
	assert.True(t, snap.IsHydrated)
	assert.True(t, store.Load(ctx).IsEmpty())
	assert.Equal(t, []auth.SessionStatus{auth.StatusAnonymous}, statuses)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, auth.ActivityEventInvalidated, last.EventType)
	assert.Equal(t, "user-1", last.UserID)
	assert.Equal(t, "auth_failed", last.Metadata["reason"])
}

func TestEnsureFreshInvalidatesExpiredSession(t *testing.T) {
	ctx := context.Background()
	now := testNow
	user := testUser(auth.RoleEditor)
	token := makeToken(t, 5*time.Minute, nil)

	gw := &MockGateway{}
	gw.On("Login", mock.Anything, user.Email, "secret-password").Return(loginOK(token, user)).Once()

	m := auth.NewSessionManager(nil, gw, auth.WithManagerClock(func() time.Time { return now }))
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)
	_, err = m.Login(ctx, user.Email, "secret-password")
	require.NoError(t, err)

	require.NoError(t, m.EnsureFresh(ctx))
	got, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, got)

	now = now.Add(10 * time.Minute)

	_, err = m.AccessToken(ctx)
	require.Error(t, err)
	assert.True(t, auth.IsTokenExpiredError(err))
	assert.Equal(t, auth.StatusAnonymous, m.Snapshot().Status)

	_, err = m.AccessToken(ctx)
	assert.ErrorIs(t, err, auth.ErrTokenMissing)
	assert.ErrorIs(t, m.EnsureFresh(ctx), auth.ErrNotAuthenticated)
}

func TestVerifyRequiresSession(t *testing.T) {
	m := newTestManager(nil, &MockGateway{})
	assert.ErrorIs(t, m.Verify(context.Background()), auth.ErrNotAuthenticated)
}

func TestVerifyRefreshesProfile(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	m, token := authenticatedManager(t, gw, nil, testUser(auth.RoleEditor))

	updated := testUser(auth.RolePastor)
	gw.On("Validate", mock.Anything, token).Return(auth.Ok(updated)).Once()

	require.NoError(t, m.Verify(ctx))
	assert.True(t, m.Snapshot().Can(auth.PermApproveReport))
}

func TestRefreshWritesPairThrough(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	store := auth.NewMemoryCredentialStore()
	m, _ := authenticatedManager(t, gw, store, testUser(auth.RoleEditor))

	next := makeToken(t, 2*time.Hour, nil)
	gw.On("Refresh", mock.Anything, "refresh-1").Return(auth.Ok(auth.TokenPair{AccessToken: next})).Once()

	require.NoError(t, m.Refresh(ctx))

	snap := m.Snapshot()
	assert.Equal(t, next, snap.AccessToken)
	assert.True(t, snap.HasRefreshToken)

	creds := store.Load(ctx)
	assert.Equal(t, next, creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken, "previous refresh token kept when none returned")
}

func TestRefreshFailureEndsSession(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	store := auth.NewMemoryCredentialStore()
	m, _ := authenticatedManager(t, gw, store, testUser(auth.RoleEditor))

	gw.On("Refresh", mock.Anything, "refresh-1").Return(auth.FailStatus[auth.TokenPair](401, auth.MsgSessionExpired)).Once()

	err := m.Refresh(ctx)
	require.ErrorIs(t, err, auth.ErrSessionEnded)
	assert.Equal(t, auth.StatusAnonymous, m.Snapshot().Status)
	assert.True(t, store.Load(ctx).IsEmpty())
}

func TestRefreshWithoutRefreshTokenEndsSession(t *testing.T) {
	ctx := context.Background()
	user := testUser(auth.RoleEditor)
	gw := &MockGateway{}
	gw.On("Login", mock.Anything, user.Email, "pw").Return(auth.Ok(&auth.LoginResponse{
		Tokens: auth.TokenPair{AccessToken: makeToken(t, time.Hour, nil)},
		User:   user,
	})).Once()

	m := newTestManager(nil, gw)
	_, err := m.Hydrate(ctx)
	require.NoError(t, err)
	_, err = m.Login(ctx, user.Email, "pw")
	require.NoError(t, err)

	require.ErrorIs(t, m.Refresh(ctx), auth.ErrSessionEnded)
	assert.False(t, m.Snapshot().IsAuthenticated)
	gw.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestChangePasswordUsesLiveToken(t *testing.T) {
	ctx := context.Background()
	gw := &MockGateway{}
	sink := &recordingSink{}
	m, token := authenticatedManager(t, gw, nil, testUser(auth.RoleEditor), auth.WithManagerActivitySink(sink))

	req := auth.ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password"}
	gw.On("ChangePassword", mock.Anything, token, req).Return(auth.Ok(auth.Empty{})).Once()

	require.NoError(t, m.ChangePassword(ctx, "old-password", "new-password"))
	assert.Contains(t, sink.types(), auth.ActivityEventPasswordChanged)

	gw.On("ChangePassword", mock.Anything, token, mock.Anything).Return(auth.FailStatus[auth.Empty](400, "Current password is incorrect")).Once()

	err := m.ChangePassword(ctx, "bad", "new-password")
	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, "Current password is incorrect", richErr.Message)
	assert.Equal(t, 400, richErr.Code)
	assert.Equal(t, goerrors.CategoryBadInput, richErr.Category)
	assert.True(t, m.Snapshot().IsAuthenticated)
}

func TestChangePasswordWithoutSession(t *testing.T) {
	m := newTestManager(nil, &MockGateway{})
	err := m.ChangePassword(context.Background(), "a", "b")
	assert.ErrorIs(t, err, auth.ErrTokenMissing)
}

func TestDeactivateAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("other account keeps session", func(t *testing.T) {
		gw := &MockGateway{}
		m, token := authenticatedManager(t, gw, nil, testUser(auth.RoleAdmin))
		gw.On("DeactivateAccount", mock.Anything, token, "member-9").Return(auth.Ok(auth.Empty{})).Once()

		require.NoError(t, m.DeactivateAccount(ctx, "member-9"))
		assert.True(t, m.Snapshot().IsAuthenticated)
	})

	t.Run("own account ends session", func(t *testing.T) {
		gw := &MockGateway{}
		store := auth.NewMemoryCredentialStore()
		m, token := authenticatedManager(t, gw, store, testUser(auth.RoleMember))
		gw.On("DeactivateAccount", mock.Anything, token, "user-1").Return(auth.Ok(auth.Empty{})).Once()

		require.NoError(t, m.DeactivateAccount(ctx, "user-1"))
		assert.Equal(t, auth.StatusAnonymous, m.Snapshot().Status)
		assert.True(t, store.Load(ctx).IsEmpty())
	})
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(nil, &MockGateway{})

	var seen []auth.SessionStatus
	unsubscribe := m.Subscribe(func(s auth.Snapshot) {
		seen = append(seen, s.Status)
	})

	_, err := m.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []auth.SessionStatus{auth.StatusHydrating, auth.StatusAnonymous}, seen)

	unsubscribe()
	unsubscribe()
	m.Invalidate(ctx, "noop")
	assert.Len(t, seen, 2)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	gw := &MockGateway{}
	m, _ := authenticatedManager(t, gw, nil, testUser(auth.RoleEditor))

	snap := m.Snapshot()
	snap.User.Roles[0] = auth.RoleSuperAdmin

	assert.Equal(t, auth.RoleEditor, m.Snapshot().User.Roles[0])
	assert.False(t, m.Permissions().Can(auth.PermManageSystemSettings))
}
