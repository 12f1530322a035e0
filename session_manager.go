package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManagerOption customizes SessionManager construction.
type ManagerOption func(*SessionManager)

// WithManagerClock injects a custom clock (useful for tests).
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithManagerLogger overrides the logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *SessionManager) {
		m.logger = normalizeLogger(logger)
	}
}

// WithManagerActivitySink sets the ActivitySink used to publish session events.
func WithManagerActivitySink(sink ActivitySink) ManagerOption {
	return func(m *SessionManager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithExpiryLeeway treats tokens expiring within d as already stale.
func WithExpiryLeeway(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		if d >= 0 {
			m.leeway = d
		}
	}
}

// WithStrictHydration blocks hydration on the profile call so a
// rehydrated session is only authenticated once the backend confirmed it.
func WithStrictHydration(strict bool) ManagerOption {
	return func(m *SessionManager) {
		m.strict = strict
	}
}

// WithBackgroundVerification controls whether an optimistic session
// starts the profile call right after hydration. Enabled by default.
func WithBackgroundVerification(enabled bool) ManagerOption {
	return func(m *SessionManager) {
		m.backgroundVerify = enabled
	}
}

// SessionManager owns the process wide session. All mutations go through
// its transitions; consumers read Snapshots.
//
// Gateway calls and credential store I/O run without the lock held. Every
// session reset bumps the epoch, and results captured under an older epoch
// are dropped, so a slow profile response can not resurrect a session that
// was logged out. Store writes are sequenced when planned and a write
// superseded by a later one is skipped.
type SessionManager struct {
	mu               sync.Mutex
	state            sessionState
	epoch            uint64
	loginInFlight    bool
	storeSeq         uint64
	storeMu          sync.Mutex
	storeApplied     uint64
	store            CredentialStore
	gateway          Gateway
	logger           Logger
	activitySink     ActivitySink
	now              func() time.Time
	leeway           time.Duration
	strict           bool
	backgroundVerify bool
	observers        map[uint64]func(Snapshot)
	nextObserver     uint64
	pending          sync.WaitGroup
}

// effects collects what a transition produced so it can be published
// after the lock is released.
type effects struct {
	store    *storeOp
	events   []ActivityEvent
	snapshot *Snapshot
}

// storeOp is a planned credential store write. A nil creds clears the store.
type storeOp struct {
	seq   uint64
	creds *Credentials
}

// NewSessionManager returns a manager in the unhydrated state.
func NewSessionManager(store CredentialStore, gateway Gateway, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		store:            store,
		gateway:          gateway,
		logger:           defLogger{},
		activitySink:     noopActivitySink{},
		now:              time.Now,
		backgroundVerify: true,
		observers:        map[uint64]func(Snapshot){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.store == nil {
		m.store = NewMemoryCredentialStore()
	}

	m.state.status = StatusUnhydrated
	m.state.changedAt = m.now()

	return m
}

// Snapshot returns a read-only copy of the current session.
func (m *SessionManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.snapshot()
}

// Permissions returns an engine bound to the current user.
func (m *SessionManager) Permissions() *Engine {
	return m.Snapshot().Permissions()
}

// Subscribe registers fn for every state change and returns a function
// that removes it. fn runs outside the manager lock.
func (m *SessionManager) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// Wait blocks until background verification started by Hydrate finished.
func (m *SessionManager) Wait() {
	m.pending.Wait()
}

// Hydrate runs the one-time startup rehydration from the credential
// store. Later calls return the current snapshot.
//
// A stored token that passes the local staleness check becomes an
// optimistic authenticated session (Verified=false) without waiting on
// the network. The profile call then runs in the background and either
// verifies the session or ends it. With strict hydration the profile
// call is awaited first.
func (m *SessionManager) Hydrate(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.state.status != StatusUnhydrated {
		snap := m.state.snapshot()
		m.mu.Unlock()
		return snap, nil
	}

	fx := &effects{}
	if err := m.transitionLocked(fx, StatusHydrating, func(s *sessionState) {
		s.isLoading = true
	}); err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)

	creds := m.loadStore(ctx)

	if creds.IsEmpty() {
		return m.completeHydration(ctx, nil, creds, false, "no_credentials")
	}

	info, err := CheckTokenFresh(creds.AccessToken, m.now(), m.leeway)
	if err != nil {
		m.logger.Info("stored token rejected during hydration", "error", err)
		return m.completeHydration(ctx, nil, creds, false, "token_stale")
	}

	if m.strict {
		res := m.gateway.Validate(ctx, creds.AccessToken)
		if !res.Success || res.Data == nil {
			m.logger.Info("stored token failed validation", "error", res.Error)
			return m.completeHydration(ctx, nil, creds, false, "validation_failed")
		}
		m.warnUnknownRoles(res.Data, "hydrate")
		return m.completeHydration(ctx, res.Data, creds, true, "verified")
	}

	snap, err := m.completeHydration(ctx, info.PlaceholderUser(), creds, false, "optimistic")
	if err != nil || !m.backgroundVerify {
		return snap, err
	}

	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		_ = m.verify(context.WithoutCancel(ctx), creds.AccessToken, epoch)
	}()

	return snap, nil
}

func (m *SessionManager) completeHydration(ctx context.Context, user *User, creds Credentials, verified bool, reason string) (Snapshot, error) {
	m.mu.Lock()
	fx := &effects{}

	var err error
	if user == nil {
		if !creds.IsEmpty() {
			m.planClearLocked(fx)
		}
		err = m.transitionLocked(fx, StatusAnonymous, func(s *sessionState) {
			s.reset()
			s.isHydrated = true
		})
	} else {
		err = m.transitionLocked(fx, StatusAuthenticated, func(s *sessionState) {
			s.user = user.Clone()
			s.accessToken = creds.AccessToken
			s.refreshToken = creds.RefreshToken
			s.isAuthenticated = true
			s.isLoading = false
			s.isHydrated = true
			s.verified = verified
			s.err = ""
		})
	}

	if err == nil {
		m.eventLocked(fx, ActivityEventHydrated, StatusHydrating, map[string]any{
			"reason":   reason,
			"verified": verified,
		})
	}

	snap := m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)
	return snap, err
}

// Login authenticates with the backend. A failure leaves the session
// anonymous with Error set and is returned wrapped in ErrLoginFailed.
// Concurrent logins are rejected with ErrLoginInProgress.
func (m *SessionManager) Login(ctx context.Context, email, password string) (Snapshot, error) {
	m.mu.Lock()
	if m.loginInFlight {
		m.mu.Unlock()
		return m.Snapshot(), ErrLoginInProgress
	}
	if m.state.isAuthenticated {
		snap := m.state.snapshot()
		m.mu.Unlock()
		return snap, ErrAlreadyAuthenticated
	}

	fx := &effects{}
	if err := m.transitionLocked(fx, StatusAuthenticating, func(s *sessionState) {
		s.isLoading = true
		s.err = ""
	}); err != nil {
		snap := m.state.snapshot()
		m.mu.Unlock()
		return snap, err
	}
	m.loginInFlight = true
	m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)

	res := m.gateway.Login(ctx, strings.TrimSpace(email), password)
	if res.Success && (res.Data == nil || res.Data.User == nil || res.Data.Tokens.AccessToken == "") {
		m.logger.Error("login response missing user or token")
		res = FailStatus[*LoginResponse](res.Status, MsgTryAgain)
	}

	m.mu.Lock()
	m.loginInFlight = false
	fx = &effects{}

	if !res.Success {
		_ = m.transitionLocked(fx, StatusAnonymous, func(s *sessionState) {
			s.reset()
			s.err = res.Error
			if s.err == "" {
				s.err = MsgTryAgain
			}
		})
		m.eventLocked(fx, ActivityEventLoginFailure, StatusAuthenticating, map[string]any{
			"email":  email,
			"status": res.Status,
			"error":  res.Error,
		})
		snap := m.finishLocked(fx)
		m.mu.Unlock()
		m.flush(ctx, fx)
		return snap, res.ErrCause(ErrLoginFailed)
	}

	data := res.Data
	m.warnUnknownRoles(data.User, "login")
	creds := Credentials{
		AccessToken:  data.Tokens.AccessToken,
		RefreshToken: data.Tokens.RefreshToken,
	}
	err := m.transitionLocked(fx, StatusAuthenticated, func(s *sessionState) {
		s.user = data.User.Clone()
		s.accessToken = creds.AccessToken
		s.refreshToken = creds.RefreshToken
		s.isAuthenticated = true
		s.isLoading = false
		s.verified = true
		s.err = ""
	})
	if err == nil {
		m.planSaveLocked(fx, creds)
		m.eventLocked(fx, ActivityEventLoginSuccess, StatusAuthenticating, map[string]any{
			"email": email,
		})
	}

	snap := m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)
	return snap, err
}

// Logout ends the session. The backend call is best effort; local state
// and the credential store are cleared no matter what it returns. Calling
// Logout on an anonymous session only clears the store.
func (m *SessionManager) Logout(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.state.status != StatusAuthenticated {
		fx := &effects{}
		m.planClearLocked(fx)
		snap := m.state.snapshot()
		m.mu.Unlock()
		m.flush(ctx, fx)
		return snap, nil
	}

	token := m.state.accessToken
	fx := &effects{}
	if err := m.transitionLocked(fx, StatusLoggingOut, func(s *sessionState) {
		s.isLoading = true
	}); err != nil {
		snap := m.state.snapshot()
		m.mu.Unlock()
		return snap, err
	}
	m.epoch++
	m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)

	if res := m.gateway.Logout(ctx, token); !res.Success {
		m.logger.Debug("backend logout failed, continuing with local cleanup", "error", res.Error)
	}

	m.mu.Lock()
	fx = &effects{}
	m.planClearLocked(fx)
	err := m.transitionLocked(fx, StatusAnonymous, func(s *sessionState) {
		s.reset()
		s.err = ""
	})
	m.eventLocked(fx, ActivityEventLogout, StatusLoggingOut, nil)
	snap := m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)
	return snap, err
}

// Invalidate force-ends an authenticated session, clearing the store. It
// is a no-op on any other state so repeated auth failures never loop.
func (m *SessionManager) Invalidate(ctx context.Context, reason string) Snapshot {
	m.mu.Lock()
	fx := &effects{}
	m.invalidateLocked(fx, reason)
	snap := m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)
	return snap
}

func (m *SessionManager) invalidateLocked(fx *effects, reason string) {
	if m.state.status != StatusAuthenticated {
		return
	}

	userID := ""
	if m.state.user != nil {
		userID = m.state.user.ID
	}

	_ = m.transitionLocked(fx, StatusInvalidated, func(s *sessionState) {
		s.reset()
	})
	m.epoch++
	m.planClearLocked(fx)
	_ = m.transitionLocked(fx, StatusAnonymous, nil)

	event := m.newEvent(ActivityEventInvalidated, StatusAuthenticated, map[string]any{"reason": reason})
	event.UserID = userID
	fx.events = append(fx.events, event)
}

// EnsureFresh runs the local token staleness check. An expired or
// malformed token ends the session before any request is attempted.
func (m *SessionManager) EnsureFresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state.status != StatusAuthenticated || m.state.accessToken == "" {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	token := m.state.accessToken
	m.mu.Unlock()

	if _, err := CheckTokenFresh(token, m.now(), m.leeway); err != nil {
		m.Invalidate(ctx, "token_stale")
		if IsTokenExpiredError(err) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}

	return nil
}

// AccessToken returns a live bearer token, running EnsureFresh first.
// It satisfies TokenSource.
func (m *SessionManager) AccessToken(ctx context.Context) (string, error) {
	if err := m.EnsureFresh(ctx); err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return "", ErrTokenMissing
		}
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.accessToken == "" {
		return "", ErrTokenMissing
	}
	return m.state.accessToken, nil
}

// Verify re-asserts the token with the backend profile call. Success
// refreshes the user and marks the session verified; failure ends it.
func (m *SessionManager) Verify(ctx context.Context) error {
	m.mu.Lock()
	if m.state.status != StatusAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	token, epoch := m.state.accessToken, m.epoch
	m.mu.Unlock()

	return m.verify(ctx, token, epoch)
}

func (m *SessionManager) verify(ctx context.Context, token string, epoch uint64) error {
	res := m.gateway.Validate(ctx, token)

	m.mu.Lock()
	if m.epoch != epoch || m.state.status != StatusAuthenticated || m.state.accessToken != token {
		m.mu.Unlock()
		m.logger.Debug("dropping stale profile validation result")
		return nil
	}

	fx := &effects{}
	if !res.Success || res.Data == nil {
		m.invalidateLocked(fx, "validation_failed")
		m.finishLocked(fx)
		m.mu.Unlock()
		m.flush(ctx, fx)
		return res.ErrCause(ErrSessionEnded)
	}

	m.warnUnknownRoles(res.Data, "verify")
	m.state.user = res.Data.Clone()
	m.state.verified = true
	m.state.changedAt = m.now()
	m.eventLocked(fx, ActivityEventVerified, StatusAuthenticated, nil)
	m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)
	return nil
}

// Refresh trades the refresh token for a new pair. Any failure, including
// a missing refresh token, ends the session; there is no retry.
func (m *SessionManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state.status != StatusAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	refreshToken, epoch := m.state.refreshToken, m.epoch
	m.mu.Unlock()

	if refreshToken == "" {
		m.Invalidate(ctx, "refresh_token_missing")
		return fmt.Errorf("%w: no refresh token", ErrSessionEnded)
	}

	res := m.gateway.Refresh(ctx, refreshToken)

	m.mu.Lock()
	if m.epoch != epoch || m.state.status != StatusAuthenticated {
		m.mu.Unlock()
		return ErrSessionEnded
	}

	fx := &effects{}
	if !res.Success || res.Data.AccessToken == "" {
		m.invalidateLocked(fx, "refresh_failed")
		m.finishLocked(fx)
		m.mu.Unlock()
		m.flush(ctx, fx)
		return res.ErrCause(ErrSessionEnded)
	}

	creds := Credentials{
		AccessToken:  res.Data.AccessToken,
		RefreshToken: res.Data.RefreshToken,
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	m.planSaveLocked(fx, creds)

	m.state.accessToken = creds.AccessToken
	m.state.refreshToken = creds.RefreshToken
	m.state.changedAt = m.now()
	m.eventLocked(fx, ActivityEventRefreshed, StatusAuthenticated, nil)
	m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(ctx, fx)
	return nil
}

// ChangePassword calls the backend with the live bearer token.
func (m *SessionManager) ChangePassword(ctx context.Context, current, next string) error {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return err
	}

	res := m.gateway.ChangePassword(ctx, token, ChangePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	})
	if err := res.Err(); err != nil {
		return err
	}

	m.record(ctx, ActivityEventPasswordChanged, nil)
	return nil
}

// DeactivateAccount deactivates userID. Deactivating the signed in user
// ends the session.
func (m *SessionManager) DeactivateAccount(ctx context.Context, userID string) error {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return err
	}

	res := m.gateway.DeactivateAccount(ctx, token, userID)
	if err := res.Err(); err != nil {
		return err
	}

	m.record(ctx, ActivityEventAccountDeactivate, map[string]any{"target_user_id": userID})

	snap := m.Snapshot()
	if snap.User != nil && snap.User.ID == userID {
		m.Invalidate(ctx, "account_deactivated")
	}
	return nil
}

// ClearError dismisses the last failure message.
func (m *SessionManager) ClearError() {
	m.mu.Lock()
	if m.state.err == "" {
		m.mu.Unlock()
		return
	}
	m.state.err = ""
	fx := &effects{}
	m.finishLocked(fx)
	m.mu.Unlock()
	m.flush(context.Background(), fx)
}

func (m *SessionManager) transitionLocked(fx *effects, to SessionStatus, mutate func(*sessionState)) error {
	from := m.state.status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	next := m.state
	next.status = to
	if mutate != nil {
		mutate(&next)
	}
	if next.isAuthenticated {
		next.err = ""
	}
	if err := next.checkInvariants(); err != nil {
		return err
	}

	next.changedAt = m.now()
	m.state = next
	m.logger.Debug("session transition", "from", from, "to", to)
	return nil
}

func (m *SessionManager) finishLocked(fx *effects) Snapshot {
	snap := m.state.snapshot()
	fx.snapshot = &snap
	return snap
}

// warnUnknownRoles reports role identifiers the backend sent that grant
// nothing here.
func (m *SessionManager) warnUnknownRoles(u *User, phase string) {
	if u == nil || len(u.UnknownRoles) == 0 {
		return
	}
	m.logger.Warn("unknown roles from backend", "user_id", u.ID, "roles", u.UnknownRoles, "phase", phase)
}

func (m *SessionManager) planSaveLocked(fx *effects, creds Credentials) {
	m.storeSeq++
	fx.store = &storeOp{seq: m.storeSeq, creds: &creds}
}

func (m *SessionManager) planClearLocked(fx *effects) {
	m.storeSeq++
	fx.store = &storeOp{seq: m.storeSeq}
}

func (m *SessionManager) loadStore(ctx context.Context) Credentials {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.store.Load(ctx)
}

// applyStore runs a planned write unless a later one already landed.
func (m *SessionManager) applyStore(ctx context.Context, op *storeOp) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	if op.seq <= m.storeApplied {
		m.logger.Debug("skipping superseded credential store write", "seq", op.seq)
		return
	}
	m.storeApplied = op.seq

	if op.creds == nil {
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("credential store clear failed", "error", err)
		}
		return
	}
	if err := m.store.Save(ctx, *op.creds); err != nil {
		m.logger.Warn("credential store save failed, session will not survive restart", "error", err)
	}
}

func (m *SessionManager) newEvent(eventType ActivityEventType, from SessionStatus, metadata map[string]any) ActivityEvent {
	event := ActivityEvent{
		ID:         uuid.NewString(),
		EventType:  eventType,
		FromStatus: from,
		ToStatus:   m.state.status,
		Metadata:   metadata,
		OccurredAt: m.now(),
	}
	if m.state.user != nil {
		event.UserID = m.state.user.ID
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	return event
}

func (m *SessionManager) eventLocked(fx *effects, eventType ActivityEventType, from SessionStatus, metadata map[string]any) {
	fx.events = append(fx.events, m.newEvent(eventType, from, metadata))
}

func (m *SessionManager) record(ctx context.Context, eventType ActivityEventType, metadata map[string]any) {
	m.mu.Lock()
	event := m.newEvent(eventType, m.state.status, metadata)
	m.mu.Unlock()
	m.flush(ctx, &effects{events: []ActivityEvent{event}})
}

// flush applies the store write, publishes events and notifies
// observers. Must run without the lock.
func (m *SessionManager) flush(ctx context.Context, fx *effects) {
	if fx.store != nil {
		m.applyStore(ctx, fx.store)
	}

	sink := normalizeActivitySink(m.activitySink)
	for _, event := range fx.events {
		if err := sink.Record(ctx, event); err != nil {
			m.logger.Warn("activity sink record error", "error", err)
		}
	}

	if fx.snapshot == nil {
		return
	}

	m.mu.Lock()
	observers := make([]func(Snapshot), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(*fx.snapshot)
	}
}
