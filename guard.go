package auth

import (
	"context"
	"sync"
)

// Decision is what a protected view should do on this render.
type Decision int

const (
	// DecisionLoading shows a placeholder, hydration or an auth call is in flight
	DecisionLoading Decision = iota
	// DecisionRedirect sends the user to the login view
	DecisionRedirect
	// DecisionBlank renders nothing, a redirect was already issued
	DecisionBlank
	// DecisionRender renders the protected view
	DecisionRender
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionRedirect:
		return "redirect"
	case DecisionBlank:
		return "blank"
	case DecisionRender:
		return "render"
	default:
		return "unknown"
	}
}

// Guard gates protected views on the session. It never redirects before
// hydration completed and redirects at most once per unauthenticated
// episode; the latch re-arms once a session is authenticated again.
//
// Guard is also the single subscriber of the AuthFailureBus: a published
// failure invalidates the session through the manager.
type Guard struct {
	manager     *SessionManager
	mu          sync.Mutex
	redirected  bool
	unsubscribe []func()
	logger      Logger
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithGuardLogger overrides the logger.
func WithGuardLogger(logger Logger) GuardOption {
	return func(g *Guard) {
		g.logger = normalizeLogger(logger)
	}
}

// NewGuard binds a guard to manager and, when bus is not nil, subscribes
// it to authentication failures.
func NewGuard(manager *SessionManager, bus *AuthFailureBus, opts ...GuardOption) *Guard {
	g := &Guard{
		manager: manager,
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	g.unsubscribe = append(g.unsubscribe, manager.Subscribe(g.observe))
	if bus != nil {
		g.unsubscribe = append(g.unsubscribe, bus.Subscribe(g.handleAuthFailure))
	}

	return g
}

// Close detaches the guard from the manager and the failure bus.
func (g *Guard) Close() {
	for _, fn := range g.unsubscribe {
		fn()
	}
}

// Check decides for the current manager snapshot.
func (g *Guard) Check() Decision {
	return g.Decide(g.manager.Snapshot())
}

// Evaluate is Check returning the snapshot the decision was made on.
func (g *Guard) Evaluate() (Snapshot, Decision) {
	snap := g.manager.Snapshot()
	return snap, g.Decide(snap)
}

// Decide returns the decision for snap and advances the redirect latch.
func (g *Guard) Decide(snap Snapshot) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !snap.IsHydrated || snap.IsLoading {
		return DecisionLoading
	}

	if snap.IsAuthenticated {
		g.redirected = false
		return DecisionRender
	}

	if g.redirected {
		return DecisionBlank
	}

	g.redirected = true
	return DecisionRedirect
}

// observe re-arms the redirect latch whenever a session becomes
// authenticated, even if no view was checked while it was.
func (g *Guard) observe(snap Snapshot) {
	if !snap.IsAuthenticated {
		return
	}
	g.mu.Lock()
	g.redirected = false
	g.mu.Unlock()
}

func (g *Guard) handleAuthFailure(ctx context.Context, failure AuthFailure) {
	snap := g.manager.Snapshot()
	if !snap.IsAuthenticated {
		return
	}
	g.logger.Info("backend rejected session, signing out", "source", failure.Source)
	g.manager.Invalidate(ctx, "auth_failed")
}
