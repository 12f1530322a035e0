package auth

import (
	"fmt"
	"time"
)

// SessionStatus is the state of the in-memory session.
type SessionStatus string

const (
	StatusUnhydrated     SessionStatus = "unhydrated"
	StatusHydrating      SessionStatus = "hydrating"
	StatusAnonymous      SessionStatus = "anonymous"
	StatusAuthenticating SessionStatus = "authenticating"
	StatusAuthenticated  SessionStatus = "authenticated"
	StatusLoggingOut     SessionStatus = "logging_out"
	StatusInvalidated    SessionStatus = "invalidated"
)

// AllSessionStatuses returns every status in lifecycle order.
func AllSessionStatuses() []SessionStatus {
	return []SessionStatus{
		StatusUnhydrated,
		StatusHydrating,
		StatusAnonymous,
		StatusAuthenticating,
		StatusAuthenticated,
		StatusLoggingOut,
		StatusInvalidated,
	}
}

// sessionTransitions is the allowed transition graph. Refresh and
// verification mutate an authenticated session in place and are not
// status changes.
var sessionTransitions = map[SessionStatus]map[SessionStatus]struct{}{
	StatusUnhydrated: {
		StatusHydrating: {},
	},
	StatusHydrating: {
		StatusAnonymous:     {},
		StatusAuthenticated: {},
	},
	StatusAnonymous: {
		StatusAuthenticating: {},
	},
	StatusAuthenticating: {
		StatusAuthenticated: {},
		StatusAnonymous:     {},
	},
	StatusAuthenticated: {
		StatusLoggingOut:  {},
		StatusInvalidated: {},
	},
	StatusLoggingOut: {
		StatusAnonymous: {},
	},
	StatusInvalidated: {
		StatusAnonymous: {},
	},
}

// CanTransition reports whether from -> to is part of the session graph.
func CanTransition(from, to SessionStatus) bool {
	if allowed, ok := sessionTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// sessionState is owned by SessionManager and only changed under its lock.
type sessionState struct {
	status          SessionStatus
	user            *User
	accessToken     string
	refreshToken    string
	isAuthenticated bool
	isLoading       bool
	isHydrated      bool
	verified        bool
	err             string
	changedAt       time.Time
}

func (s *sessionState) reset() {
	s.user = nil
	s.accessToken = ""
	s.refreshToken = ""
	s.isAuthenticated = false
	s.isLoading = false
	s.verified = false
}

func (s *sessionState) checkInvariants() error {
	if s.isAuthenticated && (s.user == nil || s.accessToken == "") {
		return fmt.Errorf("%w: authenticated session without user or token", ErrInvalidTransition)
	}
	if s.isAuthenticated && s.err != "" {
		return fmt.Errorf("%w: authenticated session carries an error", ErrInvalidTransition)
	}
	return nil
}

// Snapshot is a read-only copy of the session handed to consumers.
type Snapshot struct {
	Status          SessionStatus `json:"status"`
	User            *User         `json:"user,omitempty"`
	AccessToken     string        `json:"-"`
	HasRefreshToken bool          `json:"has_refresh_token"`
	IsAuthenticated bool          `json:"is_authenticated"`
	IsLoading       bool          `json:"is_loading"`
	IsHydrated      bool          `json:"is_hydrated"`
	// Verified is false while an optimistically rehydrated session waits
	// for the backend profile call.
	Verified  bool      `json:"verified"`
	Error     string    `json:"error,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Permissions returns an engine bound to the snapshot user.
func (s Snapshot) Permissions() *Engine {
	if !s.IsAuthenticated {
		return NewEngine(nil)
	}
	return NewEngine(s.User)
}

// Can is shorthand for Permissions().Can.
func (s Snapshot) Can(p Permission) bool {
	return s.Permissions().Can(p)
}

func (s *sessionState) snapshot() Snapshot {
	return Snapshot{
		Status:          s.status,
		User:            s.user.Clone(),
		AccessToken:     s.accessToken,
		HasRefreshToken: s.refreshToken != "",
		IsAuthenticated: s.isAuthenticated,
		IsLoading:       s.isLoading,
		IsHydrated:      s.isHydrated,
		Verified:        s.verified,
		Error:           s.err,
		ChangedAt:       s.changedAt,
	}
}
