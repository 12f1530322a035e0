package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventHydrated          ActivityEventType = "session.hydrated"
	ActivityEventVerified          ActivityEventType = "session.verified"
	ActivityEventLoginSuccess      ActivityEventType = "session.login.success"
	ActivityEventLoginFailure      ActivityEventType = "session.login.failure"
	ActivityEventLogout            ActivityEventType = "session.logout"
	ActivityEventInvalidated       ActivityEventType = "session.invalidated"
	ActivityEventRefreshed         ActivityEventType = "session.refreshed"
	ActivityEventPasswordChanged   ActivityEventType = "session.password.changed"
	ActivityEventAccountDeactivate ActivityEventType = "session.account.deactivated"
)

// ActivityEvent captures audit-friendly information about a session transition.
type ActivityEvent struct {
	ID         string
	EventType  ActivityEventType
	UserID     string
	FromStatus SessionStatus
	ToStatus   SessionStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to every sink, returning the first error.
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
