package auth

import (
	"context"
)

var snapshotCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithContext sets the session snapshot in the given context
func WithContext(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotCtxKey, snap)
}

// FromContext finds the session snapshot in the context.
func FromContext(ctx context.Context) (Snapshot, bool) {
	raw, ok := ctx.Value(snapshotCtxKey).(Snapshot)
	return raw, ok
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	snap, ok := FromContext(ctx)
	if !ok || !snap.IsAuthenticated || snap.User == nil {
		return nil, false
	}
	return snap.User, true
}

// Can is a convenience function to check permissions directly from the standard context
func Can(ctx context.Context, permission Permission) bool {
	snap, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return snap.Can(permission)
}

// HasRole checks role membership of the user stored in ctx.
func HasRole(ctx context.Context, role Role) bool {
	snap, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return snap.Permissions().HasRole(role)
}
