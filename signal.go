package auth

import (
	"context"
	"sync"
	"time"
)

// AuthFailure is broadcast when the backend rejected a bearer token.
// It carries nothing beyond the moment and where it was observed.
type AuthFailure struct {
	OccurredAt time.Time
	Source     string
}

// AuthFailureListener reacts to an AuthFailure.
type AuthFailureListener func(ctx context.Context, failure AuthFailure)

// AuthFailureBus is the process wide "authentication failed" channel.
// API call sites publish; the route guard layer subscribes and owns the
// session reset, so call sites never touch session state directly.
type AuthFailureBus struct {
	mu        sync.RWMutex
	listeners map[uint64]AuthFailureListener
	nextID    uint64
	now       func() time.Time
}

// NewAuthFailureBus returns an empty bus.
func NewAuthFailureBus() *AuthFailureBus {
	return &AuthFailureBus{
		listeners: map[uint64]AuthFailureListener{},
		now:       time.Now,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *AuthFailureBus) Subscribe(fn AuthFailureListener) func() {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the failure synchronously to every listener.
func (b *AuthFailureBus) Publish(ctx context.Context, source string) {
	failure := AuthFailure{OccurredAt: b.now(), Source: source}

	b.mu.RLock()
	listeners := make([]AuthFailureListener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, failure)
	}
}

// Listeners returns the number of subscribers.
func (b *AuthFailureBus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
