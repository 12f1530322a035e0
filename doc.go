// Package auth is the client side session and authorization core of the
// church admin site. It keeps the signed in identity, decides what the
// admin screens may show, and reacts when the backend rejects a token.
//
// Session lifecycle:
//   - SessionManager owns the single session. Status changes follow a fixed
//     graph (unhydrated, hydrating, anonymous, authenticating,
//     authenticated, logging_out, invalidated); consumers only ever read
//     Snapshots or Subscribe to them.
//   - Hydrate rebuilds the session from a CredentialStore at startup. A
//     stored token that is locally fresh becomes an optimistic session
//     (Verified=false) and the profile call confirms or ends it in the
//     background. WithStrictHydration awaits the profile call instead.
//
// Authorization:
//   - Roles are a closed set and map to a static permission table. Engine
//     answers Can, CanAny and CanAll; a permission list sent by the backend
//     replaces the role derived set entirely.
//
// Auth failure signal:
//   - AuthFailureBus carries "the backend rejected the bearer token". API
//     call sites publish, Guard subscribes and invalidates the session, and
//     the next protected render redirects to login once.
//
// Activity sinks:
//   - ActivitySink receives an ActivityEvent for hydration, login, logout,
//     verification, refresh and invalidation. Sinks run best effort; errors
//     are logged and never block a transition.
package auth
