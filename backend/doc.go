// Package backend is a typed client for the library REST API.
//
// Public endpoints (login, password reset, librarian registration, the book
// catalogue) go out unauthenticated. Everything under /api/user and
// /api/admin goes through a [middleware.Transport], so a call made while
// signed out fails with middleware.ErrNoSession before touching the network.
//
// Every request runs through one gobreaker circuit breaker. Server errors and
// transport failures count against it; 4xx answers do not. Login attempts are
// additionally throttled on the client with an x/time/rate token bucket.
//
// # What this package must NOT do
//
//   - Persist tokens or publish sessions; hand the Login result to
//     lmsauth.Manager.Login.
package backend
