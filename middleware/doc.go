// Package middleware connects a signed-in lmsauth session to net/http, in both
// directions.
//
// # Outbound
//
//   - [Transport] stamps "Authorization: Bearer <token>" from the current
//     session onto every request and refuses to send anything when signed out.
//
// # Inbound guards
//
//   - [RequireSession] admits requests only while a session of an allowed
//     role is signed in.
//   - [RequireBearer] additionally requires the caller to present that
//     session's token.
//
// Both guards put the admitted Session into the request context; read it with
// [SessionFromContext].
//
// # What this package must NOT do
//
//   - Decode tokens or touch credential storage (the Manager owns both).
//   - Sign in or out.
package middleware
