// Package credential persists the credential pair (token and role) that lets a
// session survive process restarts.
//
// # Storage layout
//
// Every backend stores exactly two entries, TokenKey and RoleKey, written
// together on Save and removed together on Clear. A Load that finds only one
// of them reports ErrIncomplete; callers must treat that as "no session".
//
// # What this package must NOT do
//
//   - Decode or validate tokens; that belongs to the jwt package.
//   - Keep in-memory session state; the Manager in the root package owns it.
package credential
