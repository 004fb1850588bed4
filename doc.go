// Package lmsauth is the session core of the library management client: it
// restores, replaces and clears the signed-in session and keeps the backend's
// push-notification channel open exactly while that session is valid.
//
// A [Manager] is created through [Builder.Build]. Build reads the persisted
// credentials once, synchronously, so the first [Manager.Session] call already
// reflects what was on disk. Login and Logout are the only writers; every other
// method reads an immutable snapshot and is safe to call from any goroutine.
//
// # Architecture boundaries
//
// lmsauth owns session state and the channel lifecycle. Token decoding lives in
// jwt/, persistence in credential/, the wire transport in channel/ws, and the
// REST API in backend/. None of those packages import lmsauth.
//
// # What this package must NOT do
//
//   - Navigate, render or notify the user. Callers react to [Manager.Subscribe].
//   - Re-validate the token on every channel reconnect attempt.
//   - Hold more than one live notification channel.
package lmsauth
