// Package channel defines the push-notification channel a session keeps open
// while it is valid.
//
// A Factory opens a Channel for a bearer token and returns immediately; the
// implementation connects, and reconnects after loss, in the background until
// Close is called. Hooks report connects, protocol errors and messages back to
// the owner. The owner, not the channel, decides when a channel should exist.
package channel
