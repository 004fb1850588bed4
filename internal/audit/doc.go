// Package audit relays session and channel transitions to a caller-supplied sink
// without blocking the session writer.
//
// # Components
//
//   - [Sink] consumes events (channel, JSON lines, no-op).
//   - [Dispatcher] is a buffered async relay that either drops or blocks when full.
//   - [Event] is one transition: login, logout, bootstrap outcome, channel state.
//
// # Architecture boundaries
//
// This package only buffers and delivers. The Manager decides which events exist.
// It must not import lmsauth or any sibling package.
package audit
