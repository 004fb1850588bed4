package lmsauth

import (
	"io"

	internalaudit "github.com/MrEthical07/lmsauth/internal/audit"
)

// AuditEvent is a structured record of one session or channel transition.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the Manager's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers events in a Go channel, mostly for tests and in-process
// consumers.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
