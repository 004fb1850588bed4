package lmsauth

import (
	internalaudit "github.com/MrEthical07/lmsauth/internal/audit"
)

// newAuditDispatcher returns nil when auditing is disabled; every method on a
// nil dispatcher is a no-op.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *internalaudit.Dispatcher {
	return internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}
