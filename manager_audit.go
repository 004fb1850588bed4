package lmsauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/lmsauth/channel"
	"github.com/MrEthical07/lmsauth/credential"
	"github.com/MrEthical07/lmsauth/jwt"
)

const (
	auditEventBootstrapRestored  = "bootstrap_restored"
	auditEventBootstrapDiscarded = "bootstrap_discarded"
	auditEventLogin              = "login"
	auditEventLogout             = "logout"
	auditEventChannelOpened      = "channel_opened"
	auditEventChannelConnected   = "channel_connected"
	auditEventChannelClosed      = "channel_closed"
	auditEventChannelError       = "channel_error"
)

// AuditErrorCode is the stable, coarse error classification written into
// AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidToken  AuditErrorCode = "invalid_token"
	auditErrTokenExpired  AuditErrorCode = "token_expired"
	auditErrInvalidRole   AuditErrorCode = "invalid_role"
	auditErrIncomplete    AuditErrorCode = "credentials_incomplete"
	auditErrCorrupt       AuditErrorCode = "credentials_corrupt"
	auditErrStorage       AuditErrorCode = "storage_unavailable"
	auditErrProtocol      AuditErrorCode = "channel_protocol"
	auditErrManagerClosed AuditErrorCode = "manager_closed"
	auditErrInternal      AuditErrorCode = "internal_error"
)

func (m *Manager) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principal string,
	role Role,
	err error,
	metadataBuilder func() map[string]string,
) {
	if m == nil || m.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: m.clock.Now().UTC(),
		EventType: eventType,
		Principal: principal,
		Role:      string(role),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	m.audit.Emit(ctx, event)
}

func (m *Manager) emitChannelAudit(
	ctx context.Context,
	eventType string,
	success bool,
	status ChannelStatus,
	err error,
	metadataBuilder func() map[string]string,
) {
	if m == nil || m.audit == nil {
		return
	}
	s := m.Session()

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  m.clock.Now().UTC(),
		EventType:  eventType,
		Principal:  s.Principal,
		Role:       string(s.Role),
		ChannelID:  status.ID,
		Generation: status.Generation,
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	m.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, jwt.ErrMalformed),
		errors.Is(err, jwt.ErrMissingSubject),
		errors.Is(err, jwt.ErrMissingExpiry):
		return auditErrInvalidToken
	case errors.Is(err, ErrInvalidRole):
		return auditErrInvalidRole
	case errors.Is(err, credential.ErrIncomplete):
		return auditErrIncomplete
	case errors.Is(err, credential.ErrCorrupt):
		return auditErrCorrupt
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, credential.ErrUnavailable):
		return auditErrStorage
	case errors.Is(err, channel.ErrProtocol):
		return auditErrProtocol
	case errors.Is(err, ErrManagerClosed):
		return auditErrManagerClosed
	default:
		return auditErrInternal
	}
}
