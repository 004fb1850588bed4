package lmsauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/lmsauth/channel"
	"github.com/MrEthical07/lmsauth/credential"
	internalaudit "github.com/MrEthical07/lmsauth/internal/audit"
	"github.com/MrEthical07/lmsauth/jwt"
	"github.com/jonboulle/clockwork"
)

// Manager owns the signed-in session and the notification channel that
// follows it.
//
// Readers never block: Session returns the last published snapshot. Login,
// Logout and Close are serialized by a single writer lock, so a reader sees
// either the whole old session or the whole new one.
type Manager struct {
	config  Config
	store   credential.Store
	closer  io.Closer
	decoder *jwt.Decoder
	factory channel.Factory
	clock   clockwork.Clock
	logger  *slog.Logger
	audit   *internalaudit.Dispatcher
	metrics *Metrics

	session atomic.Pointer[Session]

	// mu serializes writers. Fields below are guarded by mu.
	mu         sync.Mutex
	live       *liveChannel
	generation uint64
	closed     bool

	// chMu guards the status read by Channel and updated by channel hooks.
	// Lock order is mu then chMu; hooks take chMu only.
	chMu     sync.Mutex
	status   ChannelStatus
	openedAt time.Time

	listenersMu  sync.RWMutex
	nextListener uint64
	subscribers  map[uint64]func(Session)
	notifiers    map[uint64]func(channel.Message)
}

type liveChannel struct {
	ch         channel.Channel
	generation uint64
}

// Session returns the current session snapshot. The zero Session means
// signed out.
func (m *Manager) Session() Session {
	if m == nil {
		return Session{}
	}
	if s := m.session.Load(); s != nil {
		return *s
	}
	return Session{}
}

// Channel reports the notification channel currently owned by the Manager.
func (m *Manager) Channel() ChannelStatus {
	if m == nil {
		return ChannelStatus{}
	}
	m.chMu.Lock()
	defer m.chMu.Unlock()
	return m.status
}

// Login persists token and role together and publishes the new session. Any
// channel belonging to the previous session is torn down before the new
// session becomes visible; a fresh channel is then opened for token.
//
// Tokens that cannot be decoded or are already expired are rejected with
// ErrInvalidToken or ErrTokenExpired, and a role that contradicts the token's
// role claim with ErrInvalidRole. Nothing changes on rejection.
func (m *Manager) Login(ctx context.Context, token string, role Role) error {
	if m == nil {
		return ErrManagerNotReady
	}
	if !role.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidRole, role)
		m.rejectLogin(ctx, err)
		return err
	}
	claims, err := m.decoder.Decode(token)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidToken, err)
		m.rejectLogin(ctx, err)
		return err
	}
	if claims.Expired(m.clock.Now(), m.decoder.Leeway()) {
		m.rejectLogin(ctx, ErrTokenExpired)
		return ErrTokenExpired
	}
	if err := checkClaimedRole(claims.Role, role); err != nil {
		m.rejectLogin(ctx, err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	if err := m.store.Save(ctx, credential.Credentials{Token: token, Role: role.Wire()}); err != nil {
		m.metricInc(MetricStorageFailure)
		err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		m.rejectLogin(ctx, err)
		return err
	}

	m.teardownLocked(ctx, "login")
	next := &Session{
		Token:     token,
		Role:      role,
		Principal: claims.Subject,
		ExpiresAt: claims.Expiry(),
	}
	m.publishLocked(next)
	m.reconcileLocked(ctx)

	m.metricInc(MetricLoginSuccess)
	m.emitAudit(ctx, auditEventLogin, true, next.Principal, next.Role, nil, nil)
	m.logger.Info("signed in", "principal", next.Principal, "role", next.Role)
	return nil
}

func (m *Manager) rejectLogin(ctx context.Context, err error) {
	m.metricInc(MetricLoginRejected)
	m.emitAudit(ctx, auditEventLogin, false, "", "", err, nil)
}

// Logout clears persisted credentials and closes the channel before the
// empty session is published. It is idempotent. The in-memory session is cleared even when
// the store fails; that failure is returned wrapped in ErrStorageUnavailable.
func (m *Manager) Logout(ctx context.Context) error {
	if m == nil {
		return ErrManagerNotReady
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	prev := m.Session()
	var storeErr error
	if err := m.store.Clear(ctx); err != nil {
		m.metricInc(MetricStorageFailure)
		m.logger.Error("failed to clear persisted credentials", "error", err)
		storeErr = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	m.teardownLocked(ctx, "signed_out")
	m.publishLocked(emptySession)

	m.metricInc(MetricLogout)
	m.emitAudit(ctx, auditEventLogout, storeErr == nil, prev.Principal, prev.Role, storeErr, nil)
	return storeErr
}

// Subscribe registers fn to receive every published session. fn runs while
// the writer lock is held, so it must not call Login or Logout synchronously.
// The returned function unregisters fn.
func (m *Manager) Subscribe(fn func(Session)) func() {
	if m == nil || fn == nil {
		return func() {}
	}
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.subscribers[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.subscribers, id)
		m.listenersMu.Unlock()
	}
}

// OnNotification registers fn for messages delivered by the live channel.
// fn runs on the channel's goroutine and must not block.
func (m *Manager) OnNotification(fn func(channel.Message)) func() {
	if m == nil || fn == nil {
		return func() {}
	}
	m.listenersMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.notifiers[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.notifiers, id)
		m.listenersMu.Unlock()
	}
}

// Close tears down the channel, flushes the audit dispatcher and releases a
// store opened by the Builder. Persisted credentials are left in place.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.teardownLocked(context.Background(), "manager_closed")
	m.mu.Unlock()

	m.audit.Close()
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// AuditDropped reports audit events lost to dispatcher backpressure.
func (m *Manager) AuditDropped() uint64 {
	if m == nil || m.audit == nil {
		return 0
	}
	return m.audit.Dropped()
}

func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

func (m *Manager) metricInc(id MetricID) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Inc(id)
}

// bootstrap restores the persisted session. Every failure ends in the empty
// session; credentials that can never become valid are erased.
func (m *Manager) bootstrap(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.store.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, credential.ErrNotFound):
		return
	case errors.Is(err, credential.ErrIncomplete):
		m.discardLocked(ctx, "incomplete", err)
		return
	case errors.Is(err, credential.ErrCorrupt):
		m.discardLocked(ctx, "corrupt", err)
		return
	default:
		m.metricInc(MetricStorageFailure)
		m.logger.Warn("credential storage unavailable at startup, starting signed out", "error", err)
		return
	}

	restored, reason, err := m.restore(creds)
	if err != nil {
		m.discardLocked(ctx, reason, err)
		return
	}

	m.publishLocked(restored)
	m.metricInc(MetricBootstrapRestored)
	m.emitAudit(ctx, auditEventBootstrapRestored, true, restored.Principal, restored.Role, nil, nil)
	m.logger.Info("session restored", "principal", restored.Principal, "role", restored.Role)
	m.reconcileLocked(ctx)
}

func (m *Manager) restore(creds credential.Credentials) (*Session, string, error) {
	claims, err := m.decoder.Decode(creds.Token)
	if err != nil {
		return nil, "malformed", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Expired(m.clock.Now(), m.decoder.Leeway()) {
		return nil, "expired", ErrTokenExpired
	}
	role, err := ParseRole(creds.Role)
	if err != nil {
		return nil, "invalid_role", err
	}
	if err := checkClaimedRole(claims.Role, role); err != nil {
		return nil, "role_mismatch", err
	}
	return &Session{
		Token:     creds.Token,
		Role:      role,
		Principal: claims.Subject,
		ExpiresAt: claims.Expiry(),
	}, "", nil
}

// checkClaimedRole rejects a role that disagrees with the token's own role
// claim. Tokens without a role claim accept any valid role.
func checkClaimedRole(claimed string, role Role) error {
	if claimed == "" {
		return nil
	}
	parsed, err := ParseRole(claimed)
	if err != nil || parsed != role {
		return fmt.Errorf("%w: token role %q, requested role %q", ErrInvalidRole, claimed, role.Wire())
	}
	return nil
}

func (m *Manager) discardLocked(ctx context.Context, reason string, cause error) {
	if err := m.store.Clear(ctx); err != nil {
		m.metricInc(MetricStorageFailure)
		m.logger.Error("failed to clear discarded credentials", "error", err)
	}
	m.metricInc(MetricBootstrapDiscarded)
	m.emitAudit(ctx, auditEventBootstrapDiscarded, false, "", "", cause, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	m.logger.Info("discarded persisted credentials", "reason", reason, "error", cause)
}

func (m *Manager) publishLocked(s *Session) {
	m.session.Store(s)

	m.listenersMu.RLock()
	subs := make([]func(Session), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.listenersMu.RUnlock()

	for _, fn := range subs {
		fn(*s)
	}
}

// reconcileLocked applies the channel rule: a valid session with no channel
// opens one, an invalid session with a channel closes it. Anything else is
// left alone.
func (m *Manager) reconcileLocked(ctx context.Context) {
	s := m.session.Load()
	switch {
	case s.Valid() && m.live == nil:
		m.openLocked(ctx, s)
	case !s.Valid() && m.live != nil:
		m.teardownLocked(ctx, "signed_out")
	}
}

func (m *Manager) openLocked(ctx context.Context, s *Session) {
	if !m.config.Channel.Enabled || m.closed || m.factory == nil {
		return
	}

	m.generation++
	gen := m.generation

	m.chMu.Lock()
	m.status = ChannelStatus{Generation: gen}
	m.openedAt = m.clock.Now()
	m.chMu.Unlock()

	ch, err := m.factory.Open(s.Token, m.hooksFor(gen))
	if err != nil {
		m.chMu.Lock()
		if m.status.Generation == gen {
			m.status = ChannelStatus{}
		}
		m.chMu.Unlock()

		m.metricInc(MetricChannelOpenFailed)
		m.logger.Error("failed to open notification channel", "generation", gen, "error", err)
		m.emitAudit(ctx, auditEventChannelError, false, s.Principal, s.Role, err, func() map[string]string {
			return map[string]string{"stage": "open"}
		})
		return
	}

	m.live = &liveChannel{ch: ch, generation: gen}
	m.chMu.Lock()
	if m.status.Generation == gen {
		m.status.ID = ch.ID()
	}
	status := m.status
	m.chMu.Unlock()

	m.metricInc(MetricChannelOpened)
	m.emitChannelAudit(ctx, auditEventChannelOpened, true, status, nil, nil)
}

// teardownLocked closes the live channel, if any. The channel's own goroutine
// may still be winding down when this returns; its hooks are ignored from
// here on because the generation no longer matches.
func (m *Manager) teardownLocked(ctx context.Context, reason string) {
	live := m.live
	if live == nil {
		return
	}
	m.live = nil

	m.chMu.Lock()
	if m.status.Generation == live.generation {
		m.status = ChannelStatus{}
	}
	m.chMu.Unlock()

	if err := live.ch.Close(); err != nil {
		m.logger.Warn("notification channel close failed", "generation", live.generation, "error", err)
	}
	m.metricInc(MetricChannelClosed)
	m.emitChannelAudit(ctx, auditEventChannelClosed, true, ChannelStatus{ID: live.ch.ID(), Generation: live.generation}, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func (m *Manager) hooksFor(gen uint64) channel.Hooks {
	return channel.Hooks{
		OnConnect:    func() { m.onConnect(gen) },
		OnDisconnect: func(err error) { m.onDisconnect(gen, err) },
		OnError:      func(err error) { m.onChannelError(gen, err) },
		OnMessage:    func(msg channel.Message) { m.onMessage(gen, msg) },
	}
}

// currentLocked reports whether gen still names the owned channel. Callers hold chMu.
func (m *Manager) currentLocked(gen uint64) bool {
	if m.status.Generation != gen {
		m.metricInc(MetricStaleHookIgnored)
		return false
	}
	return true
}

func (m *Manager) onConnect(gen uint64) {
	m.chMu.Lock()
	if !m.currentLocked(gen) {
		m.chMu.Unlock()
		return
	}
	m.status.Connected = true
	if !m.openedAt.IsZero() {
		m.metrics.Observe(MetricChannelConnectLatency, m.clock.Since(m.openedAt))
		m.openedAt = time.Time{}
	}
	status := m.status
	m.chMu.Unlock()

	m.metricInc(MetricChannelConnected)
	m.emitChannelAudit(context.Background(), auditEventChannelConnected, true, status, nil, nil)
}

func (m *Manager) onDisconnect(gen uint64, err error) {
	m.chMu.Lock()
	if !m.currentLocked(gen) {
		m.chMu.Unlock()
		return
	}
	m.status.Connected = false
	m.chMu.Unlock()

	m.logger.Warn("notification channel lost, reconnecting", "generation", gen, "error", err)
}

// onChannelError only records the failure. Protocol errors never touch the
// session.
func (m *Manager) onChannelError(gen uint64, err error) {
	m.chMu.Lock()
	if !m.currentLocked(gen) {
		m.chMu.Unlock()
		return
	}
	status := m.status
	m.chMu.Unlock()

	m.metricInc(MetricChannelError)
	m.logger.Error("notification channel error", "generation", gen, "error", err)
	m.emitChannelAudit(context.Background(), auditEventChannelError, false, status, err, nil)
}

func (m *Manager) onMessage(gen uint64, msg channel.Message) {
	m.chMu.Lock()
	current := m.currentLocked(gen)
	m.chMu.Unlock()
	if !current {
		return
	}

	m.listenersMu.RLock()
	fns := make([]func(channel.Message), 0, len(m.notifiers))
	for _, fn := range m.notifiers {
		fns = append(fns, fn)
	}
	m.listenersMu.RUnlock()

	m.metricInc(MetricChannelMessage)
	for _, fn := range fns {
		fn(msg)
	}
}
