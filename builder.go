package lmsauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/lmsauth/channel"
	"github.com/MrEthical07/lmsauth/channel/ws"
	"github.com/MrEthical07/lmsauth/credential"
	"github.com/MrEthical07/lmsauth/jwt"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a Manager.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	store   credential.Store
	redis   redis.UniversalClient
	factory channel.Factory
	clock   clockwork.Clock
	logger  *slog.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The Builder keeps its own copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore supplies the credential store directly, overriding Storage.Driver.
func (b *Builder) WithStore(store credential.Store) *Builder {
	b.store = store
	return b
}

// WithRedis supplies the client used by the redis storage driver.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithChannelFactory overrides the websocket dialer built from Channel.URL.
func (b *Builder) WithChannelFactory(factory channel.Factory) *Builder {
	b.factory = factory
	return b
}

// WithClock injects the clock used for expiry checks, audit timestamps and
// reconnect delays.
func (b *Builder) WithClock(clock clockwork.Clock) *Builder {
	b.clock = clock
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build is BuildContext with a background context.
func (b *Builder) Build() (*Manager, error) {
	return b.BuildContext(context.Background())
}

// BuildContext validates the configuration, wires the dependencies and runs
// the session bootstrap before returning. Bootstrap outcomes never surface as
// errors; only wiring problems do.
func (b *Builder) BuildContext(ctx context.Context) (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session_manager")

	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// -------- TOKEN DECODER --------
	decoder, err := jwt.NewDecoder(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		VerifyKey:     cloneBytes(cfg.Token.VerifyKey),
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// -------- CHANNEL FACTORY --------
	factory := b.factory
	if cfg.Channel.Enabled && factory == nil {
		if cfg.Channel.URL == "" {
			return nil, errors.New("channel factory or Channel URL required when channels are enabled")
		}
		dialer, err := ws.NewDialer(ws.Config{
			URL:              cfg.Channel.URL,
			ReconnectDelay:   cfg.Channel.ReconnectDelay,
			HandshakeTimeout: cfg.Channel.HandshakeTimeout,
			HeartBeat:        cfg.Channel.HeartBeat,
			Subscriptions:    cfg.Channel.Subscriptions,
		}, ws.WithClock(clock), ws.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		factory = dialer
	}

	// -------- CREDENTIAL STORE --------
	store, closer, err := b.openStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Storage.SealKey) > 0 {
		sealed, err := credential.NewSealedStore(store, cfg.Storage.SealKey)
		if err != nil {
			closeQuietly(closer)
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		store = sealed
	}

	m := &Manager{
		config:      cfg,
		store:       store,
		closer:      closer,
		decoder:     decoder,
		factory:     factory,
		clock:       clock,
		logger:      logger,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
		subscribers: make(map[uint64]func(Session)),
		notifiers:   make(map[uint64]func(channel.Message)),
	}
	m.session.Store(emptySession)
	m.bootstrap(ctx)

	b.built = true
	return m, nil
}

func (b *Builder) openStore(cfg StorageConfig, logger *slog.Logger) (credential.Store, io.Closer, error) {
	if b.store != nil {
		return b.store, nil, nil
	}
	switch cfg.Driver {
	case StorageRedis:
		if b.redis == nil {
			return nil, nil, errors.New("redis client required for the redis storage driver")
		}
		return credential.NewRedisStore(b.redis, cfg.RedisPrefix, cfg.TTL), nil, nil
	case StorageBadger:
		store, err := credential.OpenBadgerStore(credential.BadgerConfig{
			Dir: cfg.BadgerDir,
			TTL: cfg.TTL,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return store, store, nil
	default:
		return credential.NewMemoryStore(), nil, nil
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
