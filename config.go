package lmsauth

import (
	"fmt"
	"net/url"
	"time"

	"github.com/MrEthical07/lmsauth/jwt"
)

// Config defines a public type used by lmsauth APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Storage StorageConfig
	Token   TokenConfig
	Channel ChannelConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageDriver selects where the credential pair is persisted when no
// Store is passed to the Builder.
type StorageDriver string

const (
	StorageMemory StorageDriver = "memory"
	StorageBadger StorageDriver = "badger"
	StorageRedis  StorageDriver = "redis"
)

// StorageConfig controls how credentials survive restarts.
type StorageConfig struct {
	Driver      StorageDriver
	RedisPrefix string
	BadgerDir   string
	// TTL bounds how long persisted credentials live; 0 keeps them until logout.
	TTL time.Duration
	// SealKey, when set, encrypts the persisted token (32 bytes).
	SealKey []byte
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls credential decoding. Without a VerifyKey the payload is
// trusted as issued by the backend and signatures are not checked.
type TokenConfig struct {
	SigningMethod string // "hs256" or "ed25519"; required with VerifyKey
	VerifyKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
CHANNEL CONFIG
====================================
*/

// ChannelConfig controls the push-notification channel.
type ChannelConfig struct {
	// Enabled=false keeps the Manager from opening channels at all, for
	// one-shot tooling that never listens.
	Enabled          bool
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// HeartBeat is offered to the broker for both directions. A negative
	// value turns heart-beating off.
	HeartBeat     time.Duration
	Subscriptions []string
}

// AuditConfig defines a public type used by lmsauth APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by lmsauth APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration used when WithConfig is not called.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Driver:      StorageMemory,
			RedisPrefix: "lms",
		},
		Token: TokenConfig{
			Leeway: 0,
		},
		Channel: ChannelConfig{
			Enabled:          true,
			ReconnectDelay:   5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			HeartBeat:        10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Storage.SealKey = cloneBytes(cfg.Storage.SealKey)
	out.Token.VerifyKey = cloneBytes(cfg.Token.VerifyKey)
	if cfg.Channel.Subscriptions != nil {
		out.Channel.Subscriptions = append([]string(nil), cfg.Channel.Subscriptions...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for contradictions. Every failure wraps
// ErrInvalidConfig.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageRedis:
	case StorageBadger:
		if c.Storage.BadgerDir == "" {
			return invalidConfig("Storage BadgerDir is required for the badger driver")
		}
	default:
		return invalidConfig("Storage Driver must be memory, badger or redis")
	}
	if c.Storage.TTL < 0 {
		return invalidConfig("Storage TTL must be >= 0")
	}
	if n := len(c.Storage.SealKey); n != 0 && n != 32 {
		return invalidConfig("Storage SealKey must be 32 bytes")
	}

	switch jwt.SigningMethod(c.Token.SigningMethod) {
	case "":
		if len(c.Token.VerifyKey) > 0 {
			return invalidConfig("Token VerifyKey requires SigningMethod")
		}
	case jwt.MethodHS256, jwt.MethodEd25519:
		if len(c.Token.VerifyKey) == 0 {
			return invalidConfig("Token SigningMethod requires VerifyKey")
		}
	default:
		return invalidConfig("unsupported Token SigningMethod")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return invalidConfig("Token Leeway must be between 0 and 2m")
	}

	if c.Channel.Enabled {
		if c.Channel.ReconnectDelay <= 0 {
			return invalidConfig("Channel ReconnectDelay must be > 0")
		}
		if c.Channel.HandshakeTimeout < 0 {
			return invalidConfig("Channel HandshakeTimeout must be >= 0")
		}
		if c.Channel.URL != "" {
			u, err := url.Parse(c.Channel.URL)
			if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
				return invalidConfig("Channel URL must be a ws:// or wss:// URL")
			}
		}
		for _, dest := range c.Channel.Subscriptions {
			if dest == "" {
				return invalidConfig("Channel Subscriptions must not contain empty destinations")
			}
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalidConfig("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func invalidConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
