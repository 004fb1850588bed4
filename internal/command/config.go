package command

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/backend"
	"github.com/MrEthical07/lmsauth/internal/confloader"
)

// Config is the lmsctl configuration as read from file, environment and
// flags.
type Config struct {
	Backend BackendConfig `koanf:"backend"`
	Storage StorageConfig `koanf:"storage"`
	Token   TokenConfig   `koanf:"token"`
	Channel ChannelConfig `koanf:"channel"`
	Audit   AuditConfig   `koanf:"audit"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Serve   ServeConfig   `koanf:"serve"`
}

type BackendConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type StorageConfig struct {
	Driver      string        `koanf:"driver"`
	BadgerDir   string        `koanf:"badger_dir"`
	RedisAddr   string        `koanf:"redis_addr"`
	RedisPrefix string        `koanf:"redis_prefix"`
	TTL         time.Duration `koanf:"ttl"`
	// SealKey is 32 bytes, base64 encoded.
	SealKey string `koanf:"seal_key"`
}

type TokenConfig struct {
	SigningMethod string        `koanf:"signing_method"`
	VerifyKey     string        `koanf:"verify_key"`
	Issuer        string        `koanf:"issuer"`
	Leeway        time.Duration `koanf:"leeway"`
}

type ChannelConfig struct {
	// URL defaults to the backend's /ws/websocket endpoint.
	URL              string        `koanf:"url"`
	ReconnectDelay   time.Duration `koanf:"reconnect_delay"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	HeartBeat        time.Duration `koanf:"heart_beat"`
	Subscriptions    []string      `koanf:"subscriptions"`
}

type AuditConfig struct {
	Enabled bool `koanf:"enabled"`
	// File receives JSON lines; "-" is stderr.
	File       string `koanf:"file"`
	BufferSize int    `koanf:"buffer_size"`
}

type MetricsConfig struct {
	Enabled    bool `koanf:"enabled"`
	Histograms bool `koanf:"histograms"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ServeConfig struct {
	Addr string `koanf:"addr"`
}

func defaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			URL:     "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:      string(lmsauth.StorageBadger),
			BadgerDir:   defaultStateDir(),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "lms",
		},
		Channel: ChannelConfig{
			ReconnectDelay:   5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			HeartBeat:        10 * time.Second,
			Subscriptions:    []string{"/user/queue/notifications"},
		},
		Audit: AuditConfig{
			File:       "-",
			BufferSize: 256,
		},
		Metrics: MetricsConfig{Enabled: true, Histograms: true},
		Log:     LogConfig{Level: "info", Format: "text"},
		Serve:   ServeConfig{Addr: "127.0.0.1:9464"},
	}
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "lmsctl", "session")
}

// loadConfig layers the config file, LMSCTL_ environment and overrides on
// top of the defaults.
func loadConfig(path string, overrides map[string]any) (Config, error) {
	cfg := defaultConfig()
	l := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithOverrides(overrides),
	)
	if err := l.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ManagerConfig translates to the session manager's configuration.
// withChannel=false is for commands that never listen.
func (c Config) ManagerConfig(withChannel bool) (lmsauth.Config, error) {
	out := lmsauth.DefaultConfig()

	out.Storage.Driver = lmsauth.StorageDriver(strings.ToLower(c.Storage.Driver))
	out.Storage.BadgerDir = c.Storage.BadgerDir
	out.Storage.RedisPrefix = c.Storage.RedisPrefix
	out.Storage.TTL = c.Storage.TTL
	if c.Storage.SealKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Storage.SealKey)
		if err != nil {
			return out, fmt.Errorf("storage.seal_key: %w", err)
		}
		out.Storage.SealKey = key
	}

	out.Token.SigningMethod = strings.ToLower(c.Token.SigningMethod)
	if c.Token.VerifyKey != "" {
		out.Token.VerifyKey = []byte(c.Token.VerifyKey)
	}
	out.Token.Issuer = c.Token.Issuer
	out.Token.Leeway = c.Token.Leeway

	out.Channel.Enabled = withChannel
	if withChannel {
		u := c.Channel.URL
		if u == "" {
			derived, err := channelURL(c.Backend.URL)
			if err != nil {
				return out, err
			}
			u = derived
		}
		out.Channel.URL = u
		out.Channel.ReconnectDelay = c.Channel.ReconnectDelay
		out.Channel.HandshakeTimeout = c.Channel.HandshakeTimeout
		out.Channel.HeartBeat = c.Channel.HeartBeat
		out.Channel.Subscriptions = c.Channel.Subscriptions
	}

	out.Audit.Enabled = c.Audit.Enabled
	out.Audit.BufferSize = c.Audit.BufferSize
	out.Metrics.Enabled = c.Metrics.Enabled
	out.Metrics.EnableLatencyHistograms = c.Metrics.Histograms

	return out, out.Validate()
}

// BackendConfig translates to the REST client's configuration.
func (c Config) BackendConfig() backend.Config {
	out := backend.DefaultConfig()
	out.BaseURL = c.Backend.URL
	if c.Backend.Timeout > 0 {
		out.Timeout = c.Backend.Timeout
	}
	return out
}

// channelURL maps http(s)://host/base to ws(s)://host/base/ws/websocket.
func channelURL(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", fmt.Errorf("backend.url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("backend.url must be http(s), got %q", backendURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/websocket"
	return u.String(), nil
}
