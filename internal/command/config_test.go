package command

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lmsctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  url: https://lms.example.com
storage:
  driver: redis
  redis_addr: cache:6379
channel:
  reconnect_delay: 2s
  subscriptions: ["/topic/books", "/user/queue/notifications"]
log:
  level: debug
`), 0o600))
	t.Setenv("LMSCTL_LOG__FORMAT", "json")
	t.Setenv("LMSCTL_STORAGE__REDIS_ADDR", "env-cache:6379")

	cfg, err := loadConfig(path, map[string]any{"log.level": "warn"})
	require.NoError(t, err)

	assert.Equal(t, "https://lms.example.com", cfg.Backend.URL)
	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "env-cache:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, 2*time.Second, cfg.Channel.ReconnectDelay)
	assert.Equal(t, []string{"/topic/books", "/user/queue/notifications"}, cfg.Channel.Subscriptions)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout, "unset keys keep defaults")
}

func TestManagerConfigDerivesChannelURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":        "ws://localhost:8080/ws/websocket",
		"https://lms.example.com/":     "wss://lms.example.com/ws/websocket",
		"https://lms.example.com/api/": "wss://lms.example.com/api/ws/websocket",
	}
	for backendURL, want := range cases {
		cfg := defaultConfig()
		cfg.Backend.URL = backendURL
		cfg.Storage.Driver = "memory"

		mcfg, err := cfg.ManagerConfig(true)
		require.NoError(t, err, backendURL)
		assert.Equal(t, want, mcfg.Channel.URL)
		assert.True(t, mcfg.Channel.Enabled)
	}
}

func TestManagerConfigWithoutChannel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Backend.URL = "ftp://nope"

	mcfg, err := cfg.ManagerConfig(false)
	require.NoError(t, err)
	assert.False(t, mcfg.Channel.Enabled)
	assert.Equal(t, lmsauth.StorageBadger, mcfg.Storage.Driver)
}

func TestManagerConfigSealKey(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.SealKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	mcfg, err := cfg.ManagerConfig(false)
	require.NoError(t, err)
	assert.Len(t, mcfg.Storage.SealKey, 32)

	cfg.Storage.SealKey = "not base64!"
	_, err = cfg.ManagerConfig(false)
	assert.Error(t, err)

	cfg.Storage.SealKey = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = cfg.ManagerConfig(false)
	assert.ErrorIs(t, err, lmsauth.ErrInvalidConfig)
}

func TestManagerConfigVerifiedTokens(t *testing.T) {
	cfg := defaultConfig()
	cfg.Token.SigningMethod = "HS256"
	cfg.Token.VerifyKey = "backend-secret"

	mcfg, err := cfg.ManagerConfig(false)
	require.NoError(t, err)
	assert.Equal(t, "hs256", mcfg.Token.SigningMethod)
	assert.NotContains(t, mcfg.Lint().Codes(), "signature_unverified")
}
