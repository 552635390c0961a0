package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 90*time.Second, cfg.Liveness.HeartbeatTimeout)
	assert.Equal(t, "echo", cfg.Translation.Driver)
	assert.Equal(t, "en", cfg.Translation.SourceLanguage)
	assert.Equal(t, 10*time.Second, cfg.Translation.Timeout)
	assert.Equal(t, 256, cfg.Pipeline.LaneDepth)
	assert.Equal(t, int64(8192), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, "redis", cfg.PubSub.Driver)
	assert.Equal(t, 3*time.Second, cfg.PubSub.Redis.ReadTimeout)
	assert.False(t, cfg.Mirror.Enabled)
	assert.Equal(t, "caption", cfg.Mirror.Prefix)
	assert.Equal(t, 24*time.Hour, cfg.Mirror.StatusTTL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HEARTBEAT_TIMEOUT", "15s")
	t.Setenv("TRANSLATION_DRIVER", "google")
	t.Setenv("REDIS_ADDRESS", "redis:6380")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Liveness.HeartbeatTimeout)
	assert.Equal(t, "google", cfg.Translation.Driver)
	assert.Equal(t, "redis:6380", cfg.PubSub.Redis.Address)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`
server:
  port: 7000
liveness:
  heartbeat_timeout: 2m
translation:
  org_keys:
    acme: secret
mirror:
  enabled: true
  prefix: live
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), body, 0o600))

	cfg, err := load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Liveness.HeartbeatTimeout)
	assert.Equal(t, map[string]string{"acme": "secret"}, cfg.Translation.OrgKeys)
	assert.True(t, cfg.Mirror.Enabled)
	assert.Equal(t, "live", cfg.Mirror.Prefix)
}
