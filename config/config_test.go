package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileMissingUsesDefaults(t *testing.T) {
	cfg := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Realtime.MaxAttempts)
	assert.Equal(t, 500, cfg.Realtime.QueueCapacity)
	assert.Equal(t, "memory", cfg.Realtime.QueueBackend)
}

func TestLoadConfigFileKeepsDefaultsForOmittedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("realtime:\n  maxAttempts: 9\n  retryDelay: 2s\ndatabase:\n  driver: sqlite\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := LoadConfigFile(path)

	assert.Equal(t, 9, cfg.Realtime.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Realtime.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Realtime.RetryDelayMax)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REALTIME_QUEUE_CAPACITY", "0")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("WS_READ_TIMEOUT", "10s")
	t.Setenv("LOG_FILENAME", "")

	cfg := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 0, cfg.Realtime.QueueCapacity)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.ReadTimeout)
	assert.Equal(t, "", cfg.Log.Filename)
}
