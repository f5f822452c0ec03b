package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WARDEN_PLATFORM_URL", "https://api.example.chat")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.chat", cfg.PlatformURL)
	assert.Equal(t, 15*time.Second, cfg.TickInterval)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DBPath)
	assert.Empty(t, cfg.WebhookURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WARDEN_PLATFORM_URL", "https://api.example.chat")
	t.Setenv("WARDEN_PLATFORM_TOKEN", "secret")
	t.Setenv("WARDEN_DB_PATH", "/var/lib/warden/warden.db")
	t.Setenv("WARDEN_TICK_INTERVAL", "5s")
	t.Setenv("WARDEN_WEBHOOK_URL", "https://hooks.example.chat/warden")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.PlatformToken)
	assert.Equal(t, "/var/lib/warden/warden.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, "https://hooks.example.chat/warden", cfg.WebhookURL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRequiresPlatformURL(t *testing.T) {
	t.Setenv("WARDEN_PLATFORM_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveTick(t *testing.T) {
	t.Setenv("WARDEN_PLATFORM_URL", "https://api.example.chat")
	t.Setenv("WARDEN_TICK_INTERVAL", "0s")

	_, err := Load()
	require.Error(t, err)
}
