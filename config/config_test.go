package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/hearth/config"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("HEARTH_JWT_SECRET", "test-secret")
	t.Setenv("HEARTH_REDIS_ADDR", "redis:7000")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
	assert.Equal(t, "redis:7000", cfg.RedisAddr)
	assert.Equal(t, 100, cfg.HTTPRequestsPerMinute)
	assert.Equal(t, 64*1024, cfg.WSMaxMessageBytes)
	assert.False(t, cfg.EmailEnabled())
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := config.Load("")
	require.Error(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv("HEARTH_JWT_SECRET", "test-secret")

	path := filepath.Join(t.TempDir(), "hearth.yaml")
	body := "listen_addr: \":9999\"\nws_messages_per_window: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.WSMessagesPerWindow)
}
