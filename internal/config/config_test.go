package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
venue:
  ws_url: "wss://stream.example.com/v5/private"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://stream.example.com/v5/private", cfg.Venue.WSURL)
	assert.Equal(t, "spot", cfg.Venue.Category)
	assert.Equal(t, 20*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 2, cfg.Session.StaleMultiplier)
	assert.Equal(t, 10, cfg.Session.MaxRetries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Database.WALMode)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
venue:
  ws_url: "wss://stream.example.com/v5/private"
  symbol: "ETHUSDT"
session:
  heartbeat_interval: 5s
  max_retries: 3
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Venue.Symbol)
	assert.Equal(t, 5*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRequiresWSURL(t *testing.T) {
	path := writeConfig(t, `
log:
  level: info
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
