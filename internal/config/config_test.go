package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
backend_url: http://relay:8080
listen_addr: ":9000"
min_participants: 3
feedback_timeout: 30s
keys:
  aggregator_sk: "12345"
  tp_public_key: "1,2"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://relay:8080", cfg.BackendURL)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.MinParticipants)
	assert.Equal(t, 30*time.Second, cfg.FeedbackTimeout)
	assert.Equal(t, "12345", cfg.Keys.AggregatorSK)
	assert.Equal(t, "1,2", cfg.Keys.TPPublicKey)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "backend_url: http://relay:8080\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, 0.33, cfg.TolerableFaultRate)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "backend_url: http://relay:8080\nlog_level: info\n")

	t.Setenv("SECUREAGG_LOG_LEVEL", "debug")
	t.Setenv("SECUREAGG_KEYS__AGGREGATOR_SK", "777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "777", cfg.Keys.AggregatorSK)
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("SECUREAGG_BACKEND_URL", "http://relay:8080")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://relay:8080", cfg.BackendURL)
}

func TestLoadValidation(t *testing.T) {
	// Missing backend URL.
	_, err := Load(writeConfig(t, "listen_addr: \":9000\"\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "backend_url: http://r\ntolerable_fault_rate: 1.5\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "backend_url: http://r\nmin_participants: 0\n"))
	require.Error(t, err)
}
