package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filenio/sdk-go/client"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, client.DefaultGatewayURL, cfg.GatewayURL)
	assert.Equal(t, client.DefaultAttempts, cfg.Attempts)
	assert.Equal(t, int64(client.DefaultMaxParallelRequests), cfg.MaxParallelRequests)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FILEN_EMAIL", "env@example.com")
	t.Setenv("FILEN_GATEWAY_URL", "https://gateway.example.test")
	t.Setenv("FILEN_REQUESTS_PER_SECOND", "25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env@example.com", cfg.Email)
	assert.Equal(t, "https://gateway.example.test", cfg.GatewayURL)
	assert.Equal(t, 25, cfg.RequestsPerSecond)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("attempts: 3\ntimeout_seconds: 10\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Attempts)

	transport := cfg.Transport()
	assert.Equal(t, 3, transport.Attempts)
	assert.Equal(t, 10*time.Second, transport.Timeout)
}

func TestValidateRejectsNonsense(t *testing.T) {
	cfg := &Config{Attempts: 0, MaxParallelRequests: 8, TimeoutSeconds: 10}
	assert.Error(t, cfg.Validate())
	cfg = &Config{Attempts: 2, MaxParallelRequests: 0, TimeoutSeconds: 10}
	assert.Error(t, cfg.Validate())
	cfg = &Config{Attempts: 2, MaxParallelRequests: 8, TimeoutSeconds: 0}
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
