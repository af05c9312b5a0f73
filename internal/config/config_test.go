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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60, cfg.Server.RatePerMinute)
	assert.Equal(t, 15*time.Second, cfg.Server.SSEHeartbeat)
	assert.Equal(t, 25, cfg.Agent.MaxIterations)
	assert.Equal(t, 4, cfg.Worker.MaxJobs)
	assert.Equal(t, time.Second, cfg.Worker.PollDelay)
	assert.Equal(t, 30*time.Minute, cfg.Sandbox.TTL)
	assert.Empty(t, cfg.Redis.Addr, "defaults run without Redis")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  addr: ":9090"
  rate_per_minute: 10
model:
  name: test-model
worker:
  max_jobs: 2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Server.RatePerMinute)
	assert.Equal(t, "test-model", cfg.Model.Name)
	assert.Equal(t, 2, cfg.Worker.MaxJobs)
	// Untouched sections keep their defaults.
	assert.Equal(t, 25, cfg.Agent.MaxIterations)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("HYPERAGENT_MODEL_API_KEY", "sk-env")
	t.Setenv("HYPERAGENT_SERVER_ADDR", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Model.APIKey)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Server.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Worker.MaxJobs = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
