package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devagent/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 24, cfg.Agent.MaxTurns)
	assert.Equal(t, "skip", cfg.Agent.MissingToolName)
	assert.Equal(t, string(domain.PolicyPerCall), cfg.Agent.ConfirmPolicy)
	assert.Equal(t, 1000, cfg.Bus.QueueSize)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
  format: json
agent:
  max_turns: 5
  confirm_policy: auto-approve
provider:
  model: test-model
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 5, cfg.Agent.MaxTurns)
	assert.Equal(t, string(domain.PolicyAutoApprove), cfg.Agent.ConfirmPolicy)
	assert.Equal(t, "test-model", cfg.Provider.Model)
	// Untouched sections keep their defaults.
	assert.Equal(t, 60, cfg.Shell.TimeoutSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfigLoad)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  api_key: from-file\n"), 0600))

	t.Setenv("DEVAGENT_API_KEY", "from-env")
	t.Setenv("DEVAGENT_MAX_TURNS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.APIKey)
	assert.Equal(t, 3, cfg.Agent.MaxTurns)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Agent.MaxTurns = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Agent.MissingToolName = "explode"
	assert.Error(t, cfg.Validate())

	// Unknown confirm policies normalize to the safe default.
	cfg = Default()
	cfg.Agent.ConfirmPolicy = "whatever"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, string(domain.PolicyPerCall), cfg.Agent.ConfirmPolicy)
}
