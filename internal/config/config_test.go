package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "be-tax-approvals", cfg.Service.Name)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "tax_approvals", cfg.Database.Database)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "production", cfg.Service.Environment)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
}

func TestLoadYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
service:
  name: approvals-test
server:
  port: 7000
database:
  host: yaml-host
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DB_HOST", "env-host")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides win over the file; the file wins over defaults.
	assert.Equal(t, "approvals-test", cfg.Service.Name)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "env-host", cfg.Database.Host)
}

func TestLoadBadConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
