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
	t.Setenv("SYNC_API_JWT_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.ListenAddress)
	assert.Equal(t, 10, cfg.Engine.MaxRulesPerCreator)
	assert.Equal(t, time.Hour, cfg.Engine.RuleQuotaWindow)
	assert.Equal(t, 50, cfg.Engine.MaxBatchResolve)
	assert.Equal(t, 20, cfg.Engine.MinOverrideReasonLength)
	assert.Equal(t, 20, cfg.Worker.BatchSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SYNC_API_JWT_SECRET", "test-secret")
	t.Setenv("SYNC_ENGINE_MAX_RULES_PER_CREATOR", "3")
	t.Setenv("SYNC_DATABASE_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.MaxRulesPerCreator)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("SYNC_API_JWT_SECRET", "test-secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  listen_address: ":9090"
engine:
  max_batch_resolve: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.API.ListenAddress)
	assert.Equal(t, 10, cfg.Engine.MaxBatchResolve)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	cfg := &Config{}
	cfg.Engine.MaxRulesPerCreator = 10
	cfg.Engine.MaxBatchResolve = 50
	cfg.Engine.MinOverrideReasonLength = 20
	cfg.Worker.BatchSize = 20

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "sync", Password: "pw",
		Database: "sync_engine", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=sync password=pw dbname=sync_engine sslmode=disable",
		db.DSN())
}
