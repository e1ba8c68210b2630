package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "rent.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Ledger.MaxConcurrency)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A config file and an env override for one of its keys
	dir := t.TempDir()
	path := filepath.Join(dir, "rent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  cors_origins: ["https://rent.example.com"]
database:
  path: /var/lib/rent/rent.db
log:
  level: debug
`), 0o600))
	t.Setenv("RENT_DATABASE_PATH", ":memory:")
	t.Setenv("RENT_LEDGER_MAX_CONCURRENCY", "8")

	// WHEN: Loading
	cfg, err := config.Load(path)

	// THEN: Env beats file, file beats defaults
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://rent.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Ledger.MaxConcurrency)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("RENT_LOG_LEVEL", "chatty")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "log.level")

	t.Setenv("RENT_LOG_LEVEL", "info")
	t.Setenv("RENT_SERVER_PORT", "0")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "server.port")
}
