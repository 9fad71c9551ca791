package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "/var/lib/antcode", cfg.Data.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "antcode", cfg.Queue.KeyPrefix)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 8, cfg.Scheduler.BatchSize)
	assert.Equal(t, 16, cfg.Scheduler.MaxConcurrentTasks)
	assert.False(t, cfg.Dispatch.UseWebsocket)
	assert.Equal(t, "admin", cfg.Auth.AdminUser)
}

func TestLoad_MasterURLDerivation(t *testing.T) {
	// The wildcard bind address is not reachable, so the derived URL
	// falls back to loopback
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Server.MasterURL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "antcode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 10.0.0.9
  port: 9000
queue:
  backend: redis
  redis_addr: redis:6379
scheduler:
  workers: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://10.0.0.9:9000", cfg.Server.MasterURL)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, 2, cfg.Scheduler.Workers)

	// Untouched sections keep their defaults
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_ExplicitMasterURLWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "antcode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  master_url: https://master.example.com
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://master.example.com", cfg.Server.MasterURL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ANTCODE_SERVER_PORT", "9100")
	t.Setenv("ANTCODE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
