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
	// run from a temp dir so no stray formicaiod.yaml is picked up
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultMCPListenAddr, cfg.MCPListenAddr)
	assert.Equal(t, uint16(12000), cfg.DefaultPort)
	assert.Equal(t, uint16(14000), cfg.DefaultMetricsPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.JSONLogs)
	assert.Equal(t, time.Minute, cfg.TelemetryInterval)
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formicaiod.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: 127.0.0.1:9999
db_path: /var/lib/formicaio/nodes.db
log_level: debug
json_logs: true
telemetry_interval: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/formicaio/nodes.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.JSONLogs)
	assert.Equal(t, 30*time.Second, cfg.TelemetryInterval)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultMCPListenAddr, cfg.MCPListenAddr)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FORMICAIO_LISTEN_ADDR", "0.0.0.0:8080")
	t.Setenv("FORMICAIO_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestDBPathEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formicaiod.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /from/file.db\n"), 0o644))
	t.Setenv(DBPathEnv, "/from/env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.db", cfg.DBPath)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formicaiod.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")

	require.NoError(t, os.WriteFile(path, []byte("default_port: 0\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.ListenAddr = "10.0.0.1:7000"

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7000", loaded.ListenAddr)
	assert.Equal(t, cfg.DefaultPort, loaded.DefaultPort)
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
