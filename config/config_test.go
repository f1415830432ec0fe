package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", filepath.Join(dir, "home"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("CANOPY_PORT", "")
	t.Setenv("CANOPY_DB", "")
	return dir
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	dir := setupEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.PRCacheTTL)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, "git", cfg.GitPath)
	assert.Equal(t, filepath.Join(dir, "data", "canopy", "canopy.db"), cfg.DBPath)
	assert.Empty(t, cfg.GitHubAPIURL)
}

func TestSaveAndLoad(t *testing.T) {
	dir := setupEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Port = 4000
	cfg.PRCacheTTL = 90 * time.Second
	cfg.GitHubAPIURL = "https://ghe.example.com/api/v3/"
	require.NoError(t, Save(cfg))

	path := filepath.Join(dir, "config", "canopy", "config.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pr_cache_ttl: 1m30s")
	assert.Equal(t, byte('\n'), data[len(data)-1])

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "config", "canopy", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 4\ngit_path: \"  \"\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, DefaultGitPath, cfg.GitPath)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestEnvOverrides(t *testing.T) {
	setupEnv(t)
	t.Setenv("CANOPY_PORT", "4555")
	t.Setenv("CANOPY_DB", "/tmp/elsewhere.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4555, cfg.Port)
	assert.Equal(t, "/tmp/elsewhere.db", cfg.DBPath)

	t.Setenv("CANOPY_PORT", "nope")
	_, err = Load()
	assert.Error(t, err)
}

func TestInvalidYAML(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "config", "canopy", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}
