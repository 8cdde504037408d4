package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, ".smoke-oracle", cfg.Storage.BaseDir)
	assert.Equal(t, 75, cfg.Storage.DOMChunkSize)
	assert.Equal(t, 320, cfg.Storage.ThumbnailWidth)
	assert.Equal(t, 240, cfg.Storage.ThumbnailHeight)
	assert.Equal(t, 80, cfg.Storage.Quality)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	require.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigName)
	content := `
storage:
  base_dir: /tmp/artifacts
  dom_chunk_size: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/artifacts", cfg.Storage.BaseDir)
	assert.Equal(t, 50, cfg.Storage.DOMChunkSize)
	assert.Equal(t, 320, cfg.Storage.ThumbnailWidth, "unset fields keep defaults")
	assert.Equal(t, 80, cfg.Storage.Quality)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.New(oerrors.ErrCodeConfigNotFound, "", ""))
}

func TestLoad_InvalidYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigName)
	require.NoError(t, os.WriteFile(path, []byte("storage: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.New(oerrors.ErrCodeConfigInvalid, "", ""))
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base dir", func(c *Config) { c.Storage.BaseDir = "" }},
		{"negative chunk size", func(c *Config) { c.Storage.DOMChunkSize = -1 }},
		{"tiny thumbnail", func(c *Config) { c.Storage.ThumbnailWidth = 4 }},
		{"quality too high", func(c *Config) { c.Storage.Quality = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", DefaultConfigName)

	cfg := DefaultConfig()
	cfg.Storage.BaseDir = filepath.Join(dir, "artifacts")
	cfg.Storage.Quality = 60
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage, loaded.Storage)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", Discover(dir))

	path := filepath.Join(dir, DefaultConfigName)
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	assert.Equal(t, path, Discover(dir))
}
