package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 0.65, cfg.Indexing.MinimumSimilarityThreshold)
	assert.Equal(t, 0.75, cfg.Indexing.TokenStrictnessThreshold)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
storage:
  base_path: /data/kb
  max_file_size_bytes: 1048576
indexing:
  max_tokens_per_chunk: 128
  max_tokens_per_section: 1024
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/data/kb", cfg.Storage.BasePath)
	assert.Equal(t, int64(1<<20), cfg.Storage.MaxFileSize)
	assert.Equal(t, 128, cfg.Indexing.MaxTokensPerChunk)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_CONNECTION_STRING", "postgres://kb:kb@localhost/kb")
	t.Setenv("FILE_STORAGE_BASE_PATH", "/var/kb/files")
	t.Setenv("MAX_FILE_SIZE_BYTES", "2048")
	t.Setenv("JWT_SIGNING_SECRET", "secret")
	t.Setenv("OLLAMA_EMBEDDING_MODEL", "mxbai-embed-large")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://kb:kb@localhost/kb", cfg.DatabaseDSN())
	assert.Equal(t, "/var/kb/files", cfg.Storage.BasePath)
	assert.Equal(t, int64(2048), cfg.Storage.MaxFileSize)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"bad cache", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"zero file size", func(c *Config) { c.Storage.MaxFileSize = 0 }},
		{"chunk exceeds section", func(c *Config) { c.Indexing.MaxTokensPerChunk = 4096 }},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"top-k out of range", func(c *Config) { c.Search.DefaultTopK = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
