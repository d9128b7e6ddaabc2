package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 400, cfg.Memory.ChunkTokens)
	assert.Equal(t, 80, cfg.Memory.ChunkOverlap)
	assert.Equal(t, 0.7, cfg.Memory.VectorWeight)
	assert.Equal(t, 0.3, cfg.Memory.TextWeight)
	assert.Equal(t, 24*time.Hour, cfg.Memory.NotesTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Memory.StableTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Memory.SyncDebounce)
	assert.Equal(t, 5*time.Minute, cfg.Session.InactivityFlush)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(filepath.Join(dir, "nope.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Memory.ChunkTokens)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Logging.File)
}

func TestLoad_MalformedFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Memory.MaxResults)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.json")
	body := `{"data_dir": "` + dir + `", "memory": {"chunk_tokens": 256, "max_results": 10}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Memory.ChunkTokens)
	assert.Equal(t, 10, cfg.Memory.MaxResults)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "memory"), cfg.MemoryDir())
	assert.Equal(t, filepath.Join(dir, "index.db"), cfg.IndexDBPath())
	// Untouched knobs keep defaults.
	assert.Equal(t, 80, cfg.Memory.ChunkOverlap)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"zero chunk tokens", func(c *Config) { c.Memory.ChunkTokens = 0 }, true},
		{"overlap >= tokens", func(c *Config) { c.Memory.ChunkOverlap = 400 }, true},
		{"negative min score", func(c *Config) { c.Memory.MinScore = -0.1 }, true},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "banana" }, true},
		{"openai without key", func(c *Config) { c.Embedding.Provider = "openai" }, true},
		{"none provider ok", func(c *Config) { c.Embedding.Provider = "none" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
