package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. A missing or unreadable file falls
// back to defaults rather than failing the caller.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".mnemo", "mnemo.json")
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return l.withDerivedPaths(cfg)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("MNEMO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Malformed config is treated as absent.
		return l.withDerivedPaths(cfg)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return l.withDerivedPaths(DefaultConfig())
	}

	return l.withDerivedPaths(cfg)
}

// withDerivedPaths fills in paths that depend on the data directory.
func (l *Loader) withDerivedPaths(cfg *Config) (*Config, error) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".mnemo")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "mnemo.log")
	}

	return cfg, nil
}

// MemoryDir returns the directory holding the markdown memory files.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.DataDir, "memory")
}

// IndexDBPath returns the path of the derived SQLite index.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "index.db")
}
