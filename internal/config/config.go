package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DataDir         string `toml:"data_dir"`
	LogPath         string `toml:"log_path"`
	DefaultPageSize int    `toml:"default_page_size"`
	EventBufferSize int    `toml:"event_buffer_size"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".chatsync")
	return &Config{
		DataDir:         dir,
		LogPath:         filepath.Join(dir, "chatsync.log"),
		DefaultPageSize: 50,
		EventBufferSize: 256,
	}
}

// Load reads config from the given path, filling unset fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	def := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.LogPath == "" {
		cfg.LogPath = def.LogPath
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// DBPath returns the local cache database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "chatsync.db")
}
