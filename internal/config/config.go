// Package config defines the smoke-test-oracle configuration schema and
// file handling. Configuration lives in a single yaml document; every
// field has a working default so a zero-config run is valid.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/logging"
)

// DefaultConfigName is the per-directory config file name.
const DefaultConfigName = ".smoke-oracle.yaml"

// Storage tuning defaults.
const (
	DefaultDOMChunkSize    = 75
	DefaultThumbnailWidth  = 320
	DefaultThumbnailHeight = 240
	DefaultQuality         = 80
)

// Config represents the complete smoke-test-oracle configuration.
type Config struct {
	Version int            `yaml:"version" json:"version"`
	Storage StorageConfig  `yaml:"storage" json:"storage"`
	Logging logging.Config `yaml:"logging" json:"logging"`
	Server  ServerConfig   `yaml:"server" json:"server"`
}

// StorageConfig configures the artifact stores.
type StorageConfig struct {
	// BaseDir is the root directory for all stores.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// DOMChunkSize is the maximum number of element nodes per DOM chunk.
	DOMChunkSize int `yaml:"dom_chunk_size" json:"dom_chunk_size"`

	// ThumbnailWidth and ThumbnailHeight cap generated thumbnails.
	// Aspect ratio is always preserved.
	ThumbnailWidth  int `yaml:"thumbnail_width" json:"thumbnail_width"`
	ThumbnailHeight int `yaml:"thumbnail_height" json:"thumbnail_height"`

	// Quality is the encoder quality for lossy screenshot conversions (1-100).
	Quality int `yaml:"quality" json:"quality"`
}

// ServerConfig configures the MCP server surface.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
}

// DefaultConfig returns a configuration with all defaults applied.
// BaseDir defaults to .smoke-oracle under the working directory.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			BaseDir:         ".smoke-oracle",
			DOMChunkSize:    DefaultDOMChunkSize,
			ThumbnailWidth:  DefaultThumbnailWidth,
			ThumbnailHeight: DefaultThumbnailHeight,
			Quality:         DefaultQuality,
		},
		Logging: logging.DefaultConfig(),
		Server: ServerConfig{
			Transport: "stdio",
		},
	}
}

// Load reads a config file and applies defaults for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeConfigNotFound, "config.Load",
				fmt.Sprintf("config file %s does not exist", path), err)
		}
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "config.Load",
			"config file could not be read", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "config.Load",
			"config file is not valid yaml", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as yaml, creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "config.Save",
			"config could not be marshalled", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.IO("config.Save", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.IO("config.Save", path, err)
	}
	return nil
}

// Validate checks ranges on all tunables.
func (c *Config) Validate() error {
	s := c.Storage
	switch {
	case s.BaseDir == "":
		return errors.New(errors.ErrCodeConfigInvalid, "config.Validate", "storage.base_dir must not be empty")
	case s.DOMChunkSize < 1:
		return errors.New(errors.ErrCodeConfigInvalid, "config.Validate", "storage.dom_chunk_size must be >= 1")
	case s.ThumbnailWidth < 16 || s.ThumbnailHeight < 16:
		return errors.New(errors.ErrCodeConfigInvalid, "config.Validate", "thumbnail dimensions must be >= 16")
	case s.Quality < 1 || s.Quality > 100:
		return errors.New(errors.ErrCodeConfigInvalid, "config.Validate", "storage.quality must be in 1..100")
	}
	return nil
}

// applyDefaults fills zero values left by partial config files.
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = ".smoke-oracle"
	}
	if c.Storage.DOMChunkSize == 0 {
		c.Storage.DOMChunkSize = DefaultDOMChunkSize
	}
	if c.Storage.ThumbnailWidth == 0 {
		c.Storage.ThumbnailWidth = DefaultThumbnailWidth
	}
	if c.Storage.ThumbnailHeight == 0 {
		c.Storage.ThumbnailHeight = DefaultThumbnailHeight
	}
	if c.Storage.Quality == 0 {
		c.Storage.Quality = DefaultQuality
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
}

// Discover returns the config path for dir, or "" when none exists.
func Discover(dir string) string {
	path := filepath.Join(dir, DefaultConfigName)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
