// Package config loads the coordinator configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/buildmesh/buildmesh/internal/logger"
	"github.com/buildmesh/buildmesh/internal/remote"
)

// Config is the top-level coordinator configuration.
type Config struct {
	// Listen is the address serving worker websocket attachments.
	Listen string `mapstructure:"listen"`
	// MetricsListen serves /metrics; empty disables the endpoint.
	MetricsListen string `mapstructure:"metrics_listen"`
	// KeepaliveInterval is the per-connection heartbeat period.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	// HandshakeTimeout bounds each worker's attach handshake.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	Log      LogConfig       `mapstructure:"log"`
	Builders []BuilderConfig `mapstructure:"builders"`
}

// LogConfig mirrors logger.Config in file form.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// BuilderConfig declares one builder and its relative build directory.
type BuilderConfig struct {
	Name     string `mapstructure:"name"`
	BuildDir string `mapstructure:"builddir"`
}

// Load reads the config file at path, applying defaults and
// BUILDMESH_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen", ":9989")
	v.SetDefault("metrics_listen", "")
	v.SetDefault("keepalive_interval", time.Hour)
	v.SetDefault("handshake_timeout", 5*time.Minute)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("BUILDMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the builder set for the constraints the directory
// reconciler relies on.
func (c *Config) Validate() error {
	seenNames := make(map[string]bool, len(c.Builders))
	for _, b := range c.Builders {
		if b.Name == "" {
			return fmt.Errorf("builder with empty name")
		}
		if seenNames[b.Name] {
			return fmt.Errorf("duplicate builder name %q", b.Name)
		}
		seenNames[b.Name] = true

		if b.BuildDir == "" {
			return fmt.Errorf("builder %q has no builddir", b.Name)
		}
		if b.BuildDir == "info" {
			return fmt.Errorf("builder %q uses the reserved directory name 'info'", b.Name)
		}
		if strings.ContainsAny(b.BuildDir, `/\`) {
			return fmt.Errorf("builder %q builddir %q must be a single path component", b.Name, b.BuildDir)
		}
	}
	return nil
}

// RemoteBuilders converts the configured builders for the connection
// layer.
func (c *Config) RemoteBuilders() []remote.Builder {
	builders := make([]remote.Builder, len(c.Builders))
	for i, b := range c.Builders {
		builders[i] = remote.Builder{Name: b.Name, BuildDir: b.BuildDir}
	}
	return builders
}

// LoggerConfig converts the log section for the logger package.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}
