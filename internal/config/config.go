// Package config loads qlite configuration from a TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultConfigFile is looked up in the working directory when no explicit
// path is given.
const DefaultConfigFile = "qlite.toml"

// RetentionMode controls what the cleanup task does with old messages.
type RetentionMode string

const (
	// RetentionKeepForever keeps all messages and only resets expired
	// visibility leases back to active.
	RetentionKeepForever RetentionMode = "KeepForever"
	// RetentionDelete physically deletes messages older than DeleteAfterDays.
	RetentionDelete RetentionMode = "Delete"
)

// Config is the root configuration for the qlite server.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Queues    QueueDefaults   `toml:"queues"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Retention RetentionConfig `toml:"retention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int    `toml:"port"`
	Host           string `toml:"host"`
	EnableUI       bool   `toml:"enable_ui"`
	BaseURL        string `toml:"base_url"`
	MaxConnections int    `toml:"max_connections"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path               string `toml:"path"`
	ConnectionPoolSize int    `toml:"connection_pool_size"`
	BusyTimeoutMs      int    `toml:"busy_timeout_ms"`
}

// QueueDefaults are applied to queues created without explicit attributes.
type QueueDefaults struct {
	VisibilityTimeoutSeconds         int `toml:"visibility_timeout_seconds"`
	MessageRetentionSeconds          int `toml:"message_retention_seconds"`
	MaxReceiveCount                  int `toml:"max_receive_count"`
	ReceiveMessageWaitTimeSeconds    int `toml:"receive_message_wait_time_seconds"`
	FifoThroughputLimitPerSecond     int `toml:"fifo_throughput_limit"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled                   bool   `toml:"enabled"`
	Endpoint                  string `toml:"endpoint"`
	CollectionIntervalSeconds int    `toml:"collection_interval_seconds"`
}

// RetentionConfig holds the cleanup task settings.
type RetentionConfig struct {
	CleanupIntervalSeconds int           `toml:"cleanup_interval_seconds"`
	BatchSize              int           `toml:"batch_size"`
	Mode                   RetentionMode `toml:"mode"`
	DeleteAfterDays        int           `toml:"delete_after_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           3000,
			Host:           "0.0.0.0",
			EnableUI:       false,
			MaxConnections: 1000,
		},
		Database: DatabaseConfig{
			Path:               "qlite.db",
			ConnectionPoolSize: 10,
			BusyTimeoutMs:      5000,
		},
		Queues: QueueDefaults{
			VisibilityTimeoutSeconds:      30,
			MessageRetentionSeconds:       1209600, // 14 days
			MaxReceiveCount:               10,
			ReceiveMessageWaitTimeSeconds: 0,
			FifoThroughputLimitPerSecond:  300,
		},
		Metrics: MetricsConfig{
			Enabled:                   true,
			Endpoint:                  "/metrics",
			CollectionIntervalSeconds: 60,
		},
		Retention: RetentionConfig{
			CleanupIntervalSeconds: 3600,
			BatchSize:              1000,
			Mode:                   RetentionKeepForever,
			DeleteAfterDays:        14,
		},
	}
}

// LoadFile parses a TOML config file and validates it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns the configuration from qlite.toml if present, otherwise the
// defaults, with environment overrides applied in both cases.
func Load() (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		if _, err := toml.DecodeFile(DefaultConfigFile, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", DefaultConfigFile, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ENABLE_UI"); v != "" {
		c.Server.EnableUI = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = strings.EqualFold(v, "true")
	}
}

// Validate checks the configuration bounds.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("config: server host cannot be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database path cannot be empty")
	}
	if c.Queues.VisibilityTimeoutSeconds <= 0 {
		return fmt.Errorf("config: visibility timeout must be > 0")
	}
	if c.Queues.MessageRetentionSeconds < 60 {
		return fmt.Errorf("config: message retention must be >= 60 seconds")
	}
	if c.Queues.MessageRetentionSeconds > 1209600 {
		return fmt.Errorf("config: message retention cannot exceed 14 days")
	}
	if c.Queues.MaxReceiveCount <= 0 {
		return fmt.Errorf("config: max receive count must be > 0")
	}
	switch c.Retention.Mode {
	case RetentionKeepForever, RetentionDelete:
	default:
		return fmt.Errorf("config: unknown retention mode %q", c.Retention.Mode)
	}
	if c.Retention.Mode == RetentionDelete && c.Retention.DeleteAfterDays <= 0 {
		return fmt.Errorf("config: delete_after_days must be > 0 in Delete mode")
	}
	return nil
}

// QueueBaseURL returns the externally visible base URL for queue URLs.
func (c *Config) QueueBaseURL() string {
	if c.Server.BaseURL != "" {
		return strings.TrimRight(c.Server.BaseURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}
