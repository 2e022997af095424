// Package config loads and validates storage-layer configuration.
package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the storage layer
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Pool     PoolConfig     `yaml:"pool"`
	Journal  JournalConfig  `yaml:"journal"`
	LogLevel string         `yaml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`   // default schema for unqualified table names
	SSLMode  string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full (default: require)
}

// PoolConfig holds connection pool behavior settings
type PoolConfig struct {
	Mode     string `yaml:"mode"` // "pool" (default) or "dedicated"
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// JournalConfig holds the optional local audit journal settings
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with sensible defaults
func (c *Config) ApplyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Schema == "" {
		c.Database.Schema = "public"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "require"
	}
	if c.Pool.Mode == "" {
		c.Pool.Mode = "pool"
	}
	if c.Pool.MaxConns == 0 {
		c.Pool.MaxConns = 8
	}
	if c.Pool.MinConns == 0 {
		c.Pool.MinConns = c.Pool.MaxConns / 4
	}
	if c.Pool.MinConns < 1 {
		c.Pool.MinConns = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = "pgstore-journal.db"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	switch c.Database.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("database.ssl_mode %q is invalid (valid: disable, require, verify-ca, verify-full)", c.Database.SSLMode)
	}
	switch c.Pool.Mode {
	case "pool", "dedicated":
	default:
		return fmt.Errorf("pool.mode %q is invalid (valid: pool, dedicated)", c.Pool.Mode)
	}
	if c.Pool.MaxConns < 1 {
		return fmt.Errorf("pool.max_conns must be at least 1")
	}
	if c.Pool.MinConns > c.Pool.MaxConns {
		return fmt.Errorf("pool.min_conns (%d) exceeds pool.max_conns (%d)", c.Pool.MinConns, c.Pool.MaxConns)
	}
	return nil
}

// DSN builds a PostgreSQL connection string from the database settings
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password),
		c.Host, c.Port, c.Database, c.SSLMode)
}
