package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values come from defaults, an optional YAML file and MARKETGATE_* environment variables,
// in increasing order of precedence.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`

	// Vendors holds inline vendor definitions: a list, or a map keyed by vendor name.
	Vendors any `mapstructure:"vendors"`

	// VendorsFile points at a YAML file with a top-level vendors list. It wins over Vendors.
	VendorsFile string `mapstructure:"vendors_file"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit caps inbound requests per second per client address. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Driver is libsql, postgres, redis or memory.
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	// ConnectRetries bounds startup connection attempts for networked backends.
	ConnectRetries int           `mapstructure:"connect_retries"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// RawTTL expires cached raw bodies in the redis backend.
	RawTTL    time.Duration `mapstructure:"raw_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only (CLI commands)
// - STRUCTURED: JSON output with correlation IDs (serve)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// GatewayConfig tunes vendor fetching.
type GatewayConfig struct {
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	Coalesce         bool          `mapstructure:"coalesce"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// PrefetchConfig drives the scheduled cache warmer.
type PrefetchConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Schedule    string   `mapstructure:"schedule"`
	Vendors     []string `mapstructure:"vendors"`
	Concurrency int      `mapstructure:"concurrency"`
}
