// Package config provides centralized configuration management for marketgate.
// Defaults are registered on a viper instance, overridden by an optional config file
// and MARKETGATE_* environment variables, then decoded into Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/marketgate/marketgate/internal/core/registry"
)

const (
	// AppName names the binary, config directory and data directory.
	AppName = "marketgate"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "MARKETGATE"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// ErrNoVendors is returned when neither vendors nor vendors_file is configured.
var ErrNoVendors = errors.New("no vendors configured (set vendors or vendors_file)")

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.connect_retries", 5)
	v.SetDefault("store.connect_timeout", "5s")
	v.SetDefault("store.raw_ttl", "72h")
	v.SetDefault("store.key_prefix", AppName)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)

	// Gateway defaults
	v.SetDefault("gateway.http_timeout", "10s")
	v.SetDefault("gateway.coalesce", false)
	v.SetDefault("gateway.fetch_concurrency", 4)
	v.SetDefault("gateway.user_agent", AppName)

	// Prefetch defaults
	v.SetDefault("prefetch.enabled", false)
	v.SetDefault("prefetch.schedule", "*/15 * * * *")
	v.SetDefault("prefetch.vendors", []string{})
	v.SetDefault("prefetch.concurrency", 2)

	v.SetDefault("vendors_file", "")
}

// BindEnv wires MARKETGATE_* variables, with dots in keys mapped to underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the settings held by v into a Config and makes it current.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("viper instance is required")
	}

	cfg := &Config{}
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToFloat64HookFunc(),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	setConfig(cfg)

	return cfg, nil
}

// VendorRegistry builds the vendor registry from vendors_file or the inline vendors section.
func (c *Config) VendorRegistry() (*registry.Registry, error) {
	if c == nil {
		return nil, ErrNoVendors
	}
	if path := strings.TrimSpace(c.VendorsFile); path != "" {
		return registry.LoadFile(path)
	}
	if isEmpty(c.Vendors) {
		return nil, ErrNoVendors
	}
	return registry.FromMap(c.Vendors)
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-style config directory for the app.
func DefaultConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return ""
}

// DefaultDataDir returns the XDG-style data directory for the app.
func DefaultDataDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", AppName)
	}
	return ""
}

// DefaultStorePath returns the path to the libsql database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
