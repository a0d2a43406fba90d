package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoad(t *testing.T) {
	t.Run("LoadDefaults", func(t *testing.T) {
		dataHome := t.TempDir()
		t.Setenv("XDG_DATA_HOME", dataHome)

		cfg, err := Load(newViper(t))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 0.0, cfg.Server.RateLimit)
		assert.Equal(t, 20, cfg.Server.RateBurst)

		// Verify store defaults
		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.Equal(t, filepath.Join(dataHome, AppName, AppName+".db"), cfg.Store.Path)
		assert.Equal(t, 5, cfg.Store.ConnectRetries)
		assert.Equal(t, 72*time.Hour, cfg.Store.RawTTL)

		// Verify gateway defaults
		assert.Equal(t, 10*time.Second, cfg.Gateway.HTTPTimeout)
		assert.False(t, cfg.Gateway.Coalesce)
		assert.Equal(t, 4, cfg.Gateway.FetchConcurrency)

		assert.False(t, cfg.Prefetch.Enabled)
		assert.Equal(t, "*/15 * * * *", cfg.Prefetch.Schedule)

		assert.Same(t, cfg, GetConfig())
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv("MARKETGATE_SERVER_PORT", "9191")
		t.Setenv("MARKETGATE_GATEWAY_COALESCE", "true")
		t.Setenv("MARKETGATE_GATEWAY_HTTP_TIMEOUT", "3s")
		t.Setenv("MARKETGATE_STORE_DRIVER", "Postgres")
		t.Setenv("MARKETGATE_PREFETCH_VENDORS", "alpha,finnhub")

		cfg, err := Load(newViper(t))
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.True(t, cfg.Gateway.Coalesce)
		assert.Equal(t, 3*time.Second, cfg.Gateway.HTTPTimeout)
		assert.Equal(t, "postgres", cfg.Store.Driver)
		assert.Equal(t, []string{"alpha", "finnhub"}, cfg.Prefetch.Vendors)
	})

	t.Run("ConfigFileWithInlineVendors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
vendors:
  - name: alpha
    base_url: https://www.alphavantage.co
    rate_limit:
      per_minute: 5
    endpoints:
      quote:
        category: quote
        path: /query
        required_params:
          function: GLOBAL_QUOTE
          symbol: "{symbol}"
`), 0o600))

		v := newViper(t)
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())

		cfg, err := Load(v)
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)

		reg, err := cfg.VendorRegistry()
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha"}, reg.Names())
	})
}

func TestVendorRegistryRequiresVendors(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.VendorRegistry()
	require.ErrorIs(t, err, ErrNoVendors)
}

func TestVendorRegistryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vendors:
  - name: finnhub
    base_url: https://finnhub.io/api/v1
    rate_limit: {per_minute: 60}
    endpoints:
      quote:
        category: quote
        path: /quote
        required_params: {symbol: "{symbol}"}
`), 0o600))

	cfg := &Config{VendorsFile: path, Vendors: []any{map[string]any{"name": "ignored"}}}
	reg, err := cfg.VendorRegistry()
	require.NoError(t, err)
	require.Equal(t, []string{"finnhub"}, reg.Names())
}

func TestDefaultStorePathFallsBackToHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.Equal(t, filepath.Join(home, ".local", "share", AppName, AppName+".db"), DefaultStorePath())
}
