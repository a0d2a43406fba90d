package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/config"
	"github.com/marketgate/marketgate/internal/observability"
	"github.com/marketgate/marketgate/internal/server/handlers"
)

var (
	cfgFile string
	envFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Vendor-agnostic market data gateway",
	Long: `marketgate fetches quotes and price series from any configured vendor
behind per-vendor rate-limit windows, caching every raw reply so that
denied or failed fetches can fall back to the latest stored copy.

Use the subcommands to serve the HTTP API or run one-shot operations.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve initializes real telemetry later.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/marketgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading MARKETGATE_* variables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads the dotenv file, the config file and MARKETGATE_* variables.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	if err := loadDotenv(envFile); err != nil {
		observability.CLILogger.Warn("Failed to load dotenv file", zap.String("path", envFile), zap.Error(err))
	}

	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir := config.DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.SetDefaults(v)
	config.BindEnv(v)

	if err := v.ReadInConfig(); err == nil {
		observability.CLILogger.Debug("Using config file", zap.String("path", v.ConfigFileUsed()))
	} else {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		case cfgFile != "":
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to read config file", err)
		default:
			observability.CLILogger.Warn("Error reading config file", zap.Error(err))
		}
	}
}

// loadDotenv loads path without overriding variables already set. A missing file is fine.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// loadConfig decodes the global viper settings.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
