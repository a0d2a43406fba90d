package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/core/store"
	errwrap "github.com/marketgate/marketgate/internal/errors"
	"github.com/marketgate/marketgate/internal/observability"
)

const healthStoreTimeout = 10 * time.Second

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the configuration loads, every vendor validates and the store is reachable.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration loaded")

		reg, err := cfg.VendorRegistry()
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Vendor configuration invalid", err)
			return
		}
		logger.Info("✅ Vendors valid", zap.Strings("vendors", reg.Names()))

		ctx, cancel := context.WithTimeout(cmd.Context(), healthStoreTimeout)
		defer cancel()
		backend, err := store.OpenBackend(ctx, cfg.Store, logger)
		if err == nil {
			err = backend.CheckHealth(ctx)
			_ = backend.Close()
		}
		if err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Store unreachable", err)
			return
		}
		logger.Info("✅ Store reachable", zap.String("driver", cfg.Store.Driver))

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
