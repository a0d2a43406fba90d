package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/marketgate/marketgate/internal/config"
	errwrap "github.com/marketgate/marketgate/internal/errors"
	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/observability"
	"github.com/marketgate/marketgate/internal/server"
	"github.com/marketgate/marketgate/internal/server/handlers"
)

// adminTokenEnv enables the signal admin endpoint when set.
const adminTokenEnv = "MARKETGATE_ADMIN_TOKEN"

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the HTTP gateway with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload the config file (vendor changes need a restart)

With prefetch.enabled the cache warmer runs on prefetch.schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = observability.DefaultMetricsPort
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, metricsPort, config.AppName); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		gw, err := openGateway(cmd.Context(), cfg, logger)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "gateway initialization failed")
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.String("store", gw.backend.Driver()),
			zap.Strings("vendors", gw.registry.Names()))

		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("store", gw.backend)
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}

		srv := server.New(server.Options{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			RateLimit:       cfg.Server.RateLimit,
			RateBurst:       cfg.Server.RateBurst,
			Service:         gw.service(),
			AdminToken:      os.Getenv(adminTokenEnv),
		})

		if cfg.Prefetch.Enabled {
			warmer := gw.warmer()
			if err := warmer.Start(cmd.Context()); err != nil {
				_ = gw.Close()
				return errwrap.WrapConfigInvalid(cmd.Context(), err, "prefetch scheduler failed to start")
			}
			logger.Info("Prefetch scheduler started",
				zap.String("schedule", cfg.Prefetch.Schedule),
				zap.Strings("vendors", warmer.Vendors))

			// Registered before the server handler so it runs after the server stops.
			signals.OnShutdown(func(ctx context.Context) error {
				warmer.Stop()
				return nil
			})
		}

		// Shutdown handlers run LIFO: server, then warmer, then store, then logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := gw.Close(); err != nil {
				return errwrap.WrapInternal(ctx, err, "store close failed")
			}
			return nil
		})

		errChan := make(chan error, 2)

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			if err := srv.Shutdown(ctx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if errors.As(err, &notFound) {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if _, err := loadConfig(); err != nil {
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			logger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
