package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/config"
	"github.com/arenawatch/arenawatch/internal/core"
	errwrap "github.com/arenawatch/arenawatch/internal/errors"
	"github.com/arenawatch/arenawatch/internal/metrics"
	"github.com/arenawatch/arenawatch/internal/observability"
	"github.com/arenawatch/arenawatch/internal/server"
	"github.com/arenawatch/arenawatch/internal/server/handlers"
)

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

// entitiesChecker reports degraded when every published record is unusable.
// Before the first cycle there is nothing to judge.
func entitiesChecker(src interface{ Entities() []core.EntityRecord }) handlers.CheckerFunc {
	return func(context.Context) error {
		records := src.Entities()
		if len(records) == 0 {
			return nil
		}
		for _, record := range records {
			if record.Usable() {
				return nil
			}
		}
		return fmt.Errorf("no usable entity among %d: %w", len(records), handlers.ErrDegraded)
	}
}

func serverOptions(cfg *config.Config) []server.Option {
	var opts []server.Option
	if !cfg.Health.Enabled {
		opts = append(opts, server.WithoutHealth())
	}
	if cfg.Debug.PprofEnabled {
		opts = append(opts, server.WithProfiler())
	}
	if cfg.Server.AdminToken != "" {
		opts = append(opts, server.WithAdminToken(cfg.Server.AdminToken))
	}
	return opts
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and refresh scheduler",
	Long: `Start the HTTP API, the refresh scheduler and the score aggregator.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload the config file and re-apply refresh.enabled

On shutdown the HTTP server is stopped first, then pending score updates are
flushed, timers are cancelled and the store is closed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := loadConfig(ctx)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
		}

		logLevel := cfg.Logging.Level
		if cfg.Debug.Enabled {
			logLevel = "debug"
		}
		observability.InitServerLogger(config.AppName, logLevel, config.AppName)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = observability.DefaultMetricsPort
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, metricsPort, config.AppName); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		db, err := openStore(ctx, cfg)
		if err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "failed to open store")
		}

		rt, err := newArena(ctx, cfg, db, logger)
		if err != nil {
			_ = db.Close()
			return errwrap.WrapConfigInvalid(ctx, err, "failed to build arena runtime")
		}

		rt.aggregator.Attach(rt.coordinator)
		startedAt := time.Now().UTC()
		metrics.SetServerStartTime(startedAt.Unix())
		sampler := &metrics.Sampler{
			Schedule:  rt.coordinator,
			Entities:  rt.aggregator,
			StartedAt: startedAt,
			Logger:    logger,
		}
		sampler.Attach(rt.coordinator)

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.Int("entities", len(cfg.Entities)),
			zap.Bool("refresh_enabled", cfg.Refresh.Enabled))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("store", handlers.CheckerFunc(db.CheckHealth))
		hm.RegisterChecker("entities", entitiesChecker(rt.aggregator))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		handlers.SetBuildInfo(handlers.BuildInfo{
			Name:      config.AppName,
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
			StartedAt: startedAt,
		})

		srv := server.New(cfg.Server.Host, cfg.Server.Port, &handlers.API{
			Arena:     rt.aggregator,
			Scheduler: rt.coordinator,
			Limits:    db,
			Resetter:  rt.fetcher,
			Logger:    logger,
		}, serverOptions(cfg)...)
		srv.SetTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run in LIFO order.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		if cfg.Metrics.Enabled {
			signals.OnShutdown(func(ctx context.Context) error {
				if err := observability.StopMetrics(); err != nil {
					logger.Warn("Metrics exporter stop failed", zap.Error(err))
				}
				return nil
			})
		}

		signals.OnShutdown(func(ctx context.Context) error {
			if err := db.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "store close failed")
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping scheduler and flushing pending scores...")
			flushCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := rt.close(flushCtx); err != nil {
				logger.Warn("Final score flush failed", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if isConfigNotFound(err) {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			enabled := viper.GetBool("refresh.enabled")
			rt.coordinator.SetEnabled(enabled)
			logger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Bool("refresh_enabled", enabled))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		rt.coordinator.Start(ctx)
		if cfg.Refresh.Enabled {
			go rt.aggregator.Refresh(ctx, true)
		} else {
			rt.coordinator.SetEnabled(false)
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
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
