package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/arenawatch/arenawatch/internal/errors"
	"github.com/arenawatch/arenawatch/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify version info, configuration, the entity roster and the store before starting the server.",
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			// Can't log if logger is nil, so use stderr
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			logger.Error("❌ FAIL: Version information missing")
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		logger.Info("✅ Version information available")

		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			logger.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		logger.Info("✅ Configuration loaded")

		if len(cfg.Entities) == 0 {
			logger.Warn("⚠️  No entities configured")
		} else {
			logger.Info("✅ Entity roster loaded", zap.Int("entities", len(cfg.Entities)))
		}

		db, err := openStore(ctx, cfg)
		if err != nil {
			logger.Error("❌ FAIL: Store unavailable")
			ExitWithCode(logger, foundry.ExitFailure, "Store unavailable", err)
			return
		}
		defer func() { _ = db.Close() }()
		if err := db.CheckHealth(ctx); err != nil {
			logger.Error("❌ FAIL: Store ping failed")
			ExitWithCode(logger, foundry.ExitFailure, "Store ping failed", err)
			return
		}
		logger.Info("✅ Store reachable")

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
