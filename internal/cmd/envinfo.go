package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/config"
	"github.com/arenawatch/arenawatch/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== ArenaWatch Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + config.AppName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			observability.CLILogger.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			observability.CLILogger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Refresh:")
		observability.CLILogger.Info(fmt.Sprintf("  Enabled:          %t", cfg.Refresh.Enabled), zap.Bool("refresh_enabled", cfg.Refresh.Enabled))
		topics := make([]string, 0, len(cfg.Refresh.Intervals))
		for topic := range cfg.Refresh.Intervals {
			topics = append(topics, topic)
		}
		sort.Strings(topics)
		for _, topic := range topics {
			observability.CLILogger.Info(fmt.Sprintf("  %-16s  %s", topic+":", cfg.Refresh.Intervals[topic]))
		}
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Fetch:")
		observability.CLILogger.Info("  Bulk Interval:    " + cfg.Fetch.BulkInterval.String())
		observability.CLILogger.Info("  Single Interval:  " + cfg.Fetch.SingleInterval.String())
		observability.CLILogger.Info("  Probe Timeout:    " + cfg.Fetch.ProbeTimeout.String())
		observability.CLILogger.Info("  Challenge Timeout: " + cfg.Fetch.ChallengeTimeout.String())
		observability.CLILogger.Info(fmt.Sprintf("  Persist Gates:    %t", cfg.Fetch.PersistGates))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Aggregate:")
		observability.CLILogger.Info("  Min Spacing:      " + cfg.Aggregate.MinSpacing.String())
		observability.CLILogger.Info("  Widened Spacing:  " + cfg.Aggregate.WidenedSpacing.String())
		observability.CLILogger.Info(fmt.Sprintf("  Failure Threshold: %d", cfg.Aggregate.FailureThreshold))
		observability.CLILogger.Info("  Flush Window:     " + cfg.Aggregate.FlushWindow.String())
		observability.CLILogger.Info(fmt.Sprintf("  History Limit:    %d", cfg.Aggregate.HistoryLimit))
		observability.CLILogger.Info(fmt.Sprintf("  Concurrency:      %d", cfg.Aggregate.Concurrency))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Remote:")
		observability.CLILogger.Info("  Base URL:         "+cfg.Remote.BaseURL, zap.String("remote_base_url", cfg.Remote.BaseURL))
		observability.CLILogger.Info(fmt.Sprintf("  Requests/sec:     %g (burst %d)", cfg.Remote.RequestsPerSecond, cfg.Remote.Burst))
		observability.CLILogger.Info(fmt.Sprintf("  Entities:         %d", len(cfg.Entities)), zap.Int("entities", len(cfg.Entities)))
		if strings.TrimSpace(cfg.EntitiesFile) != "" {
			observability.CLILogger.Info("  Entities File:    " + cfg.EntitiesFile)
		}
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
