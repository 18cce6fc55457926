package cmd

import (
	"os"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/config"
	"github.com/arenawatch/arenawatch/internal/observability"
)

var (
	cfgFile string
	verbose bool

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
)

// SetVersionInfo records the build identity injected into main via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Poll a roster of remote entities and keep score of their challenges",
	Long: `arenawatch polls a roster of remote entities on a schedule, caches their
last known-good state, rate limits every outbound call per entity and keeps
running score aggregates for challenges between them.

Run "arenawatch serve" for the long-running API, or the one-shot commands
(status, ping, challenge, scores, history, rate-limit) against the same store.`,
	SilenceUsage: true,
}

// Execute runs the command tree. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Loading config must not print metrics to stdout; serve installs the
	// real telemetry system later.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+config.AppName+"/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
}

// configSource says where viper should look for the config file.
type configSource struct {
	file  string
	name  string
	paths []string
}

// resolveConfigSource prefers an explicit file, then the XDG config dir, then
// a dotfile in home. ./config is always searched last.
func resolveConfigSource(explicit, xdgDir string, home func() (string, error)) (configSource, error) {
	if explicit != "" {
		return configSource{file: explicit}, nil
	}
	if xdgDir != "" {
		return configSource{name: "config", paths: []string{xdgDir, "./config"}}, nil
	}
	dir, err := home()
	if err != nil {
		return configSource{}, err
	}
	return configSource{name: "." + config.AppName, paths: []string{dir, "./config"}}, nil
}

func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)
	logger := observability.CLILogger

	xdgDir := gfconfig.GetAppConfigDir(config.AppName)
	if xdgDir == "" && verbose {
		logger.Warn("Could not resolve XDG config directory, falling back to home directory")
	}
	source, err := resolveConfigSource(cfgFile, xdgDir, os.UserHomeDir)
	if err != nil {
		ExitWithCode(logger, foundry.ExitFileNotFound, "Could not find home directory", err)
	}

	if source.file != "" {
		viper.SetConfigFile(source.file)
	} else {
		viper.SetConfigName(source.name)
		viper.SetConfigType("yaml")
		for _, path := range source.paths {
			viper.AddConfigPath(path)
		}
	}

	// config.Load applies the typed env overrides; AutomaticEnv covers the
	// few direct viper.Get lookups.
	viper.SetEnvPrefix(config.AppName)
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	switch {
	case err == nil:
		if verbose {
			logger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
		}
	case !verbose:
	case isConfigNotFound(err):
		logger.Debug("No config file found, using defaults and environment variables")
	default:
		logger.Warn("Error reading config file", zap.Error(err))
	}

	config.SetDefaults(viper.GetViper())
}

func isConfigNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}
