package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/observability"
)

func TestOrNopReturnsUsableLogger(t *testing.T) {
	logger := observability.OrNop(nil)
	require.NotNil(t, logger)
	logger.Info("discarded", zap.String("entity", "alpha"))

	dev := zap.NewNop()
	require.Equal(t, observability.Logger(dev), observability.OrNop(dev))
}

func TestComponentLoggerPrefersServerLogger(t *testing.T) {
	prevCLI, prevServer := observability.CLILogger, observability.ServerLogger
	t.Cleanup(func() {
		observability.CLILogger = prevCLI
		observability.ServerLogger = prevServer
	})

	observability.CLILogger = nil
	observability.ServerLogger = nil
	require.NotNil(t, observability.ComponentLogger())

	observability.InitCLILogger("arenawatch-test", true)
	require.NotNil(t, observability.CLILogger)
	require.Equal(t, observability.Logger(observability.CLILogger), observability.ComponentLogger())

	observability.InitServerLogger("arenawatch-test", "debug", "arenawatch")
	require.NotNil(t, observability.ServerLogger)
	require.Equal(t, observability.Logger(observability.ServerLogger), observability.ComponentLogger())

	observability.ComponentLogger().Info("Structured log message",
		zap.String("component", "test"))
}

func TestEmbeddedCrucibleVersion(t *testing.T) {
	version := crucible.GetVersion()
	require.NotEmpty(t, version.Gofulmen)
	require.NotEmpty(t, version.Crucible)
}
