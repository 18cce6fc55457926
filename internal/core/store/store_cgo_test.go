//go:build cgo

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/config"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "libsql", s.Driver())
	assert.NoError(t, s.CheckHealth(ctx))
	require.NoError(t, s.Close())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	assert.ErrorContains(t, err, "unsupported store driver")
}

func TestOpenLocalStoreTunesSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Path: "file:" + t.TempDir() + "/arenawatch.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, 1, s.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, localBusyTimeoutMs, busyTimeout)
}
