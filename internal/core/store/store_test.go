package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/config"
)

func TestResolveDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		cfg   config.StoreConfig
		dsn   string
		local bool
	}{
		{
			name: "remote url gains token",
			cfg:  config.StoreConfig{URL: "libsql://arena.turso.io", AuthToken: "tok"},
			dsn:  "libsql://arena.turso.io?authToken=tok",
		},
		{
			name: "existing query is kept",
			cfg:  config.StoreConfig{URL: "libsql://arena.turso.io?tls=1", AuthToken: "tok"},
			dsn:  "libsql://arena.turso.io?authToken=tok&tls=1",
		},
		{
			name: "explicit token in url wins",
			cfg:  config.StoreConfig{URL: "libsql://arena.turso.io?authToken=mine", AuthToken: "tok"},
			dsn:  "libsql://arena.turso.io?authToken=mine",
		},
		{
			name: "memory",
			cfg:  config.StoreConfig{Path: ":memory:"},
			dsn:  ":memory:",
		},
		{
			name:  "file prefix kept",
			cfg:   config.StoreConfig{Path: "file:" + filepath.Join(dir, "a", "arena.db")},
			dsn:   "file:" + filepath.Join(dir, "a", "arena.db"),
			local: true,
		},
		{
			name:  "bare path",
			cfg:   config.StoreConfig{Path: filepath.Join(dir, "b", "arena.db")},
			dsn:   "file:" + filepath.Join(dir, "b", "arena.db"),
			local: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := resolveDSN(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.dsn, target.dsn)
			assert.Equal(t, tt.local, target.local)
		})
	}

	assert.DirExists(t, filepath.Join(dir, "a"))
	assert.DirExists(t, filepath.Join(dir, "b"))
}

func TestResolveDSNRequiresTarget(t *testing.T) {
	_, err := resolveDSN(config.StoreConfig{})
	assert.Error(t, err)
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.Empty(t, s.Driver())
	assert.Error(t, s.CheckHealth(t.Context()))
}

func TestRateLimitQueryFilter(t *testing.T) {
	where, args, err := RateLimitQuery{All: true, EntityID: "ignored"}.filter()
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args, err = RateLimitQuery{EntityID: " alpha ", Kind: "single"}.filter()
	require.NoError(t, err)
	assert.Equal(t, " WHERE entity_id = ? AND kind = ?", where)
	assert.Equal(t, []any{"alpha", "single"}, args)

	_, _, err = RateLimitQuery{}.filter()
	assert.ErrorIs(t, err, errEmptySelector)

	assert.ErrorContains(t, RateLimitQuery{Kind: "weekly"}.Validate(), "unknown kind")
}
