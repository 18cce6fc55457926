//go:build cgo

package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/config"
	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/store"
)

func newEntityServer(t *testing.T) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/{id}/ping", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"player":    chi.URLParam(req, "id"),
			"status":    "ok",
			"latencyMs": 12,
		})
	})
	r.Post("/{id}/challenge", func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"winner":     chi.URLParam(req, "id"),
			"loser":      "b",
			"durationMs": 40,
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestArena(t *testing.T, baseURL string, persistGates bool) (*arena, *store.Store) {
	t.Helper()

	ctx := context.Background()
	cfg := &config.Config{
		Store: config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/arenawatch.db"},
		Fetch: config.FetchConfig{
			BulkInterval:     time.Minute,
			SingleInterval:   time.Minute,
			ProbeTimeout:     2 * time.Second,
			ChallengeTimeout: 2 * time.Second,
			PersistGates:     persistGates,
		},
		Aggregate: config.AggregateConfig{FlushWindow: time.Hour},
		Remote:    config.RemoteConfig{BaseURL: baseURL},
		Entities: []core.EntityConfig{
			{ID: "a", Name: "Alpha"},
			{ID: "b", Name: "Bravo"},
		},
	}

	db, err := openStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rt, err := newArena(ctx, cfg, db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.close(context.Background()) })
	return rt, db
}

func TestArenaRefreshFetchesEntities(t *testing.T) {
	srv := newEntityServer(t)
	rt, db := newTestArena(t, srv.URL, true)
	ctx := context.Background()

	report := rt.aggregator.Refresh(ctx, true)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Entities)

	records := rt.aggregator.Entities()
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, core.StatusHealthy, record.Status)
		assert.False(t, record.RateLimited)
	}

	snapshot, err := db.GetSnapshot(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, core.StatusHealthy, snapshot.Status)

	entries, err := db.ListRateLimits(ctx, store.RateLimitQuery{All: true})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestArenaSecondRefreshIsRateLimited(t *testing.T) {
	srv := newEntityServer(t)
	rt, _ := newTestArena(t, srv.URL, false)
	ctx := context.Background()

	rt.aggregator.Refresh(ctx, true)
	rt.aggregator.Refresh(ctx, true)

	for _, record := range rt.aggregator.Entities() {
		assert.Equal(t, core.StatusHealthy, record.Status, record.EntityID)
		assert.True(t, record.RateLimited, record.EntityID)
		assert.True(t, record.Cached, record.EntityID)
	}
}

func TestArenaChallengeFlushesScores(t *testing.T) {
	srv := newEntityServer(t)
	rt, db := newTestArena(t, srv.URL, true)
	ctx := context.Background()

	match, err := rt.aggregator.Challenge(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "a", match.Winner)

	require.NoError(t, rt.close(ctx))

	scores, err := db.ListScores(ctx)
	require.NoError(t, err)
	byID := make(map[string]core.ScoreAggregate, len(scores))
	for _, score := range scores {
		byID[score.EntityID] = score
	}
	assert.Equal(t, 1, byID["a"].Wins)
	assert.Equal(t, 1, byID["b"].Losses)

	matches, err := db.ListMatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, match.ID, matches[0].ID)
}

func TestNewArenaRequiresEntities(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Store: config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/arenawatch.db"},
	}
	db, err := openStore(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = newArena(ctx, cfg, db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entities configured")
}
