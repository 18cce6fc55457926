//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/config"
	"github.com/arenawatch/arenawatch/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{
		Driver: "libsql",
		Path:   "file:" + t.TempDir() + "/arenawatch.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	missing, err := store.GetSnapshot(ctx, "alpha")
	require.NoError(t, err)
	require.Nil(t, missing)

	latency := 42
	seen := time.Date(2026, 3, 1, 12, 0, 0, 123_000_000, time.UTC)
	require.NoError(t, store.SetSnapshot(ctx, core.EntitySnapshot{
		EntityID:  "alpha",
		Name:      "Alpha",
		Status:    core.StatusHealthy,
		LatencyMs: &latency,
		LastSeen:  &seen,
	}))

	got, err := store.GetSnapshot(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Alpha", got.Name)
	require.Equal(t, core.StatusHealthy, got.Status)
	require.Equal(t, 42, *got.LatencyMs)
	require.True(t, seen.Equal(*got.LastSeen))

	require.NoError(t, store.SetSnapshot(ctx, core.EntitySnapshot{
		EntityID: "alpha",
		Name:     "Alpha",
		Status:   core.StatusHealthy,
	}))
	got, err = store.GetSnapshot(ctx, "alpha")
	require.NoError(t, err)
	require.Nil(t, got.LatencyMs)
}

func TestMigrateTwiceKeepsErrorColumn(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.Migrate(ctx))

	require.NoError(t, store.SetSnapshot(ctx, core.EntitySnapshot{
		EntityID: "beta",
		Name:     "Beta",
		Status:   core.StatusError,
		Error:    "connection refused",
	}))

	got, err := store.GetSnapshot(ctx, "beta")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "connection refused", got.Error)
}

func TestScoresUpsert(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.SaveScores(ctx, []core.ScoreAggregate{
		{EntityID: "b", Wins: 1, Challenges: 1, AvgLatencyMs: 100},
		{EntityID: "a", Losses: 1, Challenges: 1, AvgLatencyMs: 100},
	}))
	require.NoError(t, store.SaveScores(ctx, []core.ScoreAggregate{
		{EntityID: "a", Wins: 1, Losses: 1, Challenges: 2, AvgLatencyMs: 150.5},
	}))

	scores, err := store.ListScores(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	require.Equal(t, "a", scores[0].EntityID)
	require.Equal(t, 2, scores[0].Challenges)
	require.InDelta(t, 150.5, scores[0].AvgLatencyMs, 0.001)
	require.Equal(t, "b", scores[1].EntityID)
}

func TestMatchHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, store.AppendMatch(ctx, core.MatchRecord{
			ID:         id,
			Challenger: "a",
			Opponent:   "b",
			Winner:     "a",
			Loser:      "b",
			DurationMs: 10 * (i + 1),
			PlayedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
	// duplicate ids are ignored
	require.NoError(t, store.AppendMatch(ctx, core.MatchRecord{ID: "m1", Winner: "b", Loser: "a", PlayedAt: base}))

	all, err := store.ListMatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "m3", all[0].ID)
	require.Equal(t, "m1", all[2].ID)
	require.Equal(t, "a", all[2].Winner)

	limited, err := store.ListMatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, 30, limited[0].DurationMs)
}

func TestGateStateAndAdmin(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	key := core.GateKey{EntityID: "alpha", Kind: core.FetchKindBulk}
	state, err := store.GetGate(ctx, key)
	require.NoError(t, err)
	require.Nil(t, state)

	at := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	require.NoError(t, store.UpdateGate(ctx, key, &core.GateState{LastAllowedAt: at}))
	require.NoError(t, store.UpdateGate(ctx, core.GateKey{EntityID: "alpha", Kind: core.FetchKindSingle}, &core.GateState{LastAllowedAt: at}))
	require.NoError(t, store.UpdateGate(ctx, core.GateKey{EntityID: "beta", Kind: core.FetchKindBulk}, &core.GateState{LastAllowedAt: at}))

	state, err = store.GetGate(ctx, key)
	require.NoError(t, err)
	require.True(t, at.Equal(state.LastAllowedAt))

	_, err = store.ListRateLimits(ctx, RateLimitQuery{})
	require.Error(t, err)

	entries, err := store.ListRateLimits(ctx, RateLimitQuery{EntityID: "alpha"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "alpha-bulk", entries[0].Key.String())

	count, err := store.CountRateLimits(ctx, RateLimitQuery{Kind: "bulk"})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	removed, err := store.ResetRateLimits(ctx, RateLimitQuery{EntityID: "beta"})
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	require.NoError(t, store.ResetGates(ctx))
	count, err = store.CountRateLimits(ctx, RateLimitQuery{All: true})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRateLimitEventsTrimmed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < core.MaxRateLimitEvents+5; i++ {
		require.NoError(t, store.AppendRateLimitEvent(ctx, core.RateLimitEvent{
			EntityID: "alpha",
			Kind:     core.FetchKindBulk,
			Action:   core.RateLimitAllowed,
			At:       base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := store.ListRateLimitEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, core.MaxRateLimitEvents)
	require.True(t, base.Add(time.Duration(core.MaxRateLimitEvents+4)*time.Second).Equal(events[0].At))

	require.NoError(t, store.ClearRateLimitEvents(ctx))
	events, err = store.ListRateLimitEvents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}
