package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/core"
)

func TestGateMinimumInterval(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := &Gate{
		Store: NewMemoryGateStore(),
		Clock: func() time.Time { return now },
	}

	decision, err := gate.Allow(context.Background(), "alpha", core.FetchKindBulk)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	now = now.Add(2 * time.Second)
	decision, err = gate.Allow(context.Background(), "alpha", core.FetchKindBulk)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, 8*time.Second, decision.Wait)

	now = now.Add(9 * time.Second)
	decision, err = gate.Allow(context.Background(), "alpha", core.FetchKindBulk)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestGateBoundaryIsInclusive(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := &Gate{Store: NewMemoryGateStore(), Clock: func() time.Time { return now }}

	decision, err := gate.Allow(context.Background(), "alpha", core.FetchKindSingle)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	now = now.Add(10*time.Second - time.Millisecond)
	decision, err = gate.Allow(context.Background(), "alpha", core.FetchKindSingle)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	now = now.Add(time.Millisecond)
	decision, err = gate.Allow(context.Background(), "alpha", core.FetchKindSingle)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestGateKindsAndEntitiesAreIndependent(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := &Gate{Store: NewMemoryGateStore(), Clock: func() time.Time { return now }}
	ctx := context.Background()

	for _, call := range []struct {
		entity string
		kind   core.FetchKind
	}{
		{"alpha", core.FetchKindBulk},
		{"alpha", core.FetchKindSingle},
		{"beta", core.FetchKindBulk},
	} {
		decision, err := gate.Allow(ctx, call.entity, call.kind)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "%s/%s", call.entity, call.kind)
	}

	decision, err := gate.Allow(ctx, "alpha", core.FetchKindBulk)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
}

func TestGateRejectedCallsDoNotExtendWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := &Gate{Store: NewMemoryGateStore(), Clock: func() time.Time { return now }}
	ctx := context.Background()

	_, err := gate.Allow(ctx, "alpha", core.FetchKindBulk)
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		now = now.Add(time.Second)
		decision, err := gate.Allow(ctx, "alpha", core.FetchKindBulk)
		require.NoError(t, err)
		require.False(t, decision.Allowed)
	}

	now = now.Add(time.Second)
	decision, err := gate.Allow(ctx, "alpha", core.FetchKindBulk)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestGateConcurrentCallersAdmitOne(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := &Gate{Store: NewMemoryGateStore(), Clock: func() time.Time { return now }}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := gate.Allow(context.Background(), "alpha", core.FetchKindBulk)
			if err == nil && decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, allowed)
}

func TestGateOverridesAndReset(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := &Gate{Store: NewMemoryGateStore(), Clock: func() time.Time { return now }}
	gate.ApplyOverrides(map[core.FetchKind]time.Duration{
		core.FetchKindSingle: 3 * time.Second,
		core.FetchKindBulk:   0,
	})
	require.Equal(t, 3*time.Second, gate.Interval(core.FetchKindSingle))
	require.Equal(t, 10*time.Second, gate.Interval(core.FetchKindBulk))

	ctx := context.Background()
	_, err := gate.Allow(ctx, "alpha", core.FetchKindSingle)
	require.NoError(t, err)

	require.NoError(t, gate.Reset(ctx))
	decision, err := gate.Allow(ctx, "alpha", core.FetchKindSingle)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}
