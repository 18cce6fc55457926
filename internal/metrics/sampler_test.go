package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/clock"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
)

type staticEntities []core.EntityRecord

func (s staticEntities) Entities() []core.EntityRecord { return s }

func TestSamplerCountsStates(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entities := staticEntities{
		{EntitySnapshot: core.EntitySnapshot{EntityID: "a", Status: core.StatusHealthy}},
		{EntitySnapshot: core.EntitySnapshot{EntityID: "b", Status: core.StatusHealthy}, RateLimited: true, Cached: true},
		{EntitySnapshot: core.EntitySnapshot{EntityID: "c", Status: core.StatusUnknown}, RateLimited: true},
		{EntitySnapshot: core.EntitySnapshot{EntityID: "d", Status: core.StatusError}},
	}

	sampler := &Sampler{Entities: entities, Clock: func() time.Time { return now }}
	sample, err := sampler.Sample(context.Background())
	require.NoError(t, err)
	require.Equal(t, now, sample.At)
	require.Equal(t, map[string]int{
		"healthy":      1,
		"cached":       1,
		"rate_limited": 1,
		"error":        1,
		"unknown":      0,
	}, sample.Counts)
}

func TestSamplerRejectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Sampler{}).Sample(ctx)
	require.Error(t, err)
}

func TestSamplerAttachRunsOnMetricsTopic(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	coordinator := refresh.New(refresh.Options{Clock: clk})
	coordinator.Start(context.Background())
	t.Cleanup(coordinator.Stop)

	entities := staticEntities{{EntitySnapshot: core.EntitySnapshot{EntityID: "a", Status: core.StatusHealthy}}}
	sampler := &Sampler{Schedule: coordinator, Entities: entities, Clock: clk.Now}
	unsubscribe := sampler.Attach(coordinator)

	status, ok := coordinator.Status().Topic(refresh.TopicMetrics)
	require.True(t, ok)
	require.True(t, status.Active)

	clk.Advance(30 * time.Second)
	status, _ = coordinator.Status().Topic(refresh.TopicMetrics)
	require.NotNil(t, status.LastRefresh)
	require.Equal(t, 1, status.BackoffFactor)

	unsubscribe()
	status, _ = coordinator.Status().Topic(refresh.TopicMetrics)
	require.False(t, status.Active)
}
