package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arenawatch/arenawatch/internal/config"
	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/aggregate"
	"github.com/arenawatch/arenawatch/internal/core/engine"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/core/store"
	"github.com/arenawatch/arenawatch/internal/observability"
	"github.com/arenawatch/arenawatch/internal/remote"
)

// arena bundles the components shared by serve and the one-shot commands.
type arena struct {
	cfg         *config.Config
	store       *store.Store
	gate        *engine.Gate
	fetcher     *engine.Fetcher
	coordinator *refresh.Coordinator
	aggregator  *aggregate.Aggregator
}

// newArena wires the fetch pipeline on top of an open store. The coordinator
// is created stopped.
func newArena(ctx context.Context, cfg *config.Config, db *store.Store, logger observability.Logger) (*arena, error) {
	if len(cfg.Entities) == 0 {
		return nil, errors.New("no entities configured: set entities or entities_file")
	}

	var gateStore engine.GateStore = engine.NewMemoryGateStore()
	if cfg.Fetch.PersistGates {
		gateStore = db
	}
	gate := &engine.Gate{Store: gateStore}
	gate.ApplyOverrides(map[core.FetchKind]time.Duration{
		core.FetchKindBulk:   cfg.Fetch.BulkInterval,
		core.FetchKindSingle: cfg.Fetch.SingleInterval,
	})

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Entities, cfg.Remote.RequestsPerSecond, cfg.Remote.Burst)
	client.Logger = logger

	fetcher := &engine.Fetcher{
		Source:           client,
		Gate:             gate,
		Cache:            db,
		Events:           db,
		ProbeTimeout:     cfg.Fetch.ProbeTimeout,
		ChallengeTimeout: cfg.Fetch.ChallengeTimeout,
		Logger:           logger,
	}

	coordinator := refresh.New(refresh.Options{
		Intervals: cfg.Refresh.Intervals,
		Logger:    logger,
	})

	agg := aggregate.New(aggregate.Options{
		Entities:         cfg.Entities,
		Fetcher:          fetcher,
		Reporter:         coordinator,
		Scores:           db,
		History:          db,
		Logger:           logger,
		MinSpacing:       cfg.Aggregate.MinSpacing,
		WidenedSpacing:   cfg.Aggregate.WidenedSpacing,
		FailureThreshold: cfg.Aggregate.FailureThreshold,
		FlushWindow:      cfg.Aggregate.FlushWindow,
		HistoryLimit:     cfg.Aggregate.HistoryLimit,
		FetchConcurrency: cfg.Aggregate.Concurrency,
	})
	if err := agg.Load(ctx); err != nil {
		return nil, fmt.Errorf("restore state: %w", err)
	}

	return &arena{
		cfg:         cfg,
		store:       db,
		gate:        gate,
		fetcher:     fetcher,
		coordinator: coordinator,
		aggregator:  agg,
	}, nil
}

// close flushes pending score updates and stops the coordinator. The store
// is left open for the caller.
func (a *arena) close(ctx context.Context) error {
	a.coordinator.Stop()
	return a.aggregator.Close(ctx)
}
