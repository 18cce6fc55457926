package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/metrics"
	"github.com/arenawatch/arenawatch/internal/observability"
)

const (
	// DefaultProbeTimeout bounds a single status fetch.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultChallengeTimeout bounds a challenge call.
	DefaultChallengeTimeout = 8 * time.Second
)

// EntitySource performs the remote calls against entities.
type EntitySource interface {
	FetchEntityStatus(ctx context.Context, entityID string) (core.EntitySnapshot, error)
	FetchChallengeResult(ctx context.Context, challengerID, opponentID string) (core.ChallengeOutcome, error)
}

// SnapshotStore holds the last known-good snapshot per entity.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, entityID string) (*core.EntitySnapshot, error)
	SetSnapshot(ctx context.Context, snapshot core.EntitySnapshot) error
}

// EventLog records gate decisions for diagnostics.
type EventLog interface {
	AppendRateLimitEvent(ctx context.Context, event core.RateLimitEvent) error
	ClearRateLimitEvents(ctx context.Context) error
}

// Fetcher wraps entity calls with the gate and the snapshot cache.
type Fetcher struct {
	Source           EntitySource
	Gate             *Gate
	Cache            SnapshotStore
	Events           EventLog
	ProbeTimeout     time.Duration
	ChallengeTimeout time.Duration
	Clock            func() time.Time
	Logger           observability.Logger
}

// Acquire checks the gate for (entityID, kind).
func (f *Fetcher) Acquire(ctx context.Context, entityID string, kind core.FetchKind) (bool, error) {
	decision, err := f.Gate.Allow(ctx, entityID, kind)
	if err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", entityID, err)
	}

	action := core.RateLimitAllowed
	if !decision.Allowed {
		action = core.RateLimitBlocked
		f.logger().Debug("Fetch rate limited",
			zap.String("entity", entityID),
			zap.String("kind", string(kind)),
			zap.Duration("wait", decision.Wait))
	}
	metrics.RecordRateLimitDecision(string(kind), decision.Allowed)

	if f.Events != nil {
		event := core.RateLimitEvent{EntityID: entityID, Kind: kind, Action: action, At: f.now()}
		if err := f.Events.AppendRateLimitEvent(ctx, event); err != nil {
			f.logger().Warn("Failed to record rate limit event",
				zap.String("entity", entityID),
				zap.Error(err))
		}
	}

	return decision.Allowed, nil
}

// RecordSuccess stores snapshot as the entity's last known-good state.
func (f *Fetcher) RecordSuccess(ctx context.Context, snapshot core.EntitySnapshot) error {
	if f.Cache == nil {
		return nil
	}
	if err := f.Cache.SetSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("cache snapshot for %s: %w", snapshot.EntityID, err)
	}
	return nil
}

// Fallback returns the cached snapshot tagged rate limited and cached, or a
// synthetic unknown record without latency when nothing is cached.
func (f *Fetcher) Fallback(ctx context.Context, entity core.EntityConfig, kind core.FetchKind) core.EntityRecord {
	if cached := f.cached(ctx, entity.ID); cached != nil {
		return core.EntityRecord{
			EntitySnapshot: *cached,
			RateLimited:    true,
			Cached:         true,
			UpdatedAt:      f.now(),
		}
	}

	return core.EntityRecord{
		EntitySnapshot: core.EntitySnapshot{
			EntityID: entity.ID,
			Name:     entity.DisplayName(),
			Status:   core.StatusUnknown,
			Error:    fmt.Sprintf("rate limited (max 1 request every %s)", f.Gate.Interval(kind)),
		},
		RateLimited: true,
		UpdatedAt:   f.now(),
	}
}

// FetchEntity runs the gated fetch for one entity. It never returns an
// error: failures are reported on the record.
func (f *Fetcher) FetchEntity(ctx context.Context, entity core.EntityConfig, kind core.FetchKind) core.EntityRecord {
	if ctx == nil {
		ctx = context.Background()
	}

	allowed, err := f.Acquire(ctx, entity.ID, kind)
	if err != nil {
		metrics.RecordFetch(string(kind), "error")
		return f.failure(ctx, entity, err)
	}
	if !allowed {
		metrics.RecordFetch(string(kind), "rate_limited")
		return f.Fallback(ctx, entity, kind)
	}

	timeout := f.probeTimeout()
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snapshot, err := f.Source.FetchEntityStatus(fetchCtx, entity.ID)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("probe timed out after %s: %w", timeout, err)
		}
		metrics.RecordFetch(string(kind), "error")
		return f.failure(ctx, entity, err)
	}

	snapshot.EntityID = entity.ID
	if strings.TrimSpace(snapshot.Name) == "" {
		snapshot.Name = entity.DisplayName()
	}

	switch snapshot.Status {
	case core.StatusHealthy:
	case core.StatusError, core.StatusUnknown, core.StatusRateLimited, core.StatusCached:
		message := snapshot.Error
		if message == "" {
			message = fmt.Sprintf("entity reported status %s", snapshot.Status)
		}
		metrics.RecordFetch(string(kind), "error")
		return f.failure(ctx, entity, errors.New(message))
	}

	if snapshot.LastSeen == nil {
		seen := f.now()
		snapshot.LastSeen = &seen
	}
	snapshot.Error = ""

	if err := f.RecordSuccess(ctx, snapshot); err != nil {
		f.logger().Warn("Failed to update snapshot cache",
			zap.String("entity", entity.ID),
			zap.Error(err))
	}

	metrics.RecordFetch(string(kind), "success")
	return core.EntityRecord{EntitySnapshot: snapshot, UpdatedAt: f.now()}
}

// Ping fetches one entity using the single-probe gate.
func (f *Fetcher) Ping(ctx context.Context, entity core.EntityConfig) core.EntityRecord {
	return f.FetchEntity(ctx, entity, core.FetchKindSingle)
}

// Challenge runs a challenge between two entities. Timeouts are reported as
// core.ErrChallengeTimeout and upstream refusals as *core.CircuitBreakerError.
// Failed challenges are never retried.
func (f *Fetcher) Challenge(ctx context.Context, challengerID, opponentID string) (core.ChallengeOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := f.ChallengeTimeout
	if timeout <= 0 {
		timeout = DefaultChallengeTimeout
	}
	challengeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := f.Source.FetchChallengeResult(challengeCtx, challengerID, opponentID)
	if err != nil {
		switch {
		case core.IsCircuitBreaker(err):
			metrics.RecordChallenge("circuit_breaker")
			return core.ChallengeOutcome{}, err
		case errors.Is(err, core.ErrChallengeTimeout),
			errors.Is(challengeCtx.Err(), context.DeadlineExceeded):
			metrics.RecordChallenge("timeout")
			return core.ChallengeOutcome{}, fmt.Errorf("%w: %s vs %s after %s", core.ErrChallengeTimeout, challengerID, opponentID, timeout)
		default:
			metrics.RecordChallenge("error")
			return core.ChallengeOutcome{}, fmt.Errorf("challenge %s vs %s: %w", challengerID, opponentID, err)
		}
	}

	if strings.TrimSpace(outcome.Winner) == "" || strings.TrimSpace(outcome.Loser) == "" {
		metrics.RecordChallenge("error")
		return core.ChallengeOutcome{}, fmt.Errorf("challenge %s vs %s: %w", challengerID, opponentID, core.ErrInvalidOutcome)
	}

	metrics.RecordChallenge("success")
	return outcome, nil
}

// ResetLimits clears gate state and the rate limit event log.
func (f *Fetcher) ResetLimits(ctx context.Context) error {
	if err := f.Gate.Reset(ctx); err != nil {
		return fmt.Errorf("reset rate limits: %w", err)
	}
	if f.Events != nil {
		if err := f.Events.ClearRateLimitEvents(ctx); err != nil {
			return fmt.Errorf("clear rate limit events: %w", err)
		}
	}
	return nil
}

// failure builds an error record. The cached LastSeen is carried over so
// callers can tell when the entity last answered; no cached data is shown.
func (f *Fetcher) failure(ctx context.Context, entity core.EntityConfig, err error) core.EntityRecord {
	f.logger().Debug("Entity fetch failed",
		zap.String("entity", entity.ID),
		zap.Error(err))

	record := core.EntityRecord{
		EntitySnapshot: core.EntitySnapshot{
			EntityID: entity.ID,
			Name:     entity.DisplayName(),
			Status:   core.StatusError,
			Error:    err.Error(),
		},
		UpdatedAt: f.now(),
	}
	if cached := f.cached(ctx, entity.ID); cached != nil {
		record.LastSeen = cached.LastSeen
	}
	return record
}

func (f *Fetcher) cached(ctx context.Context, entityID string) *core.EntitySnapshot {
	if f.Cache == nil {
		return nil
	}
	cached, err := f.Cache.GetSnapshot(ctx, entityID)
	if err != nil {
		f.logger().Warn("Failed to read snapshot cache",
			zap.String("entity", entityID),
			zap.Error(err))
		return nil
	}
	return cached
}

func (f *Fetcher) probeTimeout() time.Duration {
	if f.ProbeTimeout > 0 {
		return f.ProbeTimeout
	}
	return DefaultProbeTimeout
}

func (f *Fetcher) logger() observability.Logger {
	return observability.OrNop(f.Logger)
}

func (f *Fetcher) now() time.Time {
	if f.Clock != nil {
		return f.Clock()
	}
	return time.Now().UTC()
}
