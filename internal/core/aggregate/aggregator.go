// Package aggregate owns the published entity list, the per-entity score
// aggregates and the challenge history.
//
// Entity records are replaced wholesale once per refresh cycle. Score updates
// from challenges are collected in a pending batch and applied together when
// the flush window closes.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/clock"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/metrics"
	"github.com/arenawatch/arenawatch/internal/observability"
)

const (
	DefaultMinSpacing       = 30 * time.Second
	DefaultWidenedSpacing   = 90 * time.Second
	DefaultFailureThreshold = 2
	DefaultFlushWindow      = 500 * time.Millisecond
	DefaultHistoryLimit     = 50
	DefaultFetchConcurrency = 16

	flushTimeout = 5 * time.Second
)

var (
	// ErrUnknownEntity is returned for ids that are not configured.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrSelfChallenge is returned when an entity is challenged against itself.
	ErrSelfChallenge = errors.New("an entity cannot challenge itself")
)

// EntityFetcher performs gated entity calls.
type EntityFetcher interface {
	FetchEntity(ctx context.Context, entity core.EntityConfig, kind core.FetchKind) core.EntityRecord
	Challenge(ctx context.Context, challengerID, opponentID string) (core.ChallengeOutcome, error)
}

// Reporter receives the outcome of every completed cycle.
type Reporter interface {
	ReportSuccess(topic string)
	ReportError(topic string)
}

// Subscriber registers topic callbacks.
type Subscriber interface {
	Subscribe(topic string, fn refresh.Callback) func()
}

// ScoreStore persists score aggregates.
type ScoreStore interface {
	ListScores(ctx context.Context) ([]core.ScoreAggregate, error)
	SaveScores(ctx context.Context, scores []core.ScoreAggregate) error
}

// HistoryStore persists challenge history.
type HistoryStore interface {
	AppendMatch(ctx context.Context, match core.MatchRecord) error
	ListMatches(ctx context.Context, limit int) ([]core.MatchRecord, error)
}

// Options configures an Aggregator.
type Options struct {
	Entities []core.EntityConfig
	Fetcher  EntityFetcher
	Reporter Reporter
	Scores   ScoreStore
	History  HistoryStore
	Clock    clock.Clock
	Logger   observability.Logger

	MinSpacing       time.Duration
	WidenedSpacing   time.Duration
	FailureThreshold int
	FlushWindow      time.Duration
	HistoryLimit     int
	FetchConcurrency int

	NewID func() string
}

// CycleReport describes one call to Refresh.
type CycleReport struct {
	Skipped             bool      `json:"skipped"`
	Reason              string    `json:"reason,omitempty"`
	Forced              bool      `json:"forced"`
	StartedAt           time.Time `json:"started_at"`
	CompletedAt         time.Time `json:"completed_at,omitempty"`
	Entities            int       `json:"entities"`
	Usable              int       `json:"usable"`
	Success             bool      `json:"success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Aggregator merges fetch cycles and batches score updates.
type Aggregator struct {
	opts     Options
	clock    clock.Clock
	logger   observability.Logger
	entities []core.EntityConfig
	index    map[string]core.EntityConfig

	published atomic.Pointer[[]core.EntityRecord]

	cycleMu       sync.Mutex
	inFlight      bool
	lastCompleted time.Time
	failures      int

	scoreMu    sync.Mutex
	scores     map[string]core.ScoreAggregate
	pending    map[string]core.PendingScoreUpdate
	flushArmed bool
	flushGen   uint64
	flushTimer clock.Timer
	// unsaved holds aggregates whose last SaveScores failed; the next flush
	// writes them again alongside its own batch.
	unsaved map[string]struct{}

	historyMu sync.RWMutex
	history   []core.MatchRecord
}

// New creates an aggregator with an empty published list.
func New(opts Options) *Aggregator {
	if opts.MinSpacing <= 0 {
		opts.MinSpacing = DefaultMinSpacing
	}
	if opts.WidenedSpacing <= 0 {
		opts.WidenedSpacing = DefaultWidenedSpacing
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.FlushWindow <= 0 {
		opts.FlushWindow = DefaultFlushWindow
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = DefaultFetchConcurrency
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	a := &Aggregator{
		opts:     opts,
		clock:    clk,
		logger:   observability.OrNop(opts.Logger),
		entities: append([]core.EntityConfig(nil), opts.Entities...),
		index:    make(map[string]core.EntityConfig, len(opts.Entities)),
		scores:   make(map[string]core.ScoreAggregate),
		pending:  make(map[string]core.PendingScoreUpdate),
		unsaved:  make(map[string]struct{}),
	}
	for _, entity := range a.entities {
		a.index[entity.ID] = entity
	}
	empty := []core.EntityRecord{}
	a.published.Store(&empty)
	return a
}

// Load restores score aggregates and recent history from storage.
func (a *Aggregator) Load(ctx context.Context) error {
	if a.opts.Scores != nil {
		scores, err := a.opts.Scores.ListScores(ctx)
		if err != nil {
			return fmt.Errorf("load scores: %w", err)
		}
		a.scoreMu.Lock()
		for _, score := range scores {
			a.scores[score.EntityID] = score
		}
		a.scoreMu.Unlock()
	}

	return a.ReloadHistory(ctx)
}

// ReloadHistory replaces the in-memory history with the stored one.
func (a *Aggregator) ReloadHistory(ctx context.Context) error {
	if a.opts.History == nil {
		return nil
	}
	matches, err := a.opts.History.ListMatches(ctx, a.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	a.historyMu.Lock()
	a.history = matches
	a.historyMu.Unlock()
	return nil
}

// Attach subscribes the aggregator to the entities and history topics.
func (a *Aggregator) Attach(sub Subscriber) func() {
	unsubEntities := sub.Subscribe(refresh.TopicEntities, func(ctx context.Context) error {
		a.Refresh(ctx, false)
		return nil
	})
	unsubHistory := sub.Subscribe(refresh.TopicHistory, func(ctx context.Context) error {
		err := a.ReloadHistory(ctx)
		if a.opts.Reporter != nil {
			if err != nil {
				a.opts.Reporter.ReportError(refresh.TopicHistory)
			} else {
				a.opts.Reporter.ReportSuccess(refresh.TopicHistory)
			}
		}
		return err
	})
	return func() {
		unsubEntities()
		unsubHistory()
	}
}

// Refresh runs one fetch cycle over every configured entity. A cycle already
// in flight makes this a no-op, and unless force is set a cycle started too
// soon after the previous one is dropped.
func (a *Aggregator) Refresh(ctx context.Context, force bool) CycleReport {
	if ctx == nil {
		ctx = context.Background()
	}
	started := a.clock.Now()
	report := CycleReport{Forced: force, StartedAt: started, Entities: len(a.entities)}

	a.cycleMu.Lock()
	if a.inFlight {
		a.cycleMu.Unlock()
		report.Skipped, report.Reason = true, "in_flight"
		metrics.RecordRefreshCycle("skipped", 0)
		return report
	}
	spacing := a.spacingLocked()
	if !force && !a.lastCompleted.IsZero() && started.Sub(a.lastCompleted) < spacing {
		report.ConsecutiveFailures = a.failures
		a.cycleMu.Unlock()
		report.Skipped, report.Reason = true, "debounced"
		metrics.RecordRefreshCycle("skipped", 0)
		return report
	}
	a.inFlight = true
	a.cycleMu.Unlock()

	records := a.fetchAll(ctx)
	merged := a.merge(records)
	a.published.Store(&merged)
	a.ensureScores(ctx)

	for _, record := range merged {
		if record.Usable() {
			report.Usable++
		}
	}
	report.Success = report.Usable > 0
	report.CompletedAt = a.clock.Now()

	a.cycleMu.Lock()
	a.inFlight = false
	a.lastCompleted = report.CompletedAt
	if report.Success {
		a.failures = 0
	} else {
		a.failures++
	}
	report.ConsecutiveFailures = a.failures
	a.cycleMu.Unlock()

	outcome := "success"
	if a.opts.Reporter != nil {
		if report.Success {
			a.opts.Reporter.ReportSuccess(refresh.TopicEntities)
		} else {
			outcome = "failure"
			a.opts.Reporter.ReportError(refresh.TopicEntities)
		}
	} else if !report.Success {
		outcome = "failure"
	}
	metrics.RecordRefreshCycle(outcome, report.CompletedAt.Sub(started))

	a.logger.Debug("Refresh cycle completed",
		zap.Int("entities", report.Entities),
		zap.Int("usable", report.Usable),
		zap.Bool("forced", force),
		zap.Int("consecutive_failures", report.ConsecutiveFailures))
	return report
}

// MinSpacing returns the current whole-cycle debounce spacing.
func (a *Aggregator) MinSpacing() time.Duration {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	return a.spacingLocked()
}

func (a *Aggregator) spacingLocked() time.Duration {
	if a.failures > a.opts.FailureThreshold {
		return a.opts.WidenedSpacing
	}
	return a.opts.MinSpacing
}

// fetchAll fetches every entity concurrently. Per-entity failures are carried
// on the records and never abort the group.
func (a *Aggregator) fetchAll(ctx context.Context) []core.EntityRecord {
	records := make([]core.EntityRecord, len(a.entities))

	var g errgroup.Group
	g.SetLimit(a.opts.FetchConcurrency)
	for i, entity := range a.entities {
		g.Go(func() error {
			records[i] = a.opts.Fetcher.FetchEntity(ctx, entity, core.FetchKindBulk)
			return nil
		})
	}
	_ = g.Wait()

	return records
}

// merge keeps the previous healthy record, flagged cached, for entities that
// were rate limited with nothing in the snapshot cache.
func (a *Aggregator) merge(records []core.EntityRecord) []core.EntityRecord {
	previous := make(map[string]core.EntityRecord)
	for _, record := range *a.published.Load() {
		previous[record.EntityID] = record
	}

	merged := make([]core.EntityRecord, len(records))
	for i, record := range records {
		merged[i] = record
		if !record.RateLimited || record.Cached {
			continue
		}
		prev, ok := previous[record.EntityID]
		if !ok || prev.Status != core.StatusHealthy {
			continue
		}
		prev.RateLimited = true
		prev.Cached = true
		prev.UpdatedAt = record.UpdatedAt
		merged[i] = prev
	}
	return merged
}

// ensureScores creates zero aggregates for entities seen for the first time.
func (a *Aggregator) ensureScores(ctx context.Context) {
	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()

	var created []core.ScoreAggregate
	for _, entity := range a.entities {
		if _, ok := a.scores[entity.ID]; ok {
			continue
		}
		score := core.ScoreAggregate{EntityID: entity.ID}
		a.scores[entity.ID] = score
		created = append(created, score)
	}
	if len(created) == 0 || a.opts.Scores == nil {
		return
	}
	if err := a.opts.Scores.SaveScores(ctx, created); err != nil {
		for _, score := range created {
			a.unsaved[score.EntityID] = struct{}{}
		}
		a.logger.Warn("Failed to persist new score aggregates", zap.Error(err))
	}
}

// QueueScoreUpdate records the pending update for entityID, replacing any
// update already queued in the current window, and arms the flush timer.
func (a *Aggregator) QueueScoreUpdate(entityID string, isWinner bool, latencyMs int) {
	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()

	a.pending[entityID] = core.PendingScoreUpdate{
		IsWinner:   isWinner,
		LatencyMs:  latencyMs,
		ObservedAt: a.clock.Now(),
	}
	if a.flushArmed {
		return
	}
	a.flushArmed = true
	a.flushGen++
	gen := a.flushGen
	a.flushTimer = a.clock.AfterFunc(a.opts.FlushWindow, func() { a.timedFlush(gen) })
}

// timedFlush runs when the flush window of generation gen elapses. A timer
// whose window was already flushed and re-armed finds a newer generation and
// leaves the current batch alone.
func (a *Aggregator) timedFlush(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()
	if !a.flushArmed || a.flushGen != gen {
		return
	}
	if err := a.flushLocked(ctx); err != nil {
		a.logger.Warn("Score flush failed", zap.Error(err))
	}
}

// Flush takes the pending batch, clears it and applies every entry to the
// score aggregates in one mutation. Aggregates whose save fails are retried
// by the next flush.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()
	return a.flushLocked(ctx)
}

func (a *Aggregator) flushLocked(ctx context.Context) error {
	batch := a.pending
	a.pending = make(map[string]core.PendingScoreUpdate)
	a.flushArmed = false
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}
	if len(batch) == 0 && len(a.unsaved) == 0 {
		return nil
	}

	for entityID, update := range batch {
		score, ok := a.scores[entityID]
		if !ok {
			score = core.ScoreAggregate{EntityID: entityID}
		}
		a.scores[entityID] = score.Apply(update)
		a.unsaved[entityID] = struct{}{}
	}

	if a.opts.Scores == nil {
		clear(a.unsaved)
		return nil
	}
	changed := make([]core.ScoreAggregate, 0, len(a.unsaved))
	for entityID := range a.unsaved {
		changed = append(changed, a.scores[entityID])
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].EntityID < changed[j].EntityID })

	if err := a.opts.Scores.SaveScores(ctx, changed); err != nil {
		return fmt.Errorf("persist scores (%d unsaved): %w", len(changed), err)
	}
	clear(a.unsaved)
	return nil
}

// PendingUpdates returns a copy of the batch waiting for the next flush.
func (a *Aggregator) PendingUpdates() map[string]core.PendingScoreUpdate {
	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()
	out := make(map[string]core.PendingScoreUpdate, len(a.pending))
	for id, update := range a.pending {
		out[id] = update
	}
	return out
}

// RecordChallenge appends a finished challenge to the history and queues the
// score updates for both participants. The outcome must name the two
// participants, one as winner and the other as loser.
func (a *Aggregator) RecordChallenge(ctx context.Context, challengerID, opponentID string, outcome core.ChallengeOutcome) (core.MatchRecord, error) {
	if !outcomeMatches(challengerID, opponentID, outcome) {
		return core.MatchRecord{}, fmt.Errorf("%w: winner %q and loser %q for challenge %s vs %s",
			core.ErrInvalidOutcome, outcome.Winner, outcome.Loser, challengerID, opponentID)
	}
	match := core.MatchRecord{
		ID:         a.opts.NewID(),
		Challenger: challengerID,
		Opponent:   opponentID,
		Winner:     outcome.Winner,
		Loser:      outcome.Loser,
		DurationMs: outcome.DurationMs,
		PlayedAt:   a.clock.Now(),
	}

	a.QueueScoreUpdate(outcome.Winner, true, outcome.DurationMs)
	a.QueueScoreUpdate(outcome.Loser, false, outcome.DurationMs)

	a.historyMu.Lock()
	a.history = append([]core.MatchRecord{match}, a.history...)
	if len(a.history) > a.opts.HistoryLimit {
		a.history = a.history[:a.opts.HistoryLimit]
	}
	a.historyMu.Unlock()

	if a.opts.History != nil {
		if err := a.opts.History.AppendMatch(ctx, match); err != nil {
			return match, fmt.Errorf("persist match %s: %w", match.ID, err)
		}
	}
	return match, nil
}

func outcomeMatches(challengerID, opponentID string, outcome core.ChallengeOutcome) bool {
	if challengerID == opponentID {
		return false
	}
	return (outcome.Winner == challengerID && outcome.Loser == opponentID) ||
		(outcome.Winner == opponentID && outcome.Loser == challengerID)
}

// Challenge runs a challenge between two configured entities and records the
// outcome. Fetcher errors are returned unchanged.
func (a *Aggregator) Challenge(ctx context.Context, challengerID, opponentID string) (core.MatchRecord, error) {
	if _, ok := a.index[challengerID]; !ok {
		return core.MatchRecord{}, fmt.Errorf("%w: %s", ErrUnknownEntity, challengerID)
	}
	if _, ok := a.index[opponentID]; !ok {
		return core.MatchRecord{}, fmt.Errorf("%w: %s", ErrUnknownEntity, opponentID)
	}
	if challengerID == opponentID {
		return core.MatchRecord{}, ErrSelfChallenge
	}

	outcome, err := a.opts.Fetcher.Challenge(ctx, challengerID, opponentID)
	if err != nil {
		return core.MatchRecord{}, err
	}
	return a.RecordChallenge(ctx, challengerID, opponentID, outcome)
}

// Ping runs an ad-hoc single fetch. The result is returned to the caller
// and not published.
func (a *Aggregator) Ping(ctx context.Context, entityID string) (core.EntityRecord, error) {
	entity, ok := a.index[entityID]
	if !ok {
		return core.EntityRecord{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	return a.opts.Fetcher.FetchEntity(ctx, entity, core.FetchKindSingle), nil
}

// Close flushes pending score updates and disarms the flush timer.
func (a *Aggregator) Close(ctx context.Context) error {
	return a.Flush(ctx)
}

// Entities returns a copy of the published records.
func (a *Aggregator) Entities() []core.EntityRecord {
	current := *a.published.Load()
	out := make([]core.EntityRecord, len(current))
	copy(out, current)
	return out
}

// Configured returns the configured entities.
func (a *Aggregator) Configured() []core.EntityConfig {
	out := make([]core.EntityConfig, len(a.entities))
	copy(out, a.entities)
	return out
}

// Scores returns the score aggregates sorted by entity id.
func (a *Aggregator) Scores() []core.ScoreAggregate {
	a.scoreMu.Lock()
	defer a.scoreMu.Unlock()
	out := make([]core.ScoreAggregate, 0, len(a.scores))
	for _, score := range a.scores {
		out = append(out, score)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// History returns up to limit matches, newest first.
func (a *Aggregator) History(limit int) []core.MatchRecord {
	a.historyMu.RLock()
	defer a.historyMu.RUnlock()
	if limit <= 0 || limit > len(a.history) {
		limit = len(a.history)
	}
	out := make([]core.MatchRecord, limit)
	copy(out, a.history[:limit])
	return out
}
