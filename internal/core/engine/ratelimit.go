package engine

import (
	"context"
	"sync"
	"time"

	"github.com/arenawatch/arenawatch/internal/core"
)

// Gate enforces a minimum interval between allowed calls per (entity, kind).
type Gate struct {
	Store     GateStore
	Intervals map[core.FetchKind]time.Duration
	Clock     func() time.Time

	mu sync.Mutex
}

// GateStore stores gate state.
type GateStore interface {
	GetGate(ctx context.Context, key core.GateKey) (*core.GateState, error)
	UpdateGate(ctx context.Context, key core.GateKey, state *core.GateState) error
	ResetGates(ctx context.Context) error
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed       bool
	Wait          time.Duration
	LastAllowedAt time.Time
}

// DefaultIntervals are the minimum spacings per fetch kind.
var DefaultIntervals = map[core.FetchKind]time.Duration{
	core.FetchKindBulk:   10 * time.Second,
	core.FetchKindSingle: 10 * time.Second,
}

// Allow checks the gate for key and, when allowed, stamps the call time
// before returning so concurrent callers cannot both pass.
func (g *Gate) Allow(ctx context.Context, entityID string, kind core.FetchKind) (Decision, error) {
	if g == nil || g.Store == nil {
		return Decision{Allowed: true}, nil
	}

	key := core.GateKey{EntityID: entityID, Kind: kind}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.Store.GetGate(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	if state != nil && !state.LastAllowedAt.IsZero() {
		interval := g.Interval(kind)
		elapsed := now.Sub(state.LastAllowedAt)
		if elapsed < interval {
			return Decision{
				Allowed:       false,
				Wait:          interval - elapsed,
				LastAllowedAt: state.LastAllowedAt,
			}, nil
		}
	}

	if err := g.Store.UpdateGate(ctx, key, &core.GateState{LastAllowedAt: now}); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true, LastAllowedAt: now}, nil
}

// Reset clears every stored gate.
func (g *Gate) Reset(ctx context.Context) error {
	if g == nil || g.Store == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Store.ResetGates(ctx)
}

// ApplyOverrides replaces the interval for the given kinds.
func (g *Gate) ApplyOverrides(overrides map[core.FetchKind]time.Duration) {
	if g == nil || len(overrides) == 0 {
		return
	}

	if g.Intervals == nil {
		g.Intervals = make(map[core.FetchKind]time.Duration, len(DefaultIntervals))
		for kind, interval := range DefaultIntervals {
			g.Intervals[kind] = interval
		}
	}

	for kind, interval := range overrides {
		if interval <= 0 {
			continue
		}
		g.Intervals[kind] = interval
	}
}

// Interval returns the minimum spacing for kind.
func (g *Gate) Interval(kind core.FetchKind) time.Duration {
	intervals := DefaultIntervals
	if g != nil && g.Intervals != nil {
		intervals = g.Intervals
	}
	if interval, ok := intervals[kind]; ok {
		return interval
	}
	return DefaultIntervals[core.FetchKindBulk]
}

func (g *Gate) now() time.Time {
	if g != nil && g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

// MemoryGateStore keeps gate state in process memory.
type MemoryGateStore struct {
	mu    sync.Mutex
	state map[core.GateKey]core.GateState
}

// NewMemoryGateStore returns an empty in-memory gate store.
func NewMemoryGateStore() *MemoryGateStore {
	return &MemoryGateStore{state: make(map[core.GateKey]core.GateState)}
}

func (m *MemoryGateStore) GetGate(ctx context.Context, key core.GateKey) (*core.GateState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.state[key]; ok {
		return &val, nil
	}
	return nil, nil
}

func (m *MemoryGateStore) UpdateGate(ctx context.Context, key core.GateKey, state *core.GateState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[core.GateKey]core.GateState)
	}
	m.state[key] = *state
	return nil
}

func (m *MemoryGateStore) ResetGates(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = make(map[core.GateKey]core.GateState)
	return nil
}
