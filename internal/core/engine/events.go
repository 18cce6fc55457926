package engine

import (
	"context"
	"sync"

	"github.com/arenawatch/arenawatch/internal/core"
)

// MemoryEventLog retains the most recent core.MaxRateLimitEvents gate
// decisions in process memory.
type MemoryEventLog struct {
	mu     sync.Mutex
	events []core.RateLimitEvent
}

func (l *MemoryEventLog) AppendRateLimitEvent(ctx context.Context, event core.RateLimitEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if overflow := len(l.events) - core.MaxRateLimitEvents; overflow > 0 {
		l.events = append(l.events[:0:0], l.events[overflow:]...)
	}
	return nil
}

func (l *MemoryEventLog) ClearRateLimitEvents(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	return nil
}

// ListRateLimitEvents returns up to limit events, newest first.
func (l *MemoryEventLog) ListRateLimitEvents(ctx context.Context, limit int) ([]core.RateLimitEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]core.RateLimitEvent, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.events[i])
	}
	return out, nil
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]core.EntitySnapshot
}

func (m *MemorySnapshotStore) GetSnapshot(ctx context.Context, entityID string) (*core.EntitySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot, ok := m.snapshots[entityID]; ok {
		return &snapshot, nil
	}
	return nil, nil
}

func (m *MemorySnapshotStore) SetSnapshot(ctx context.Context, snapshot core.EntitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshots == nil {
		m.snapshots = make(map[string]core.EntitySnapshot)
	}
	m.snapshots[snapshot.EntityID] = snapshot
	return nil
}
