package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arenawatch/arenawatch/internal/core"
)

// GetGate returns stored gate state for a key.
func (s *Store) GetGate(ctx context.Context, key core.GateKey) (*core.GateState, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(key.EntityID) == "" {
		return nil, errors.New("entity id is required")
	}

	var lastAllowedAt int64
	row := s.DB.QueryRowContext(ctx, `
		SELECT last_allowed_at
		FROM rate_limits
		WHERE gate_key = ?
	`, key.String())

	if err := row.Scan(&lastAllowedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	return &core.GateState{LastAllowedAt: time.UnixMilli(lastAllowedAt).UTC()}, nil
}

// UpdateGate persists gate state for a key.
func (s *Store) UpdateGate(ctx context.Context, key core.GateKey, state *core.GateState) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(key.EntityID) == "" {
		return errors.New("entity id is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (gate_key, entity_id, kind, last_allowed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(gate_key) DO UPDATE SET
			last_allowed_at = excluded.last_allowed_at
	`, key.String(), key.EntityID, string(key.Kind), state.LastAllowedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}

	return nil
}

// ResetGates removes every stored gate.
func (s *Store) ResetGates(ctx context.Context) error {
	_, err := s.ResetRateLimits(ctx, RateLimitQuery{All: true})
	return err
}
