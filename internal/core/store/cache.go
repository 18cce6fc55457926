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

// GetSnapshot returns the last known-good snapshot for an entity.
func (s *Store) GetSnapshot(ctx context.Context, entityID string) (*core.EntitySnapshot, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, errors.New("entity id is required")
	}

	var (
		name      string
		status    string
		latencyMs sql.NullInt64
		lastSeen  sql.NullInt64
		message   sql.NullString
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT name, status, latency_ms, last_seen, error
		FROM entity_cache
		WHERE entity_id = ?
	`, entityID)

	if err := row.Scan(&name, &status, &latencyMs, &lastSeen, &message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cached snapshot: %w", err)
	}

	parsed, err := core.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}

	snapshot := &core.EntitySnapshot{
		EntityID: entityID,
		Name:     name,
		Status:   parsed,
		Error:    message.String,
	}
	if latencyMs.Valid {
		value := int(latencyMs.Int64)
		snapshot.LatencyMs = &value
	}
	if lastSeen.Valid {
		value := time.UnixMilli(lastSeen.Int64).UTC()
		snapshot.LastSeen = &value
	}

	return snapshot, nil
}

// SetSnapshot stores the snapshot as the entity's last known-good state.
func (s *Store) SetSnapshot(ctx context.Context, snapshot core.EntitySnapshot) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	entityID := strings.TrimSpace(snapshot.EntityID)
	if entityID == "" {
		return errors.New("entity id is required")
	}

	var latencyMs sql.NullInt64
	if snapshot.LatencyMs != nil {
		latencyMs = sql.NullInt64{Int64: int64(*snapshot.LatencyMs), Valid: true}
	}

	var lastSeen sql.NullInt64
	if snapshot.LastSeen != nil {
		lastSeen = sql.NullInt64{Int64: snapshot.LastSeen.UTC().UnixMilli(), Valid: true}
	}

	var message sql.NullString
	if snapshot.Error != "" {
		message = sql.NullString{String: snapshot.Error, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO entity_cache (entity_id, name, status, latency_ms, last_seen, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			latency_ms = excluded.latency_ms,
			last_seen = excluded.last_seen,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, entityID, snapshot.Name, snapshot.Status.String(), latencyMs, lastSeen, message, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	return nil
}
