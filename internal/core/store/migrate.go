package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entity_cache (
		entity_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		latency_ms INTEGER,
		last_seen INTEGER,
		error TEXT,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS score_aggregates (
		entity_id TEXT PRIMARY KEY,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		challenges INTEGER NOT NULL DEFAULT 0,
		avg_latency_ms REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS match_history (
		id TEXT PRIMARY KEY,
		challenger TEXT NOT NULL,
		opponent TEXT NOT NULL,
		winner TEXT NOT NULL,
		loser TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		played_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_match_history_played ON match_history(played_at);`,
	`CREATE TABLE IF NOT EXISTS rate_limits (
		gate_key TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		last_allowed_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS rate_limit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		at INTEGER NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
