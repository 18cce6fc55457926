package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arenawatch/arenawatch/internal/core"
)

// AppendMatch stores one challenge result. A missing id is generated.
func (s *Store) AppendMatch(ctx context.Context, match core.MatchRecord) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(match.ID) == "" {
		match.ID = uuid.NewString()
	}
	if match.PlayedAt.IsZero() {
		match.PlayedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO match_history (id, challenger, opponent, winner, loser, duration_ms, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, match.ID, match.Challenger, match.Opponent, match.Winner, match.Loser, match.DurationMs, match.PlayedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store match: %w", err)
	}
	return nil
}

// ListMatches returns up to limit matches, newest first. A non-positive limit
// returns every match.
func (s *Store) ListMatches(ctx context.Context, limit int) ([]core.MatchRecord, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, challenger, opponent, winner, loser, duration_ms, played_at
		FROM match_history
		ORDER BY played_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	matches := []core.MatchRecord{}
	for rows.Next() {
		var (
			match    core.MatchRecord
			playedAt int64
		)
		if err := rows.Scan(&match.ID, &match.Challenger, &match.Opponent, &match.Winner, &match.Loser, &match.DurationMs, &playedAt); err != nil {
			return nil, fmt.Errorf("scan matches: %w", err)
		}
		match.PlayedAt = time.UnixMilli(playedAt).UTC()
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}

	return matches, nil
}
