package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arenawatch/arenawatch/internal/core"
)

// ListScores returns every stored score aggregate ordered by entity id.
func (s *Store) ListScores(ctx context.Context) ([]core.ScoreAggregate, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT entity_id, wins, losses, challenges, avg_latency_ms
		FROM score_aggregates
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	scores := []core.ScoreAggregate{}
	for rows.Next() {
		var score core.ScoreAggregate
		if err := rows.Scan(&score.EntityID, &score.Wins, &score.Losses, &score.Challenges, &score.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan scores: %w", err)
		}
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}

	return scores, nil
}

// SaveScores upserts the given aggregates in one transaction.
func (s *Store) SaveScores(ctx context.Context, scores []core.ScoreAggregate) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(scores) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin score update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixMilli()
	for _, score := range scores {
		if score.EntityID == "" {
			return errors.New("entity id is required")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO score_aggregates (entity_id, wins, losses, challenges, avg_latency_ms, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET
				wins = excluded.wins,
				losses = excluded.losses,
				challenges = excluded.challenges,
				avg_latency_ms = excluded.avg_latency_ms,
				updated_at = excluded.updated_at
		`, score.EntityID, score.Wins, score.Losses, score.Challenges, score.AvgLatencyMs, now); err != nil {
			return fmt.Errorf("store score for %s: %w", score.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit score update: %w", err)
	}
	return nil
}
