package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arenawatch/arenawatch/internal/core"
)

// AppendRateLimitEvent records a gate decision and trims the log to the
// newest core.MaxRateLimitEvents entries.
func (s *Store) AppendRateLimitEvent(ctx context.Context, event core.RateLimitEvent) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limit_events (entity_id, kind, action, at)
		VALUES (?, ?, ?, ?)
	`, event.EntityID, string(event.Kind), string(event.Action), event.At.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("store rate limit event: %w", err)
	}

	if _, err := s.DB.ExecContext(ctx, `
		DELETE FROM rate_limit_events
		WHERE id NOT IN (
			SELECT id FROM rate_limit_events ORDER BY id DESC LIMIT ?
		)
	`, core.MaxRateLimitEvents); err != nil {
		return fmt.Errorf("trim rate limit events: %w", err)
	}
	return nil
}

// ListRateLimitEvents returns up to limit events, newest first.
func (s *Store) ListRateLimitEvents(ctx context.Context, limit int) ([]core.RateLimitEvent, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 || limit > core.MaxRateLimitEvents {
		limit = core.MaxRateLimitEvents
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT entity_id, kind, action, at
		FROM rate_limit_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list rate limit events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	events := []core.RateLimitEvent{}
	for rows.Next() {
		var (
			event  core.RateLimitEvent
			kind   string
			action string
			at     int64
		)
		if err := rows.Scan(&event.EntityID, &kind, &action, &at); err != nil {
			return nil, fmt.Errorf("scan rate limit events: %w", err)
		}
		event.Kind = core.FetchKind(kind)
		event.Action = core.RateLimitAction(action)
		event.At = time.UnixMilli(at).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limit events: %w", err)
	}
	return events, nil
}

// ClearRateLimitEvents empties the event log.
func (s *Store) ClearRateLimitEvents(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limit_events`); err != nil {
		return fmt.Errorf("clear rate limit events: %w", err)
	}
	return nil
}
