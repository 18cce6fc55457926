package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arenawatch/arenawatch/internal/core"
)

// RateLimitEntry is one persisted gate row.
type RateLimitEntry struct {
	Key   core.GateKey
	State core.GateState
}

// RateLimitQuery selects gate rows for the admin commands. At least one of
// All, EntityID or Kind must be set so a bare reset cannot wipe every gate.
type RateLimitQuery struct {
	All      bool
	EntityID string
	Kind     string
}

var errEmptySelector = errors.New("must specify --all, --entity, or --kind")

func (q RateLimitQuery) Validate() error {
	if q.All || strings.TrimSpace(q.EntityID) != "" {
		return nil
	}
	kind := strings.TrimSpace(q.Kind)
	switch core.FetchKind(kind) {
	case "":
		return errEmptySelector
	case core.FetchKindBulk, core.FetchKindSingle:
		return nil
	default:
		return fmt.Errorf("unknown kind %q (want %s or %s)", kind, core.FetchKindBulk, core.FetchKindSingle)
	}
}

// filter renders q as a WHERE clause over rate_limits.
func (q RateLimitQuery) filter() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}

	var (
		clauses []string
		args    []any
	)
	if entityID := strings.TrimSpace(q.EntityID); entityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, entityID)
	}
	if kind := strings.TrimSpace(q.Kind); kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, kind)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// ListRateLimits returns the selected gates ordered by entity then kind.
func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	where, args, err := q.filter()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		"SELECT entity_id, kind, last_allowed_at FROM rate_limits"+where+" ORDER BY entity_id, kind", args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateLimitEntry{}
	for rows.Next() {
		var (
			entry  RateLimitEntry
			kind   string
			lastMs int64
		)
		if err := rows.Scan(&entry.Key.EntityID, &kind, &lastMs); err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entry.Key.Kind = core.FetchKind(kind)
		entry.State.LastAllowedAt = time.UnixMilli(lastMs).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	return entries, nil
}

// CountRateLimits reports how many gates a reset with q would delete.
func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotInitialized
	}
	where, args, err := q.filter()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM rate_limits"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes the selected gates so the next fetch is allowed.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNotInitialized
	}
	where, args, err := q.filter()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, "DELETE FROM rate_limits"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return result.RowsAffected()
}
