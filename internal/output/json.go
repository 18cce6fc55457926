package output

import (
	"encoding/json"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/core/store"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

type rateLimitJSON struct {
	Key           string         `json:"key"`
	EntityID      string         `json:"entity_id"`
	Kind          core.FetchKind `json:"kind"`
	LastAllowedAt string         `json:"last_allowed_at"`
}

func (f *JSONFormatter) FormatEntities(records []core.EntityRecord) (string, error) {
	return f.marshal(map[string]any{"entities": nonNil(records)})
}

func (f *JSONFormatter) FormatScores(scores []core.ScoreAggregate) (string, error) {
	return f.marshal(map[string]any{"scores": nonNil(scores)})
}

func (f *JSONFormatter) FormatHistory(matches []core.MatchRecord) (string, error) {
	return f.marshal(map[string]any{"matches": nonNil(matches)})
}

func (f *JSONFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	rows := make([]rateLimitJSON, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, rateLimitJSON{
			Key:           entry.Key.String(),
			EntityID:      entry.Key.EntityID,
			Kind:          entry.Key.Kind,
			LastAllowedAt: formatTime(entry.State.LastAllowedAt),
		})
	}
	return f.marshal(map[string]any{"rate_limits": rows})
}

func (f *JSONFormatter) FormatRateLimitEvents(events []core.RateLimitEvent) (string, error) {
	return f.marshal(map[string]any{"events": nonNil(events)})
}

func (f *JSONFormatter) FormatRefreshStatus(status refresh.Status) (string, error) {
	return f.marshal(status)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
