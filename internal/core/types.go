package core

import (
	"fmt"
	"strings"
	"time"
)

// Status is the closed set of states an entity record can be displayed in.
type Status int

const (
	StatusUnknown     Status = 0
	StatusHealthy     Status = 1
	StatusError       Status = 2
	StatusRateLimited Status = 3
	StatusCached      Status = 4
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusError:
		return "error"
	case StatusRateLimited:
		return "rate_limited"
	case StatusCached:
		return "cached"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a wire name into a Status.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "healthy":
		return StatusHealthy, nil
	case "error":
		return StatusError, nil
	case "rate_limited":
		return StatusRateLimited, nil
	case "cached":
		return StatusCached, nil
	case "unknown", "":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown status: %q", value)
	}
}

// FetchKind separates rate limiting buckets for the same entity.
type FetchKind string

const (
	// FetchKindBulk is the periodic poll of every entity.
	FetchKindBulk FetchKind = "bulk"
	// FetchKindSingle is an ad-hoc ping of one entity.
	FetchKindSingle FetchKind = "single"
)

// EntityConfig describes a polled remote entity.
type EntityConfig struct {
	ID           string `mapstructure:"id" yaml:"id" json:"id"`
	Name         string `mapstructure:"name" yaml:"name" json:"name"`
	URL          string `mapstructure:"url" yaml:"url" json:"url"`
	ChallengeURL string `mapstructure:"challenge_url" yaml:"challenge_url" json:"challenge_url"`
}

// DisplayName returns Name, or ID when no name is configured.
func (e EntityConfig) DisplayName() string {
	if strings.TrimSpace(e.Name) != "" {
		return e.Name
	}
	return e.ID
}

// EntitySnapshot is the last observed state of an entity.
// Status is one of StatusHealthy, StatusError or StatusUnknown.
type EntitySnapshot struct {
	EntityID  string     `json:"entity_id"`
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	LatencyMs *int       `json:"latency_ms,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// EntityRecord is a snapshot plus the provenance flags of the cycle that produced it.
type EntityRecord struct {
	EntitySnapshot
	RateLimited bool      `json:"rate_limited"`
	Cached      bool      `json:"cached"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// State collapses the record into the displayed status.
func (r EntityRecord) State() Status {
	switch {
	case r.Cached:
		return StatusCached
	case r.RateLimited:
		return StatusRateLimited
	default:
		return r.Status
	}
}

// Usable reports whether the record carries live or validly cached data.
func (r EntityRecord) Usable() bool {
	switch r.State() {
	case StatusHealthy, StatusCached:
		return true
	case StatusError, StatusRateLimited, StatusUnknown:
		return false
	default:
		return false
	}
}

// ChallengeOutcome is the result reported by a challenge between two entities.
type ChallengeOutcome struct {
	Winner     string `json:"winner"`
	Loser      string `json:"loser"`
	DurationMs int    `json:"durationMs"`
}

// MatchRecord is one entry in the persisted challenge history.
type MatchRecord struct {
	ID         string    `json:"id"`
	Challenger string    `json:"challenger"`
	Opponent   string    `json:"opponent"`
	Winner     string    `json:"winner"`
	Loser      string    `json:"loser"`
	DurationMs int       `json:"duration_ms"`
	PlayedAt   time.Time `json:"played_at"`
}

// ScoreAggregate holds per-entity challenge totals.
type ScoreAggregate struct {
	EntityID     string  `json:"entity_id"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	Challenges   int     `json:"challenges"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Apply folds one challenge result into the aggregate using the pre-update count.
func (s ScoreAggregate) Apply(update PendingScoreUpdate) ScoreAggregate {
	n := float64(s.Challenges)
	if update.IsWinner {
		s.Wins++
	} else {
		s.Losses++
	}
	s.AvgLatencyMs = (s.AvgLatencyMs*n + float64(update.LatencyMs)) / (n + 1)
	s.Challenges++
	return s
}

// PendingScoreUpdate is a score change waiting for the next batch flush.
type PendingScoreUpdate struct {
	IsWinner   bool
	LatencyMs  int
	ObservedAt time.Time
}
