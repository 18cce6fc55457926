package core

import "time"

// GateKey identifies one rate limiting bucket.
type GateKey struct {
	EntityID string
	Kind     FetchKind
}

// String renders the key as "<entity>-<kind>".
func (k GateKey) String() string {
	return k.EntityID + "-" + string(k.Kind)
}

// GateState captures the last allowed call for a gate key.
type GateState struct {
	LastAllowedAt time.Time
}

// RateLimitAction records what the gate decided.
type RateLimitAction string

const (
	RateLimitAllowed RateLimitAction = "allowed"
	RateLimitBlocked RateLimitAction = "blocked"
)

// RateLimitEvent is one diagnostics entry for a gate decision.
type RateLimitEvent struct {
	EntityID string          `json:"entity_id"`
	Kind     FetchKind       `json:"kind"`
	Action   RateLimitAction `json:"action"`
	At       time.Time       `json:"at"`
}

// MaxRateLimitEvents bounds the retained diagnostics log.
const MaxRateLimitEvents = 100
