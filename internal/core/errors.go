package core

import (
	"errors"
	"fmt"
)

// ErrChallengeTimeout is returned when a challenge does not finish within its deadline.
var ErrChallengeTimeout = errors.New("challenge timed out")

// ErrInvalidOutcome is returned when a challenge outcome does not name the two
// participants as winner and loser.
var ErrInvalidOutcome = errors.New("invalid challenge outcome")

// CircuitBreakerError reports that an upstream refused a call to protect its own health.
type CircuitBreakerError struct {
	EntityID string
	Message  string
}

func (e *CircuitBreakerError) Error() string {
	if e == nil {
		return "circuit breaker open"
	}
	if e.Message != "" {
		return fmt.Sprintf("circuit breaker open for %s: %s", e.EntityID, e.Message)
	}
	return fmt.Sprintf("circuit breaker open for %s", e.EntityID)
}

// IsCircuitBreaker reports whether err carries a CircuitBreakerError.
func IsCircuitBreaker(err error) bool {
	var cb *CircuitBreakerError
	return errors.As(err, &cb)
}
