package breaker

import (
	"fmt"
	"time"
)

// State is the circuit breaker state for one backend.
type State string

const (
	// StateClosed passes calls through while counting consecutive failures.
	StateClosed State = "closed"

	// StateOpen short-circuits all calls until the cooldown elapses.
	StateOpen State = "open"

	// StateHalfOpen admits exactly one probing call to test recovery.
	StateHalfOpen State = "half_open"
)

// Settings are the trip thresholds for one backend, read from its plan.
type Settings struct {
	// FailureThreshold is how many consecutive failures trip the breaker.
	FailureThreshold int64

	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if s.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", s.FailureThreshold)
	}
	if s.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %v", s.Cooldown)
	}
	return nil
}

// Verdict is the outcome of an Allow call.
type Verdict struct {
	// Permit indicates if the call may proceed to the backend.
	Permit bool

	// State is the breaker state observed (after any transition this call
	// performed).
	State State

	// RetryAfter hints how long until the breaker may admit a call again
	// (when denied while open).
	RetryAfter time.Duration
}
