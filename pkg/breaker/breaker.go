// Package breaker implements a store-backed circuit breaker for named
// backends.
//
// The breaker is a three-state machine:
//
//	closed ---(threshold consecutive failures)---> open
//	open ---(cooldown elapses)---> half_open
//	half_open ---(probe succeeds)---> closed
//	half_open ---(probe fails)---> open (cooldown restarts)
//
// State lives in the usage store and every transition is a compare-and-swap,
// so the "at most one half-open probe in flight" invariant holds across any
// number of gateway workers sharing the store: claiming the probe and
// entering half-open are the same atomic write.
package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

// maxSwapAttempts bounds the compare-and-swap retry loop under contention.
const maxSwapAttempts = 32

// breakerState is the persisted state for one backend identifier.
type breakerState struct {
	State          State `json:"state"`
	Failures       int64 `json:"failures"`
	LastTransition int64 `json:"last_transition"`

	// Probing marks the half-open probe as claimed. Set and cleared only
	// inside CAS writes; a second caller can never also see it unclaimed.
	Probing bool `json:"probing"`

	// ProbeClaimed is when the in-flight probe was claimed. A claim whose
	// holder never reports back expires after one cooldown, so a crashed
	// prober cannot hold the backend half-open forever.
	ProbeClaimed int64 `json:"probe_claimed,omitempty"`
}

// Breaker evaluates and updates circuit state for named backends.
// It is a stateless evaluator over the usage store.
type Breaker struct {
	backend store.Backend
	clk     clock.Clock
}

// New creates a breaker over the given usage store.
func New(backend store.Backend, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.System()
	}
	return &Breaker{backend: backend, clk: clk}
}

// Allow reports whether a call to the named backend may proceed.
//
// While open, calls are rejected until the cooldown elapses; the first call
// after that atomically claims the half-open probe slot and is permitted.
// Concurrent callers during the probe are rejected.
func (b *Breaker) Allow(ctx context.Context, backendID string, settings Settings) (*Verdict, error) {
	if backendID == "" {
		return nil, fmt.Errorf("backend id cannot be empty")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		now := b.clk.Now()

		state, version, found, err := b.load(ctx, backendID)
		if err != nil {
			return nil, err
		}
		if !found {
			// No recorded state means the breaker has never tripped.
			return &Verdict{Permit: true, State: StateClosed}, nil
		}

		switch state.State {
		case StateClosed:
			return &Verdict{Permit: true, State: StateClosed}, nil

		case StateOpen:
			cooldownEnds := time.Unix(0, state.LastTransition).Add(settings.Cooldown)
			if now.Before(cooldownEnds) {
				return &Verdict{
					Permit:     false,
					State:      StateOpen,
					RetryAfter: cooldownEnds.Sub(now),
				}, nil
			}
			// Cooldown elapsed: move to half-open and claim the probe in
			// the same write.
			state.State = StateHalfOpen
			state.Probing = true
			state.ProbeClaimed = now.UnixNano()
			state.LastTransition = now.UnixNano()
			if err := b.save(ctx, backendID, version, state); err == store.ErrConflict {
				continue
			} else if err != nil {
				return nil, err
			}
			return &Verdict{Permit: true, State: StateHalfOpen}, nil

		case StateHalfOpen:
			claimEnds := time.Unix(0, state.ProbeClaimed).Add(settings.Cooldown)
			if state.Probing && now.Before(claimEnds) {
				// A probe is in flight; everyone else waits.
				return &Verdict{
					Permit:     false,
					State:      StateHalfOpen,
					RetryAfter: claimEnds.Sub(now),
				}, nil
			}
			// Either the probe slot is free or its holder never reported
			// back within a cooldown; take (or retake) the claim.
			state.Probing = true
			state.ProbeClaimed = now.UnixNano()
			if err := b.save(ctx, backendID, version, state); err == store.ErrConflict {
				continue
			} else if err != nil {
				return nil, err
			}
			return &Verdict{Permit: true, State: StateHalfOpen}, nil

		default:
			return nil, fmt.Errorf("corrupt breaker state %q for backend %q", state.State, backendID)
		}
	}

	return nil, fmt.Errorf("breaker contention on backend %q exceeded %d attempts", backendID, maxSwapAttempts)
}

// Report records the outcome of a backend call and updates breaker state.
//
// In closed state, a failure increments the consecutive-failure counter and
// trips the breaker at the threshold; a success resets the counter. In
// half-open state the report is the probe outcome: success closes the
// breaker with counters reset, failure reopens it and restarts the cooldown.
func (b *Breaker) Report(ctx context.Context, backendID string, settings Settings, success bool) error {
	if backendID == "" {
		return fmt.Errorf("backend id cannot be empty")
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		now := b.clk.Now()

		state, version, found, err := b.load(ctx, backendID)
		if err != nil {
			return err
		}
		if !found {
			if success {
				// Nothing to record: healthy backend, no state.
				return nil
			}
			state = breakerState{State: StateClosed}
			version = 0
		}

		switch state.State {
		case StateClosed:
			if success {
				if state.Failures == 0 {
					return nil
				}
				state.Failures = 0
			} else {
				state.Failures++
				if state.Failures >= settings.FailureThreshold {
					state.State = StateOpen
					state.LastTransition = now.UnixNano()
				}
			}

		case StateHalfOpen:
			if success {
				state = breakerState{State: StateClosed}
			} else {
				state = breakerState{State: StateOpen, LastTransition: now.UnixNano()}
			}

		case StateOpen:
			// Stragglers admitted before the trip report here; the breaker
			// already knows the backend is unhealthy.
			return nil

		default:
			return fmt.Errorf("corrupt breaker state %q for backend %q", state.State, backendID)
		}

		err = b.save(ctx, backendID, version, state)
		if err == store.ErrConflict {
			continue
		}
		return err
	}

	return fmt.Errorf("breaker contention on backend %q exceeded %d attempts", backendID, maxSwapAttempts)
}

// Current returns the breaker state for monitoring. A backend with no
// recorded state reports closed.
func (b *Breaker) Current(ctx context.Context, backendID string) (State, error) {
	state, _, found, err := b.load(ctx, backendID)
	if err != nil {
		return "", err
	}
	if !found {
		return StateClosed, nil
	}
	return state.State, nil
}

func (b *Breaker) load(ctx context.Context, backendID string) (breakerState, int64, bool, error) {
	var state breakerState
	entry, err := b.backend.Get(ctx, store.NamespaceBreaker, backendID)
	if err != nil {
		return state, 0, false, fmt.Errorf("failed to load breaker state: %w", err)
	}
	if entry == nil {
		return state, 0, false, nil
	}
	if err := json.Unmarshal(entry.Value, &state); err != nil {
		return state, 0, false, fmt.Errorf("failed to decode breaker state: %w", err)
	}
	return state, entry.Version, true, nil
}

func (b *Breaker) save(ctx context.Context, backendID string, expect int64, state breakerState) error {
	value, err := json.Marshal(&state)
	if err != nil {
		return fmt.Errorf("failed to encode breaker state: %w", err)
	}
	_, err = b.backend.Swap(ctx, store.NamespaceBreaker, backendID, expect, value, 0)
	if err != nil && err != store.ErrConflict {
		return fmt.Errorf("failed to save breaker state: %w", err)
	}
	return err
}
