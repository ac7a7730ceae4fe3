package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

// maxSwapAttempts bounds the compare-and-swap retry loop under contention.
// Exhausting it surfaces as an error and the admission path fails closed.
const maxSwapAttempts = 32

// Limiter evaluates admission strategies for request keys.
//
// The Limiter is a stateless evaluator over the usage store: it holds no
// counters itself, so any number of gateway workers can evaluate the same
// key concurrently against shared state. The strategy variant is selected
// once at construction and dispatched through an interface, not by branching
// on a string per request.
type Limiter struct {
	evaluators map[Strategy]evaluator
}

// evaluator is one admission algorithm over store-backed state.
type evaluator interface {
	evaluate(ctx context.Context, keyID string, limit Limit) (*Decision, error)
}

// New creates a limiter over the given usage store.
func New(backend store.Backend, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System()
	}
	return &Limiter{
		evaluators: map[Strategy]evaluator{
			StrategyFixedWindow:   &fixedWindow{backend: backend, clk: clk},
			StrategySlidingWindow: &slidingWindow{backend: backend, clk: clk},
			StrategyTokenBucket:   &tokenBucket{backend: backend, clk: clk},
			StrategyLeakyBucket:   &leakyBucket{backend: backend, clk: clk},
		},
	}
}

// Evaluate runs one admission check for keyID under the given limit.
//
// The counter is charged only when the request is admitted; denied requests
// observe state without mutating it, so a rejected-then-retried caller never
// double-charges.
func (l *Limiter) Evaluate(ctx context.Context, keyID string, limit Limit) (*Decision, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id cannot be empty")
	}
	if err := limit.Validate(); err != nil {
		return nil, err
	}

	ev, ok := l.evaluators[limit.Strategy]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit strategy %q", limit.Strategy)
	}
	d, err := ev.evaluate(ctx, keyID, limit)
	if err != nil {
		return nil, err
	}
	d.Limit = limit.Ceiling
	return d, nil
}

// loadState reads and decodes strategy state for a key.
// Returns (nil, 0, nil) when no live state exists.
func loadState(ctx context.Context, backend store.Backend, key string, state any) (version int64, found bool, err error) {
	entry, err := backend.Get(ctx, store.NamespaceRateLimit, key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load rate limit state: %w", err)
	}
	if entry == nil {
		return 0, false, nil
	}
	if err := json.Unmarshal(entry.Value, state); err != nil {
		return 0, false, fmt.Errorf("failed to decode rate limit state: %w", err)
	}
	return entry.Version, true, nil
}

// saveState encodes and CAS-writes strategy state. Returns store.ErrConflict
// when another evaluation won the race; callers re-read and retry.
func saveState(ctx context.Context, backend store.Backend, key string, expect int64, state any, ttl time.Duration) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode rate limit state: %w", err)
	}
	_, err = backend.Swap(ctx, store.NamespaceRateLimit, key, expect, value, ttl)
	return err
}
