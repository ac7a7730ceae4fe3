package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

// tokenBucketState persists a key's bucket fill level.
type tokenBucketState struct {
	// Tokens is the current fill level. Fractional tokens accumulate
	// between requests.
	Tokens float64 `json:"tokens"`

	// LastRefill is when tokens were last credited, in Unix nanoseconds.
	LastRefill int64 `json:"last_refill"`
}

// tokenBucket admits a request when at least one token is available.
// Capacity equals the ceiling; tokens refill continuously at ceiling/window.
// A new key starts with a full bucket, so the configured burst is available
// immediately.
type tokenBucket struct {
	backend store.Backend
	clk     clock.Clock
}

func (t *tokenBucket) evaluate(ctx context.Context, keyID string, limit Limit) (*Decision, error) {
	key := "bucket:" + keyID
	capacity := float64(limit.Ceiling)
	refillPerSecond := capacity / limit.Window.Seconds()

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		now := t.clk.Now()

		var state tokenBucketState
		version, found, err := loadState(ctx, t.backend, key, &state)
		if err != nil {
			return nil, err
		}

		if !found {
			state = tokenBucketState{Tokens: capacity, LastRefill: now.UnixNano()}
		} else {
			elapsed := now.Sub(time.Unix(0, state.LastRefill)).Seconds()
			if elapsed > 0 {
				state.Tokens = math.Min(capacity, state.Tokens+elapsed*refillPerSecond)
				state.LastRefill = now.UnixNano()
			}
		}

		if state.Tokens < 1 {
			needed := 1 - state.Tokens
			retryAfter := time.Duration(needed / refillPerSecond * float64(time.Second))
			return &Decision{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: retryAfter,
				Reset:      now.Add(retryAfter),
			}, nil
		}

		state.Tokens--
		// A full bucket needs no state; expire once refill catches up.
		ttl := time.Duration((capacity - state.Tokens) / refillPerSecond * float64(time.Second))
		expect := version
		if !found {
			expect = 0
		}
		err = saveState(ctx, t.backend, key, expect, &state, ttl)
		if err == store.ErrConflict {
			continue
		}
		if err != nil {
			return nil, err
		}

		return &Decision{
			Allowed:   true,
			Remaining: maxInt64(0, int64(state.Tokens)),
			Reset:     now.Add(ttl),
		}, nil
	}

	return nil, fmt.Errorf("rate limit contention on key %q exceeded %d attempts", keyID, maxSwapAttempts)
}
