package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

// leakyBucketState persists a key's queue level.
type leakyBucketState struct {
	// Level is the current depth of the admission queue.
	Level float64 `json:"level"`

	// LastLeak is when the queue last drained, in Unix nanoseconds.
	LastLeak int64 `json:"last_leak"`
}

// leakyBucket models admitted requests as work queued into a bucket that
// drains at a fixed rate of ceiling/window. A request is admitted while the
// queue has room.
//
// Unlike the token bucket, a cold key cannot burst: sustained arrivals above
// the drain rate fill the queue and subsequent requests are rejected until
// it drains. Used where smoothing the admitted rate matters more than burst
// tolerance.
type leakyBucket struct {
	backend store.Backend
	clk     clock.Clock
}

func (l *leakyBucket) evaluate(ctx context.Context, keyID string, limit Limit) (*Decision, error) {
	key := "leaky:" + keyID
	capacity := float64(limit.Ceiling)
	drainPerSecond := capacity / limit.Window.Seconds()

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		now := l.clk.Now()

		var state leakyBucketState
		version, found, err := loadState(ctx, l.backend, key, &state)
		if err != nil {
			return nil, err
		}

		if !found {
			state = leakyBucketState{Level: 0, LastLeak: now.UnixNano()}
		} else {
			elapsed := now.Sub(time.Unix(0, state.LastLeak)).Seconds()
			if elapsed > 0 {
				state.Level = math.Max(0, state.Level-elapsed*drainPerSecond)
				state.LastLeak = now.UnixNano()
			}
		}

		if state.Level+1 > capacity {
			// Time for the queue to drain one slot.
			overflow := state.Level + 1 - capacity
			retryAfter := time.Duration(overflow / drainPerSecond * float64(time.Second))
			return &Decision{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: retryAfter,
				Reset:      now.Add(retryAfter),
			}, nil
		}

		state.Level++
		// State is meaningless once the queue would have fully drained.
		ttl := time.Duration(state.Level / drainPerSecond * float64(time.Second))
		expect := version
		if !found {
			expect = 0
		}
		err = saveState(ctx, l.backend, key, expect, &state, ttl)
		if err == store.ErrConflict {
			continue
		}
		if err != nil {
			return nil, err
		}

		return &Decision{
			Allowed:   true,
			Remaining: maxInt64(0, int64(capacity-state.Level)),
			Reset:     now.Add(ttl),
		}, nil
	}

	return nil, fmt.Errorf("rate limit contention on key %q exceeded %d attempts", keyID, maxSwapAttempts)
}
