package ratelimit

import (
	"context"
	"fmt"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

// fixedWindowState is the persisted counter for one key's current window.
type fixedWindowState struct {
	// WindowStart anchors the window to the arrival time of the first
	// request in it, in Unix nanoseconds.
	WindowStart int64 `json:"window_start"`

	// Count is the number of admitted requests in the window.
	Count int64 `json:"count"`
}

// fixedWindow admits up to Ceiling requests per window, resetting the counter
// when a window elapses.
//
// The window is anchored at the first request's arrival, not at calendar
// boundaries, so skewed node clocks cannot shear a window in half. The known
// trade-off stands: a burst straddling a boundary can see up to 2x the
// ceiling across the two adjacent windows.
type fixedWindow struct {
	backend store.Backend
	clk     clock.Clock
}

func (f *fixedWindow) evaluate(ctx context.Context, keyID string, limit Limit) (*Decision, error) {
	key := "fixed:" + keyID

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		now := f.clk.Now()

		var state fixedWindowState
		version, found, err := loadState(ctx, f.backend, key, &state)
		if err != nil {
			return nil, err
		}

		windowEnd := time.Unix(0, state.WindowStart).Add(limit.Window)
		fresh := !found || !now.Before(windowEnd)
		if fresh {
			state = fixedWindowState{WindowStart: now.UnixNano(), Count: 0}
			windowEnd = now.Add(limit.Window)
		}

		if state.Count >= limit.Ceiling {
			// Denied requests never mutate the counter.
			return &Decision{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: windowEnd.Sub(now),
				Reset:      windowEnd,
			}, nil
		}

		state.Count++
		ttl := windowEnd.Sub(now)
		expect := version
		if fresh && !found {
			expect = 0
		}
		err = saveState(ctx, f.backend, key, expect, &state, ttl)
		if err == store.ErrConflict {
			continue
		}
		if err != nil {
			return nil, err
		}

		return &Decision{
			Allowed:   true,
			Remaining: maxInt64(0, limit.Ceiling-state.Count),
			Reset:     windowEnd,
		}, nil
	}

	return nil, fmt.Errorf("rate limit contention on key %q exceeded %d attempts", keyID, maxSwapAttempts)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
