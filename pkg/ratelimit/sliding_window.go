package ratelimit

import (
	"context"
	"fmt"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

// slidingWindowState persists the current and previous window counters.
type slidingWindowState struct {
	// WindowStart is the start of the current window in Unix nanoseconds.
	WindowStart int64 `json:"window_start"`

	// Count is the number of admitted requests in the current window.
	Count int64 `json:"count"`

	// PrevCount is the admitted count of the immediately preceding window.
	PrevCount int64 `json:"prev_count"`
}

// slidingWindow approximates a rolling window using two adjacent fixed
// windows weighted by the elapsed fraction of the current one:
//
//	weighted = prev * (1 - elapsed/window) + current
//
// This removes the boundary burst of the fixed window at the cost of a
// slight overestimate right after a busy window rolls over.
type slidingWindow struct {
	backend store.Backend
	clk     clock.Clock
}

func (s *slidingWindow) evaluate(ctx context.Context, keyID string, limit Limit) (*Decision, error) {
	key := "sliding:" + keyID

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		now := s.clk.Now()

		var state slidingWindowState
		version, found, err := loadState(ctx, s.backend, key, &state)
		if err != nil {
			return nil, err
		}

		windowStart := time.Unix(0, state.WindowStart)
		elapsedWindows := int64(0)
		if found {
			elapsedWindows = int64(now.Sub(windowStart) / limit.Window)
		}

		switch {
		case !found:
			state = slidingWindowState{WindowStart: now.UnixNano()}
			windowStart = now
		case elapsedWindows == 1:
			// Rolled into the adjacent window: current becomes previous.
			windowStart = windowStart.Add(limit.Window)
			state = slidingWindowState{
				WindowStart: windowStart.UnixNano(),
				PrevCount:   state.Count,
			}
		case elapsedWindows > 1:
			// A full idle window passed; nothing carries over.
			windowStart = windowStart.Add(time.Duration(elapsedWindows) * limit.Window)
			state = slidingWindowState{WindowStart: windowStart.UnixNano()}
		}

		elapsed := now.Sub(windowStart)
		prevWeight := 1 - float64(elapsed)/float64(limit.Window)
		weighted := float64(state.PrevCount)*prevWeight + float64(state.Count)

		if weighted+1 > float64(limit.Ceiling) {
			return &Decision{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: s.retryAfter(state, limit, elapsed),
				Reset:      windowStart.Add(limit.Window),
			}, nil
		}

		state.Count++
		// State must outlive the window it may carry over into.
		ttl := 2*limit.Window - elapsed
		expect := version
		if !found {
			expect = 0
		}
		err = saveState(ctx, s.backend, key, expect, &state, ttl)
		if err == store.ErrConflict {
			continue
		}
		if err != nil {
			return nil, err
		}

		remaining := int64(float64(limit.Ceiling) - weighted - 1)
		return &Decision{
			Allowed:   true,
			Remaining: maxInt64(0, remaining),
			Reset:     windowStart.Add(limit.Window),
		}, nil
	}

	return nil, fmt.Errorf("rate limit contention on key %q exceeded %d attempts", keyID, maxSwapAttempts)
}

// retryAfter estimates when the weighted count will drop below the ceiling.
// The previous window's weight decays linearly, one unit every
// window/prevCount; without a previous window the state only improves at the
// next boundary.
func (s *slidingWindow) retryAfter(state slidingWindowState, limit Limit, elapsed time.Duration) time.Duration {
	remaining := limit.Window - elapsed
	if state.PrevCount == 0 {
		return remaining
	}
	decayPerUnit := limit.Window / time.Duration(state.PrevCount)
	if decayPerUnit < time.Millisecond {
		decayPerUnit = time.Millisecond
	}
	if decayPerUnit > remaining {
		return remaining
	}
	return decayPerUnit
}
