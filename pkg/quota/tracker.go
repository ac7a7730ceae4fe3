// Package quota accounts request consumption against per-period billing
// ceilings.
//
// Quota is independent of burst rate limiting: a request can clear the rate
// limiter and still be denied because the month's ceiling is exhausted.
// Counters are keyed by (key, period, period start), so a rollover simply
// starts writing a fresh record at zero. A key created mid-period likewise
// starts at zero for the remainder of the period, with no proration.
//
// The consumed counter is monotonic within a period and can never pass the
// ceiling: the ceiling check and the increment happen in one compare-and-swap
// against the usage store.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

// maxSwapAttempts bounds the compare-and-swap retry loop under contention.
const maxSwapAttempts = 32

// quotaState is the persisted counter for one (key, period, period-start).
type quotaState struct {
	Used int64 `json:"used"`
}

// Tracker enforces per-period consumption ceilings over the usage store.
// It is a stateless evaluator; all counters live in the store.
type Tracker struct {
	backend store.Backend
	clk     clock.Clock
}

// NewTracker creates a quota tracker over the given usage store.
func NewTracker(backend store.Backend, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.System()
	}
	return &Tracker{backend: backend, clk: clk}
}

// Consume charges amount against the key's ceiling for the current period.
//
// If the charge would push consumption past the ceiling, nothing is charged
// and Allowed is false with Used reporting the unchanged counter. The check
// and the increment are a single compare-and-swap, so concurrent consumers
// cannot overflow the ceiling between a read and a write.
func (t *Tracker) Consume(ctx context.Context, keyID string, period Period, ceiling, amount int64) (*Usage, error) {
	if err := t.validate(keyID, period, ceiling); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("consume amount must be positive, got %d", amount)
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		now := t.clk.Now()
		key := t.stateKey(keyID, period, now)
		resetsAt := period.End(now)

		var state quotaState
		version, found, err := t.load(ctx, key, &state)
		if err != nil {
			return nil, err
		}

		if state.Used+amount > ceiling {
			return &Usage{
				Allowed:  false,
				Period:   period,
				Used:     state.Used,
				Ceiling:  ceiling,
				ResetsAt: resetsAt,
			}, nil
		}

		state.Used += amount
		value, err := json.Marshal(&state)
		if err != nil {
			return nil, fmt.Errorf("failed to encode quota state: %w", err)
		}

		expect := version
		if !found {
			expect = 0
		}
		// Keep the record a little past the rollover for audit reads.
		ttl := resetsAt.Sub(now) + period.End(resetsAt).Sub(resetsAt)
		_, err = t.backend.Swap(ctx, store.NamespaceQuota, key, expect, value, ttl)
		if err == store.ErrConflict {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save quota state: %w", err)
		}

		return &Usage{
			Allowed:  true,
			Period:   period,
			Used:     state.Used,
			Ceiling:  ceiling,
			ResetsAt: resetsAt,
		}, nil
	}

	return nil, fmt.Errorf("quota contention on key %q exceeded %d attempts", keyID, maxSwapAttempts)
}

// Peek reports current consumption without charging. Used by the admission
// controller to rank rejection reasons without touching counters.
func (t *Tracker) Peek(ctx context.Context, keyID string, period Period, ceiling int64) (*Usage, error) {
	if err := t.validate(keyID, period, ceiling); err != nil {
		return nil, err
	}

	now := t.clk.Now()
	var state quotaState
	if _, _, err := t.load(ctx, t.stateKey(keyID, period, now), &state); err != nil {
		return nil, err
	}

	return &Usage{
		Allowed:  state.Used < ceiling,
		Period:   period,
		Used:     state.Used,
		Ceiling:  ceiling,
		ResetsAt: period.End(now),
	}, nil
}

func (t *Tracker) validate(keyID string, period Period, ceiling int64) error {
	if keyID == "" {
		return fmt.Errorf("key id cannot be empty")
	}
	if _, err := ParsePeriod(string(period)); err != nil {
		return err
	}
	if ceiling <= 0 {
		return fmt.Errorf("quota ceiling must be positive, got %d", ceiling)
	}
	return nil
}

// stateKey includes the period start, so a calendar rollover naturally
// begins a fresh counter at zero.
func (t *Tracker) stateKey(keyID string, period Period, now time.Time) string {
	return keyID + ":" + string(period) + ":" + strconv.FormatInt(period.Start(now).Unix(), 10)
}

func (t *Tracker) load(ctx context.Context, key string, state *quotaState) (int64, bool, error) {
	entry, err := t.backend.Get(ctx, store.NamespaceQuota, key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load quota state: %w", err)
	}
	if entry == nil {
		return 0, false, nil
	}
	if err := json.Unmarshal(entry.Value, state); err != nil {
		return 0, false, fmt.Errorf("failed to decode quota state: %w", err)
	}
	return entry.Version, true, nil
}
