package ratelimit

import (
	"fmt"
	"time"
)

// Strategy identifies a rate limiting algorithm. The set is closed; plans
// referencing an unknown strategy fail validation at read time.
type Strategy string

const (
	// StrategyFixedWindow resets the counter at each window boundary.
	StrategyFixedWindow Strategy = "fixed_window"

	// StrategySlidingWindow weights two adjacent windows by elapsed fraction.
	StrategySlidingWindow Strategy = "sliding_window"

	// StrategyTokenBucket refills continuously and allows bursts up to capacity.
	StrategyTokenBucket Strategy = "token_bucket"

	// StrategyLeakyBucket drains an admission queue at a fixed rate.
	StrategyLeakyBucket Strategy = "leaky_bucket"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFixedWindow, StrategySlidingWindow, StrategyTokenBucket, StrategyLeakyBucket:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown rate limit strategy %q", s)
	}
}

// Limit is one admission ceiling for a key: at most Ceiling requests per
// Window, enforced under the given strategy.
type Limit struct {
	// Strategy selects the admission algorithm.
	Strategy Strategy

	// Ceiling is the maximum number of requests admitted per window. For the
	// bucket strategies this is also the bucket capacity.
	Ceiling int64

	// Window is the reference period the ceiling applies to.
	Window time.Duration
}

// Validate checks the limit parameters.
func (l Limit) Validate() error {
	if _, err := ParseStrategy(string(l.Strategy)); err != nil {
		return err
	}
	if l.Ceiling <= 0 {
		return fmt.Errorf("rate limit ceiling must be positive, got %d", l.Ceiling)
	}
	if l.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %v", l.Window)
	}
	return nil
}

// Decision is the result of evaluating a limit for one request.
type Decision struct {
	// Allowed indicates if the request is admitted.
	Allowed bool

	// Limit is the ceiling the decision was evaluated against.
	Limit int64

	// Remaining is how many requests remain in the window, never negative.
	Remaining int64

	// RetryAfter suggests how long to wait before retrying (if denied).
	RetryAfter time.Duration

	// Reset is when the current window state expires.
	Reset time.Time
}
