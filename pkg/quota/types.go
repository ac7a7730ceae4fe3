package quota

import (
	"fmt"
	"time"
)

// Period is a billing-aligned accounting period. Unlike rate-limit windows,
// periods roll over at calendar boundaries (UTC), not relative to traffic.
type Period string

const (
	PeriodMinute Period = "minute"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
	PeriodMonth  Period = "month"
)

// Periods lists all supported periods from shortest to longest.
var Periods = []Period{PeriodMinute, PeriodHour, PeriodDay, PeriodMonth}

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodMinute, PeriodHour, PeriodDay, PeriodMonth:
		return Period(s), nil
	default:
		return "", fmt.Errorf("unknown quota period %q", s)
	}
}

// Start returns the calendar start of the period containing t.
func (p Period) Start(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodMinute:
		return t.Truncate(time.Minute)
	case PeriodHour:
		return t.Truncate(time.Hour)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Minute)
	}
}

// End returns the start of the next period after t.
func (p Period) End(t time.Time) time.Time {
	start := p.Start(t)
	switch p {
	case PeriodMinute:
		return start.Add(time.Minute)
	case PeriodHour:
		return start.Add(time.Hour)
	case PeriodDay:
		return start.AddDate(0, 0, 1)
	case PeriodMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.Add(time.Minute)
	}
}

// Usage is the outcome of a quota check or consumption.
type Usage struct {
	// Allowed indicates if the consumption fit under the ceiling.
	Allowed bool

	// Period is the accounting period the ceiling applies to.
	Period Period

	// Used is the consumed amount for the current period, after this call
	// if it was allowed.
	Used int64

	// Ceiling is the configured maximum for the period.
	Ceiling int64

	// ResetsAt is when the current period rolls over.
	ResetsAt time.Time
}

// Remaining returns the unconsumed amount, never negative.
func (u Usage) Remaining() int64 {
	r := u.Ceiling - u.Used
	if r < 0 {
		return 0
	}
	return r
}
