package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/store"
)

func testTracker(t *testing.T) (*Tracker, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC))
	backend := store.NewMemoryBackendWithConfig(store.MemoryBackendConfig{Clock: clk})
	t.Cleanup(func() { backend.Close() })
	return NewTracker(backend, clk), clk
}

func TestTracker_ConsumeUnderCeiling(t *testing.T) {
	tracker, _ := testTracker(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		u, err := tracker.Consume(ctx, "key-1", PeriodHour, 5, 1)
		if err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
		if !u.Allowed {
			t.Fatalf("Consumption %d should be allowed", i)
		}
		if u.Used != i {
			t.Errorf("Expected used %d, got %d", i, u.Used)
		}
		if u.Remaining() != 5-i {
			t.Errorf("Expected remaining %d, got %d", 5-i, u.Remaining())
		}
	}

	// Sixth consumption is denied without charging
	u, err := tracker.Consume(ctx, "key-1", PeriodHour, 5, 1)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if u.Allowed {
		t.Error("Consumption over ceiling should be denied")
	}
	if u.Used != 5 {
		t.Errorf("Denied consumption must not charge: used %d", u.Used)
	}
}

func TestTracker_NeverOverflowsCeiling(t *testing.T) {
	tracker, _ := testTracker(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := tracker.Consume(ctx, "hot-key", PeriodMinute, 30, 1)
			if err != nil {
				t.Errorf("Consume failed: %v", err)
				return
			}
			if u.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
			if u.Used > 30 {
				t.Errorf("Consumed %d exceeds ceiling 30", u.Used)
			}
		}()
	}
	wg.Wait()

	if allowed != 30 {
		t.Errorf("Expected exactly 30 allowed consumptions, got %d", allowed)
	}
}

func TestTracker_PeriodRolloverStartsAtZero(t *testing.T) {
	tracker, clk := testTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tracker.Consume(ctx, "key-r", PeriodMinute, 3, 1)
	}
	u, _ := tracker.Consume(ctx, "key-r", PeriodMinute, 3, 1)
	if u.Allowed {
		t.Fatal("Ceiling should be exhausted")
	}

	// Cross the calendar minute boundary
	clk.Advance(time.Minute)
	u, err := tracker.Consume(ctx, "key-r", PeriodMinute, 3, 1)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !u.Allowed {
		t.Error("Fresh period should allow consumption")
	}
	if u.Used != 1 {
		t.Errorf("Fresh period should start at zero, used %d after one consume", u.Used)
	}
}

func TestTracker_MonthBoundary(t *testing.T) {
	tracker, clk := testTracker(t)
	ctx := context.Background()

	u, err := tracker.Consume(ctx, "key-m", PeriodMonth, 1000, 1)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !u.ResetsAt.Equal(want) {
		t.Errorf("Expected month reset at %v, got %v", want, u.ResetsAt)
	}

	// Mid-month consumption carries within the month
	clk.Advance(10 * 24 * time.Hour)
	u, _ = tracker.Consume(ctx, "key-m", PeriodMonth, 1000, 1)
	if u.Used != 2 {
		t.Errorf("Expected used 2 within the same month, got %d", u.Used)
	}

	// Next month starts a fresh counter
	clk.Set(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	u, _ = tracker.Consume(ctx, "key-m", PeriodMonth, 1000, 1)
	if u.Used != 1 {
		t.Errorf("Expected fresh month counter at 1, got %d", u.Used)
	}
}

func TestTracker_PeekDoesNotCharge(t *testing.T) {
	tracker, _ := testTracker(t)
	ctx := context.Background()

	tracker.Consume(ctx, "key-p", PeriodDay, 10, 4)

	for i := 0; i < 5; i++ {
		u, err := tracker.Peek(ctx, "key-p", PeriodDay, 10)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if u.Used != 4 {
			t.Errorf("Peek must not charge: used %d", u.Used)
		}
		if !u.Allowed {
			t.Error("Peek under ceiling should report allowed")
		}
	}
}

func TestTracker_BulkAmount(t *testing.T) {
	tracker, _ := testTracker(t)
	ctx := context.Background()

	u, err := tracker.Consume(ctx, "key-b", PeriodHour, 10, 7)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !u.Allowed || u.Used != 7 {
		t.Fatalf("Expected bulk consume of 7, got allowed=%v used=%d", u.Allowed, u.Used)
	}

	// A bulk consume that would overflow is denied entirely
	u, _ = tracker.Consume(ctx, "key-b", PeriodHour, 10, 4)
	if u.Allowed {
		t.Error("Overflowing bulk consume should be denied")
	}
	if u.Used != 7 {
		t.Errorf("Denied bulk consume must not partially charge: used %d", u.Used)
	}
}

func TestTracker_Validation(t *testing.T) {
	tracker, _ := testTracker(t)
	ctx := context.Background()

	if _, err := tracker.Consume(ctx, "", PeriodHour, 5, 1); err == nil {
		t.Error("Expected error for empty key")
	}
	if _, err := tracker.Consume(ctx, "k", "fortnight", 5, 1); err == nil {
		t.Error("Expected error for unknown period")
	}
	if _, err := tracker.Consume(ctx, "k", PeriodHour, 0, 1); err == nil {
		t.Error("Expected error for zero ceiling")
	}
	if _, err := tracker.Consume(ctx, "k", PeriodHour, 5, 0); err == nil {
		t.Error("Expected error for zero amount")
	}
}

func TestPeriod_Boundaries(t *testing.T) {
	at := time.Date(2026, 3, 15, 10, 30, 45, 0, time.UTC)

	tests := []struct {
		period Period
		start  time.Time
		end    time.Time
	}{
		{PeriodMinute, time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC), time.Date(2026, 3, 15, 10, 31, 0, 0, time.UTC)},
		{PeriodHour, time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)},
		{PeriodDay, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
		{PeriodMonth, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			if got := tt.period.Start(at); !got.Equal(tt.start) {
				t.Errorf("Start: expected %v, got %v", tt.start, got)
			}
			if got := tt.period.End(at); !got.Equal(tt.end) {
				t.Errorf("End: expected %v, got %v", tt.end, got)
			}
		})
	}
}
