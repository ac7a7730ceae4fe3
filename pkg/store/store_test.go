package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crestline-hq/gatehouse/pkg/clock"
)

// backendUnderTest builds each backend against the same fake clock so the
// full suite runs against both implementations.
func backendsUnderTest(t *testing.T, clk clock.Clock) map[string]Backend {
	t.Helper()

	memory := NewMemoryBackendWithConfig(MemoryBackendConfig{Clock: clk})
	t.Cleanup(func() { memory.Close() })

	sqlite, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath: filepath.Join(t.TempDir(), "usage.db"),
		Clock:  clk,
	})
	if err != nil {
		t.Fatalf("Failed to create sqlite backend: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Backend{
		"memory": memory,
		"sqlite": sqlite,
	}
}

func TestBackend_SwapCreateAndUpdate(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for name, b := range backendsUnderTest(t, clk) {
		t.Run(name, func(t *testing.T) {
			// Create with expect=0
			e, err := b.Swap(ctx, NamespaceQuota, "key-1", 0, []byte(`{"n":1}`), 0)
			if err != nil {
				t.Fatalf("Create swap failed: %v", err)
			}
			if e.Version != 1 {
				t.Errorf("Expected version 1, got %d", e.Version)
			}

			// Create again must conflict
			if _, err := b.Swap(ctx, NamespaceQuota, "key-1", 0, []byte(`{"n":2}`), 0); err != ErrConflict {
				t.Errorf("Expected ErrConflict on duplicate create, got %v", err)
			}

			// Update with matching version
			e, err = b.Swap(ctx, NamespaceQuota, "key-1", 1, []byte(`{"n":2}`), 0)
			if err != nil {
				t.Fatalf("Update swap failed: %v", err)
			}
			if e.Version != 2 {
				t.Errorf("Expected version 2, got %d", e.Version)
			}

			// Update with stale version must conflict
			if _, err := b.Swap(ctx, NamespaceQuota, "key-1", 1, []byte(`{"n":3}`), 0); err != ErrConflict {
				t.Errorf("Expected ErrConflict on stale version, got %v", err)
			}

			got, err := b.Get(ctx, NamespaceQuota, "key-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got.Value) != `{"n":2}` {
				t.Errorf("Unexpected value: %s", got.Value)
			}
		})
	}
}

func TestBackend_TTLExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for name, b := range backendsUnderTest(t, clk) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.Swap(ctx, NamespaceRateLimit, "win", 0, []byte("5"), time.Minute); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			got, err := b.Get(ctx, NamespaceRateLimit, "win")
			if err != nil || got == nil {
				t.Fatalf("Expected live entry, got %v, %v", got, err)
			}

			clk.Advance(61 * time.Second)

			got, err = b.Get(ctx, NamespaceRateLimit, "win")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != nil {
				t.Error("Expected expired entry to read as absent")
			}

			// Expired entry counts as absent for create
			e, err := b.Swap(ctx, NamespaceRateLimit, "win", 0, []byte("1"), time.Minute)
			if err != nil {
				t.Fatalf("Recreate over expired entry failed: %v", err)
			}
			if e.Version != 1 {
				t.Errorf("Expected fresh version 1, got %d", e.Version)
			}
		})
	}
}

func TestBackend_ListAndCleanup(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for name, b := range backendsUnderTest(t, clk) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"d1", "d2", "d3"} {
				if _, err := b.Put(ctx, NamespaceDelivery, key, []byte("{}"), time.Minute); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}
			if _, err := b.Put(ctx, NamespaceBreaker, "backend-a", []byte("{}"), 0); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			entries, err := b.List(ctx, NamespaceDelivery)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(entries) != 3 {
				t.Errorf("Expected 3 delivery entries, got %d", len(entries))
			}

			clk.Advance(2 * time.Minute)

			deleted, err := b.Cleanup(ctx, clk.Now())
			if err != nil {
				t.Fatalf("Cleanup failed: %v", err)
			}
			if deleted != 3 {
				t.Errorf("Expected 3 deleted, got %d", deleted)
			}

			// Non-expiring breaker entry survives
			got, err := b.Get(ctx, NamespaceBreaker, "backend-a")
			if err != nil || got == nil {
				t.Errorf("Expected breaker entry to survive cleanup, got %v, %v", got, err)
			}
		})
	}
}

func TestBackend_Delete(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for name, b := range backendsUnderTest(t, clk) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.Put(ctx, NamespaceQuota, "gone", []byte("{}"), 0); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if err := b.Delete(ctx, NamespaceQuota, "gone"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			got, err := b.Get(ctx, NamespaceQuota, "gone")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != nil {
				t.Error("Expected entry to be deleted")
			}

			// Deleting a missing entry is a no-op
			if err := b.Delete(ctx, NamespaceQuota, "never-existed"); err != nil {
				t.Errorf("Delete of missing entry failed: %v", err)
			}
		})
	}
}

func TestBackend_ValidatesKeys(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	if _, err := b.Get(ctx, "", "key"); err == nil {
		t.Error("Expected error for empty namespace")
	}
	if _, err := b.Get(ctx, "ns", ""); err == nil {
		t.Error("Expected error for empty key")
	}
	if _, err := b.Swap(ctx, "", "key", 0, nil, 0); err == nil {
		t.Error("Expected error for empty namespace in Swap")
	}
}

// TestMemoryBackend_ConcurrentSwap verifies that only one of N concurrent
// swaps against the same version succeeds. This is the property the rate
// limiter relies on for "never exceed ceiling".
func TestMemoryBackend_ConcurrentSwap(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	if _, err := b.Swap(ctx, NamespaceRateLimit, "contended", 0, []byte("0"), 0); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Swap(ctx, NamespaceRateLimit, "contended", 1, []byte("1"), 0)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if err != ErrConflict {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("Expected exactly 1 successful swap, got %d", successes)
	}
}

func TestMemoryBackend_Eviction(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b := NewMemoryBackendWithConfig(MemoryBackendConfig{MaxEntries: 3, Clock: clk})
	defer b.Close()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := b.Put(ctx, NamespaceQuota, key, []byte("{}"), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		clk.Advance(time.Second)
	}

	// Fourth entry evicts the stalest ("a")
	if _, err := b.Put(ctx, NamespaceQuota, "d", []byte("{}"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if b.Size() != 3 {
		t.Errorf("Expected size 3 after eviction, got %d", b.Size())
	}
	got, _ := b.Get(ctx, NamespaceQuota, "a")
	if got != nil {
		t.Error("Expected stalest entry to be evicted")
	}
}
