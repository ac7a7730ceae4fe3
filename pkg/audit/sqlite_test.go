package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "audit.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestSQLiteStorage_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	storage := newSQLiteStorage(t)
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	records := []*Record{
		{ID: "r1", Time: base, KeyID: "key-alpha", TenantID: "acme", PlanID: "starter",
			Endpoint: "/v1/things", Backend: "billing", Allowed: true},
		{ID: "r2", Time: base.Add(time.Second), KeyID: "key-alpha", TenantID: "acme", PlanID: "starter",
			Endpoint: "/v1/things", Allowed: false, Reason: "RATE_LIMITED", RetryAfterMs: 30000},
	}
	for _, r := range records {
		if err := storage.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := storage.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(got))
	}

	// Newest first.
	if got[0].ID != "r2" || got[1].ID != "r1" {
		t.Errorf("order = [%s %s], want [r2 r1]", got[0].ID, got[1].ID)
	}
	if got[0].Allowed || !got[1].Allowed {
		t.Error("allowed flags did not round-trip")
	}
	if got[0].Reason != "RATE_LIMITED" || got[0].RetryAfterMs != 30000 {
		t.Errorf("denial fields did not round-trip: %+v", got[0])
	}
	if !got[1].Time.Equal(base) {
		t.Errorf("time = %v, want %v", got[1].Time, base)
	}
}

func TestSQLiteStorage_Prune(t *testing.T) {
	ctx := context.Background()
	storage := newSQLiteStorage(t)
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{base, base.Add(time.Hour), base.Add(48 * time.Hour)} {
		if err := storage.Append(ctx, &Record{ID: string(rune('a' + i)), Time: ts, KeyID: "k"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	removed, err := storage.Prune(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	remaining, err := storage.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("remaining = %d, want 1", len(remaining))
	}
}
