package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crestline-hq/gatehouse/pkg/quota"
	"crestline-hq/gatehouse/pkg/ratelimit"
)

// ============================================================================
// Test Fixtures
// ============================================================================

const validRegistry = `
plans:
  - id: starter
    name: Starter
    rate_limit:
      strategy: fixed_window
      ceiling: 5
      window: 60s
    quotas:
      per_day: 1000
      per_month: 20000
    breaker:
      failure_threshold: 3
      cooldown: 30s
  - id: growth
    name: Growth
    rate_limit:
      strategy: token_bucket
      ceiling: 100
      window: 60s
    quotas:
      per_month: 500000
    breaker:
      failure_threshold: 5
      cooldown: 60s

keys:
  - id: key-alpha
    tenant_id: acme
    plan_id: starter
    token_hash: 5994471abb01112afcc18159f6cc74b4f511b99806da59b3caf5a9c173cacfc5
    status: active
  - id: key-beta
    tenant_id: acme
    plan_id: growth
    token_hash: 6b51d431df5d7f141cbececcf79edf3dd861c3b4069f0b11661a3eefacbba918
    status: suspended

webhooks:
  - id: hook-1
    tenant_id: acme
    url: https://acme.example.com/hooks
    events: ["quota.exceeded", "circuit.opened"]
    secret: topsecret
    max_attempts: 4
    base_backoff: 1s
    active: true
  - id: hook-2
    tenant_id: acme
    url: https://acme.example.com/firehose
    events: ["*"]
    secret: alsosecret
    max_attempts: 4
    base_backoff: 1s
    active: false
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing registry fixture: %v", err)
	}
	return path
}

func loadRegistry(t *testing.T, content string) *Registry {
	t.Helper()
	reg, err := NewRegistry(writeRegistry(t, content))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// ============================================================================
// Loading and Validation
// ============================================================================

func TestRegistry_LoadValid(t *testing.T) {
	reg := loadRegistry(t, validRegistry)

	p := reg.GetPlan("starter")
	if p == nil {
		t.Fatal("expected starter plan")
	}
	if p.RateLimit.Ceiling != 5 || p.RateLimit.Window != 60*time.Second {
		t.Errorf("unexpected rate limit: %+v", p.RateLimit)
	}
	if p.Quotas.Ceiling(quota.PeriodDay) != 1000 {
		t.Errorf("per-day ceiling = %d, want 1000", p.Quotas.Ceiling(quota.PeriodDay))
	}
	if p.Quotas.Ceiling(quota.PeriodMinute) != 0 {
		t.Errorf("unset period should be unlimited (0), got %d", p.Quotas.Ceiling(quota.PeriodMinute))
	}
	if p.Breaker.Settings().FailureThreshold != 3 {
		t.Errorf("breaker threshold = %d, want 3", p.Breaker.Settings().FailureThreshold)
	}

	if reg.GetKey("key-alpha") == nil {
		t.Error("expected key-alpha")
	}
	if reg.GetWebhook("hook-1") == nil {
		t.Error("expected hook-1")
	}
}

func TestRegistry_LoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "unknown plan reference",
			mutate:  func(s string) string { return strings.ReplaceAll(s, "plan_id: starter", "plan_id: enterprise") },
			wantErr: "unknown plan",
		},
		{
			name:    "duplicate plan id",
			mutate:  func(s string) string { return strings.ReplaceAll(s, "id: growth", "id: starter") },
			wantErr: "duplicate plan id",
		},
		{
			name:    "invalid strategy",
			mutate:  func(s string) string { return strings.ReplaceAll(s, "token_bucket", "hopscotch") },
			wantErr: "strategy",
		},
		{
			name:    "missing tenant",
			mutate:  func(s string) string { return strings.ReplaceAll(s, "tenant_id: acme", "tenant_id: \"\"") },
			wantErr: "tenant id",
		},
		{
			name:    "breaker threshold without cooldown",
			mutate:  func(s string) string { return strings.ReplaceAll(s, "cooldown: 30s", "cooldown: 0s") },
			wantErr: "breaker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(writeRegistry(t, tt.mutate(validRegistry)))
			if err == nil {
				t.Fatal("expected load error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_ReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	path := writeRegistry(t, validRegistry)
	reg, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer reg.Close()

	if err := os.WriteFile(path, []byte("plans: [{id: ''}]"), 0o600); err != nil {
		t.Fatalf("overwriting registry: %v", err)
	}
	if err := reg.Reload(); err == nil {
		t.Fatal("expected reload to fail")
	}

	if reg.GetPlan("starter") == nil {
		t.Error("previous snapshot should still serve after failed reload")
	}
}

// ============================================================================
// Token Resolution
// ============================================================================

func TestRegistry_ResolveKey(t *testing.T) {
	// The fixture hashes are SHA-256("12345") and SHA-256("hello").
	reg := loadRegistry(t, validRegistry)

	key := reg.ResolveKey("12345")
	if key == nil || key.ID != "key-alpha" {
		t.Fatalf("ResolveKey(12345) = %v, want key-alpha", key)
	}

	// Second hit comes from the cache and must resolve identically.
	if again := reg.ResolveKey("12345"); again == nil || again.ID != "key-alpha" {
		t.Fatalf("cached ResolveKey = %v, want key-alpha", again)
	}

	if reg.ResolveKey("wrong-token") != nil {
		t.Error("unknown token should not resolve")
	}
}

func TestGenerateToken(t *testing.T) {
	token, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !strings.HasPrefix(token, TokenPrefix) {
		t.Errorf("token %q missing %q prefix", token, TokenPrefix)
	}
	if HashToken(token) != hash {
		t.Error("returned hash does not match HashToken(token)")
	}

	other, _, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if other == token {
		t.Error("two generated tokens should differ")
	}
}

// ============================================================================
// Key Lifecycle
// ============================================================================

func TestKey_EffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		key  Key
		want KeyStatus
	}{
		{"active", Key{Status: KeyStatusActive}, KeyStatusActive},
		{"suspended", Key{Status: KeyStatusSuspended}, KeyStatusSuspended},
		{"revoked", Key{Status: KeyStatusRevoked}, KeyStatusRevoked},
		{
			"active past expiry",
			Key{Status: KeyStatusActive, ExpiresAt: now.Add(-time.Hour)},
			KeyStatusExpired,
		},
		{
			"active before expiry",
			Key{Status: KeyStatusActive, ExpiresAt: now.Add(time.Hour)},
			KeyStatusActive,
		},
		{
			"soft deleted",
			Key{Status: KeyStatusActive, DeletedAt: now.Add(-time.Minute)},
			KeyStatusRevoked,
		},
		{
			"suspended key does not expire into active",
			Key{Status: KeyStatusSuspended, ExpiresAt: now.Add(-time.Hour)},
			KeyStatusSuspended,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.EffectiveStatus(now); got != tt.want {
				t.Errorf("EffectiveStatus = %s, want %s", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Webhook Matching
// ============================================================================

func TestRegistry_WebhooksForEvent(t *testing.T) {
	reg := loadRegistry(t, validRegistry)

	matched := reg.WebhooksForEvent("acme", "quota.exceeded")
	if len(matched) != 1 || matched[0].ID != "hook-1" {
		t.Fatalf("WebhooksForEvent = %v, want [hook-1]", matched)
	}

	// hook-2 subscribes to "*" but is inactive.
	if got := reg.WebhooksForEvent("acme", "key.revoked"); len(got) != 0 {
		t.Errorf("inactive wildcard hook should not match, got %v", got)
	}

	if got := reg.WebhooksForEvent("other-tenant", "quota.exceeded"); len(got) != 0 {
		t.Errorf("other tenant should match nothing, got %v", got)
	}
}

func TestWebhook_Subscribes(t *testing.T) {
	w := Webhook{Active: true, Events: []string{"quota.exceeded"}}
	if !w.Subscribes("quota.exceeded") {
		t.Error("exact event should match")
	}
	if w.Subscribes("circuit.opened") {
		t.Error("unsubscribed event should not match")
	}

	wildcard := Webhook{Active: true, Events: []string{"*"}}
	if !wildcard.Subscribes("anything.at.all") {
		t.Error("wildcard should match any event")
	}
}

// ============================================================================
// Spec Resolution
// ============================================================================

func TestRateLimitSpec_Limit(t *testing.T) {
	spec := RateLimitSpec{Strategy: "sliding_window", Ceiling: 10, Window: time.Minute}
	limit, err := spec.Limit()
	if err != nil {
		t.Fatalf("Limit: %v", err)
	}
	if limit.Strategy != ratelimit.StrategySlidingWindow {
		t.Errorf("strategy = %s, want sliding_window", limit.Strategy)
	}

	if _, err := (RateLimitSpec{Strategy: "fixed_window", Ceiling: 0, Window: time.Minute}).Limit(); err == nil {
		t.Error("zero ceiling should fail validation")
	}
}

func TestBreakerSpec_Enabled(t *testing.T) {
	if (BreakerSpec{}).Enabled() {
		t.Error("zero spec should report disabled")
	}
	if !(BreakerSpec{FailureThreshold: 3, Cooldown: 30 * time.Second}).Enabled() {
		t.Error("configured spec should report enabled")
	}
}
