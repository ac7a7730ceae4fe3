package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crestline-hq/gatehouse/pkg/admission"
	"crestline-hq/gatehouse/pkg/breaker"
	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/config"
	"crestline-hq/gatehouse/pkg/plan"
	"crestline-hq/gatehouse/pkg/quota"
	"crestline-hq/gatehouse/pkg/ratelimit"
	"crestline-hq/gatehouse/pkg/store"
)

// ============================================================================
// Test Helpers
// ============================================================================

// stubSource resolves tokens and plans from fixed maps.
type stubSource struct {
	keysByToken map[string]*plan.Key
	plans       map[string]*plan.Plan
}

func (s *stubSource) ResolveKey(token string) *plan.Key { return s.keysByToken[token] }
func (s *stubSource) GetPlan(id string) *plan.Plan      { return s.plans[id] }
func (s *stubSource) PlanForKey(key *plan.Key) *plan.Plan {
	if key == nil {
		return nil
	}
	return s.plans[key.PlanID]
}

// newTestServer wires a server over an in-memory store with a single active
// key on a fixed-window plan.
func newTestServer(t *testing.T, rateCeiling int64, metricsEnabled bool) *Server {
	t.Helper()

	clk := clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	backend := store.NewMemoryBackendWithConfig(store.MemoryBackendConfig{Clock: clk})
	t.Cleanup(func() { _ = backend.Close() })

	source := &stubSource{
		keysByToken: map[string]*plan.Key{
			"gh_valid": {ID: "key-alpha", TenantID: "acme", PlanID: "starter", Status: plan.KeyStatusActive},
		},
		plans: map[string]*plan.Plan{
			"starter": {
				ID: "starter",
				RateLimit: plan.RateLimitSpec{
					Strategy: "fixed_window",
					Ceiling:  rateCeiling,
					Window:   time.Minute,
				},
				Quotas:  plan.QuotaSpec{PerMinute: 1000},
				Breaker: plan.BreakerSpec{FailureThreshold: 3, Cooldown: 30 * time.Second},
			},
		},
	}

	ctrl := admission.NewController(
		source,
		ratelimit.New(backend, clk),
		quota.NewTracker(backend, clk),
		breaker.New(backend, clk),
		clk,
	)

	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = metricsEnabled

	return NewServer(cfg, ctrl).WithGatherer(prometheus.NewRegistry())
}

func postCheck(t *testing.T, handler http.Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/admission/check", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeCheck(t *testing.T, w *httptest.ResponseRecorder) checkResponse {
	t.Helper()

	var resp checkResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

// ============================================================================
// Check Endpoint
// ============================================================================

func TestCheck_Allowed(t *testing.T) {
	handler := newTestServer(t, 5, false).Handler()

	w := postCheck(t, handler, "gh_valid", `{"endpoint": "/v1/things"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeCheck(t, w)
	if !resp.Allowed {
		t.Errorf("expected allowed decision, got reason %q", resp.Reason)
	}
	if resp.KeyID != "key-alpha" || resp.TenantID != "acme" || resp.PlanID != "starter" {
		t.Errorf("unexpected identity: %+v", resp)
	}
	if got := w.Header().Get(HeaderRateLimitLimit); got != "5" {
		t.Errorf("expected X-RateLimit-Limit 5, got %q", got)
	}
	if got := w.Header().Get(HeaderRateLimitRemaining); got != "4" {
		t.Errorf("expected X-RateLimit-Remaining 4, got %q", got)
	}
	if w.Header().Get(HeaderRateLimitReset) == "" {
		t.Error("expected X-RateLimit-Reset to be set")
	}
	if w.Header().Get(HeaderRetryAfter) != "" {
		t.Error("allowed response must not carry Retry-After")
	}
}

func TestCheck_RateLimited(t *testing.T) {
	handler := newTestServer(t, 1, false).Handler()

	if w := postCheck(t, handler, "gh_valid", `{"endpoint": "/v1/things"}`); w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}

	w := postCheck(t, handler, "gh_valid", `{"endpoint": "/v1/things"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeCheck(t, w)
	if resp.Reason != string(admission.ReasonRateLimited) {
		t.Errorf("expected reason RATE_LIMITED, got %q", resp.Reason)
	}
	if resp.RetryAfterMs <= 0 {
		t.Errorf("expected a positive retry hint, got %d", resp.RetryAfterMs)
	}
	if w.Header().Get(HeaderRetryAfter) == "" {
		t.Error("expected Retry-After header on rate-limited response")
	}
	if got := w.Header().Get(HeaderRateLimitRemaining); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestCheck_UnknownCredential(t *testing.T) {
	handler := newTestServer(t, 5, false).Handler()

	w := postCheck(t, handler, "gh_nosuch", `{"endpoint": "/v1/things"}`)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	resp := decodeCheck(t, w)
	if resp.Reason != string(admission.ReasonKeyInactive) {
		t.Errorf("expected reason KEY_INACTIVE, got %q", resp.Reason)
	}
	if resp.KeyID != "" {
		t.Errorf("unknown credential must not leak a key id, got %q", resp.KeyID)
	}
}

func TestCheck_BodyTokenFallback(t *testing.T) {
	handler := newTestServer(t, 5, false).Handler()

	w := postCheck(t, handler, "", `{"token": "gh_valid", "endpoint": "/v1/things"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 via body token, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheck_MethodNotAllowed(t *testing.T) {
	handler := newTestServer(t, 5, false).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/admission/check", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
	if got := w.Header().Get("Allow"); got != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", got)
	}
}

func TestCheck_InvalidBody(t *testing.T) {
	handler := newTestServer(t, 5, false).Handler()

	w := postCheck(t, handler, "gh_valid", `{not json`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// ============================================================================
// Health and Metrics
// ============================================================================

func TestHealthz(t *testing.T) {
	handler := newTestServer(t, 5, false).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	enabled := newTestServer(t, 5, true).Handler()
	disabled := newTestServer(t, 5, false).Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	w := httptest.NewRecorder()
	enabled.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from enabled metrics route, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	disabled.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when metrics disabled, got %d", w.Code)
	}
}
