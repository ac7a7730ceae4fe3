package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// ============================================================================
// Request ID
// ============================================================================

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected a generated request id in context")
	}
	if got := w.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestIDMiddleware_HonorsClientID(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-supplied")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "client-supplied" {
		t.Errorf("expected client id to be kept, got %q", got)
	}
}

// ============================================================================
// Recovery
// ============================================================================

func TestRecoveryMiddleware_ConvertsPanicTo500(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error body, got content type %q", ct)
	}
}

// ============================================================================
// Admit Guard
// ============================================================================

func TestAdmit_AllowsAndSetsHeaders(t *testing.T) {
	srv := newTestServer(t, 5, false)

	invoked := false
	guarded := Admit(srv.controller, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoked = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/things", nil)
	req.Header.Set("Authorization", "Bearer gh_valid")
	w := httptest.NewRecorder()
	guarded.ServeHTTP(w, req)

	if !invoked {
		t.Fatal("expected guarded handler to run")
	}
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected handler status to pass through, got %d", w.Code)
	}
	if got := w.Header().Get(HeaderRateLimitRemaining); got != "4" {
		t.Errorf("expected X-RateLimit-Remaining 4, got %q", got)
	}
}

func TestAdmit_DeniesWithoutInvokingHandler(t *testing.T) {
	srv := newTestServer(t, 5, false)

	invoked := false
	guarded := Admit(srv.controller, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invoked = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/things", nil)
	req.Header.Set("Authorization", "Bearer gh_wrong")
	w := httptest.NewRecorder()
	guarded.ServeHTTP(w, req)

	if invoked {
		t.Fatal("denied request must not reach the handler")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdmit_RateLimitDenial(t *testing.T) {
	srv := newTestServer(t, 1, false)

	guarded := Admit(srv.controller, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/v1/things", nil)
	req.Header.Set("Authorization", "Bearer gh_valid")

	w := httptest.NewRecorder()
	guarded.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	guarded.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get(HeaderRetryAfter) == "" {
		t.Error("expected Retry-After on rate-limited denial")
	}
}
