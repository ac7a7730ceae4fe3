package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crestline-hq/gatehouse/pkg/admission"
)

const (
	// HeaderRateLimitLimit is the ceiling of the evaluated burst limit.
	HeaderRateLimitLimit = "X-RateLimit-Limit"

	// HeaderRateLimitRemaining is how many requests remain in the window.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset is the unix time the window state expires.
	HeaderRateLimitReset = "X-RateLimit-Reset"

	// HeaderRetryAfter hints when a denied caller may retry, in seconds.
	HeaderRetryAfter = "Retry-After"
)

// maxCheckBody bounds the admission check request body.
const maxCheckBody = 64 << 10

// checkRequest is the JSON body of POST /v1/admission/check. The credential
// is normally carried in the Authorization header; the body field is a
// fallback for callers that cannot set headers.
type checkRequest struct {
	Token    string `json:"token,omitempty"`
	Endpoint string `json:"endpoint"`
	Backend  string `json:"backend,omitempty"`
}

// checkResponse is the JSON body returned for every admission check.
type checkResponse struct {
	Allowed      bool            `json:"allowed"`
	Reason       string          `json:"reason,omitempty"`
	RetryAfterMs int64           `json:"retry_after_ms,omitempty"`
	KeyID        string          `json:"key_id,omitempty"`
	TenantID     string          `json:"tenant_id,omitempty"`
	PlanID       string          `json:"plan_id,omitempty"`
	RateLimit    *rateLimitBody  `json:"rate_limit,omitempty"`
	Quota        *quotaUsageBody `json:"quota,omitempty"`
}

type rateLimitBody struct {
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Reset     int64 `json:"reset"`
}

type quotaUsageBody struct {
	Period   string `json:"period"`
	Used     int64  `json:"used"`
	Ceiling  int64  `json:"ceiling"`
	ResetsAt int64  `json:"resets_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCheck serves POST /v1/admission/check.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req checkRequest
	body := http.MaxBytesReader(w, r.Body, maxCheckBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	token := bearerToken(r)
	if token == "" {
		token = req.Token
	}

	decision := s.controller.Evaluate(r.Context(), admission.Request{
		Token:    token,
		Endpoint: req.Endpoint,
		Backend:  req.Backend,
	})

	writeDecision(w, decision)
}

// handleHealth serves GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDecision maps a decision to status code, headers, and body.
func writeDecision(w http.ResponseWriter, d *admission.Decision) {
	resp := checkResponse{
		Allowed:      d.Allowed,
		Reason:       string(d.Reason),
		RetryAfterMs: d.RetryAfter.Milliseconds(),
		KeyID:        d.KeyID,
		TenantID:     d.TenantID,
		PlanID:       d.PlanID,
	}

	if d.RateLimit != nil {
		resp.RateLimit = &rateLimitBody{
			Limit:     d.RateLimit.Limit,
			Remaining: d.RateLimit.Remaining,
			Reset:     d.RateLimit.Reset.Unix(),
		}
		h := w.Header()
		h.Set(HeaderRateLimitLimit, strconv.FormatInt(d.RateLimit.Limit, 10))
		h.Set(HeaderRateLimitRemaining, strconv.FormatInt(d.RateLimit.Remaining, 10))
		h.Set(HeaderRateLimitReset, strconv.FormatInt(d.RateLimit.Reset.Unix(), 10))
	}
	if d.Quota != nil {
		resp.Quota = &quotaUsageBody{
			Period:   string(d.Quota.Period),
			Used:     d.Quota.Used,
			Ceiling:  d.Quota.Ceiling,
			ResetsAt: d.Quota.ResetsAt.Unix(),
		}
	}
	if !d.Allowed && d.RetryAfter > 0 {
		w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10))
	}

	writeJSON(w, statusForDecision(d), resp)
}

// statusForDecision maps reason codes onto HTTP status codes.
func statusForDecision(d *admission.Decision) int {
	if d.Allowed {
		return http.StatusOK
	}
	switch d.Reason {
	case admission.ReasonKeyInactive:
		return http.StatusUnauthorized
	case admission.ReasonRateLimited, admission.ReasonQuotaExceeded:
		return http.StatusTooManyRequests
	case admission.ReasonCircuitOpen, admission.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

// retryAfterSeconds rounds a hint up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
