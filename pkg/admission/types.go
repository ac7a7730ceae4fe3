package admission

import (
	"time"

	"crestline-hq/gatehouse/pkg/breaker"
	"crestline-hq/gatehouse/pkg/quota"
	"crestline-hq/gatehouse/pkg/ratelimit"
)

// Reason is the machine-readable code attached to a denied decision.
type Reason string

const (
	// ReasonKeyInactive covers unknown credentials and keys that are
	// suspended, revoked, expired, or deleted. Unknown and inactive are
	// deliberately indistinguishable to callers.
	ReasonKeyInactive Reason = "KEY_INACTIVE"

	// ReasonQuotaExceeded means a billing-period ceiling is exhausted.
	ReasonQuotaExceeded Reason = "QUOTA_EXCEEDED"

	// ReasonRateLimited means the burst limiter denied the request.
	ReasonRateLimited Reason = "RATE_LIMITED"

	// ReasonCircuitOpen means the named backend's circuit breaker is open.
	ReasonCircuitOpen Reason = "CIRCUIT_OPEN"

	// ReasonStoreUnavailable means the usage store could not be reached.
	// Admission fails closed: without counters there is no way to uphold
	// rate and quota guarantees, so denial is the safe answer.
	ReasonStoreUnavailable Reason = "STORE_UNAVAILABLE"
)

// Request is one inbound admission check.
type Request struct {
	// Token is the presented bearer credential.
	Token string

	// Endpoint is the target API endpoint, recorded for audit.
	Endpoint string

	// Backend names the upstream this request proxies to. Empty skips the
	// circuit breaker.
	Backend string
}

// Decision is the single composed allow/deny answer for one request.
type Decision struct {
	// Allowed is the outcome.
	Allowed bool

	// Reason is set when denied.
	Reason Reason

	// RetryAfter hints when a retry may succeed, zero when not applicable.
	RetryAfter time.Duration

	// KeyID, TenantID, and PlanID identify the caller when the credential
	// resolved.
	KeyID    string
	TenantID string
	PlanID   string

	// RateLimit carries the limiter outcome when it was evaluated, for
	// response headers.
	RateLimit *ratelimit.Decision

	// Quota carries the usage of the period that denied, or the tightest
	// evaluated period when allowed.
	Quota *quota.Usage

	// BreakerState is the observed breaker state when a backend was named
	// and the plan carries a breaker.
	BreakerState breaker.State
}
