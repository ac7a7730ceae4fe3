// Package admission composes authentication, rate limiting, quota
// accounting, and circuit breaking into one decision per inbound request.
//
// # Decision flow
//
// Evaluate resolves the key from the presented credential, fails fast on
// any non-active lifecycle state, runs the plan's rate limit, charges the
// enforced quota periods, and finally consults the circuit breaker when the
// request names a backend. The composed reason follows a fixed precedence:
// KEY_INACTIVE, then QUOTA_EXCEEDED, then RATE_LIMITED, then CIRCUIT_OPEN.
//
// # Failure bias
//
// If the usage store cannot be reached the controller denies. Failing open
// would let every caller through exactly when counters cannot be enforced.
//
// # Side effects
//
// Every decision, allowed or denied, is appended to the audit sink and
// counted in metrics. Rejections are expected outcomes and are never logged
// as errors. Quota exhaustion additionally emits a "quota.exceeded" webhook
// event for the tenant.
package admission
