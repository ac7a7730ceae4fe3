package audit

import (
	"context"
	"time"
)

// Record is one admission decision appended to the audit log. The admission
// path only ever writes records; querying is for operators and offline
// consumers.
type Record struct {
	// ID is the record identifier, assigned by the recorder.
	ID string `json:"id"`

	// Time is when the decision was made.
	Time time.Time `json:"time"`

	// KeyID identifies the caller, empty when the credential did not
	// resolve.
	KeyID string `json:"key_id"`

	// TenantID is the owning tenant, when known.
	TenantID string `json:"tenant_id"`

	// PlanID is the plan the decision was evaluated under, when known.
	PlanID string `json:"plan_id"`

	// Endpoint is the target endpoint of the inbound request.
	Endpoint string `json:"endpoint"`

	// Backend is the named upstream, when the request proxies to one.
	Backend string `json:"backend,omitempty"`

	// Allowed is the decision outcome.
	Allowed bool `json:"allowed"`

	// Reason is the machine-readable rejection reason, empty when allowed.
	Reason string `json:"reason,omitempty"`

	// RetryAfterMs is the retry hint in milliseconds, zero when absent.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
}

// Storage persists audit records.
type Storage interface {
	// Append writes one record.
	Append(ctx context.Context, record *Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*Record, error)

	// Prune removes records older than the given time. Returns the number
	// removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases storage resources.
	Close() error
}
