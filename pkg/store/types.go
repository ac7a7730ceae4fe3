package store

import (
	"context"
	"errors"
	"time"
)

// Namespaces used by the admission and delivery subsystems. Backends treat
// namespaces as opaque; these constants exist so callers agree on key layout.
const (
	NamespaceRateLimit = "ratelimit"
	NamespaceQuota     = "quota"
	NamespaceBreaker   = "breaker"
	NamespaceDelivery  = "delivery"
)

// ErrConflict is returned by Swap when the expected version does not match
// the stored version. Callers should re-read and retry.
var ErrConflict = errors.New("store: version conflict")

// Entry is a single versioned record. The Value payload is owned by the
// caller; backends persist it verbatim.
type Entry struct {
	// Namespace groups entries by subsystem (rate limit, quota, breaker,
	// delivery).
	Namespace string

	// Key identifies the entry within its namespace.
	Key string

	// Value is the serialized state payload.
	Value []byte

	// Version is the compare-and-swap token. It starts at 1 when an entry
	// is created and increments on every successful Swap or Put.
	Version int64

	// ExpiresAt is when the entry stops being visible. Zero means the entry
	// never expires. Expired entries read as absent and may be recreated.
	ExpiresAt time.Time

	// UpdatedAt is when the entry was last written.
	UpdatedAt time.Time

	// CreatedAt is when the entry was first written.
	CreatedAt time.Time
}

// Backend is the usage store: the single shared mutable resource behind the
// rate limiter, quota tracker, circuit breaker, and webhook delivery records.
//
// Implementations must be safe for concurrent use. All mutations of counter
// state go through Swap so that concurrent evaluations cannot both claim the
// last remaining slot.
type Backend interface {
	// Get retrieves an entry. Returns (nil, nil) if the entry does not exist
	// or has expired.
	Get(ctx context.Context, namespace, key string) (*Entry, error)

	// Swap writes value if the stored version matches expect. An expect of 0
	// means "create only if absent" (an expired entry counts as absent).
	// On success the new entry is returned; on version mismatch ErrConflict
	// is returned.
	Swap(ctx context.Context, namespace, key string, expect int64, value []byte, ttl time.Duration) (*Entry, error)

	// Put unconditionally upserts an entry.
	Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (*Entry, error)

	// Delete removes an entry. No-op if it does not exist.
	Delete(ctx context.Context, namespace, key string) error

	// List returns all live entries in a namespace.
	List(ctx context.Context, namespace string) ([]*Entry, error)

	// Cleanup removes entries that expired before the given time.
	// Returns the number of entries removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
