package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DeliveryState is the lifecycle state of one delivery record.
// Terminal states are delivered and dead_lettered.
type DeliveryState string

const (
	// StatePending means the delivery was created but never attempted.
	StatePending DeliveryState = "pending"

	// StateDelivering means a worker holds the delivery lease and an HTTP
	// attempt is in flight.
	StateDelivering DeliveryState = "delivering"

	// StateDelivered means the endpoint acknowledged with a 2xx.
	StateDelivered DeliveryState = "delivered"

	// StateFailed means the last attempt failed and a retry is scheduled
	// for NextRetry.
	StateFailed DeliveryState = "failed"

	// StateDeadLettered means all attempts were exhausted. The delivery is
	// never retried again.
	StateDeadLettered DeliveryState = "dead_lettered"
)

// Event is a domain occurrence fanned out to subscribed webhooks.
type Event struct {
	// Type is the event name, e.g. "quota.exceeded".
	Type string `json:"type"`

	// TenantID scopes fan-out to the tenant's registrations.
	TenantID string `json:"tenant_id"`

	// Payload is the JSON body delivered to the endpoint.
	Payload json.RawMessage `json:"payload"`

	// OccurredAt is when the event happened.
	OccurredAt time.Time `json:"occurred_at"`
}

// Delivery is one (event, webhook) delivery record. It is persisted in the
// usage store and mutated by each attempt. Receivers see at-least-once
// semantics and must de-duplicate on the delivery id.
type Delivery struct {
	// ID is the delivery identifier, also sent as X-Delivery-Id.
	ID string `json:"id"`

	// WebhookID references the target registration.
	WebhookID string `json:"webhook_id"`

	// TenantID is the owning tenant, carried for audit and alerting.
	TenantID string `json:"tenant_id"`

	// EventType is the event name this delivery carries.
	EventType string `json:"event_type"`

	// Payload is the exact body that will be POSTed.
	Payload json.RawMessage `json:"payload"`

	// PayloadHash is the hex SHA-256 of the payload, for audit correlation
	// without storing the body twice elsewhere.
	PayloadHash string `json:"payload_hash"`

	// State is the lifecycle state.
	State DeliveryState `json:"state"`

	// Attempts counts completed (failed or succeeded) attempts.
	Attempts int `json:"attempts"`

	// NextRetry is when the next attempt becomes due. Meaningful only in
	// pending state.
	NextRetry time.Time `json:"next_retry"`

	// LeaseUntil bounds how long a delivering worker may hold the record.
	// Past this instant the delivery is re-claimable.
	LeaseUntil time.Time `json:"lease_until"`

	// LastStatus is the HTTP status of the most recent attempt, zero when
	// the attempt never got a response.
	LastStatus int `json:"last_status"`

	// LastError describes the most recent failure.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the delivery will never be attempted again.
func (d *Delivery) Terminal() bool {
	return d.State == StateDelivered || d.State == StateDeadLettered
}

// HashPayload returns the hex SHA-256 digest of a payload body.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
