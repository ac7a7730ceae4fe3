// Package webhook delivers event notifications to tenant-registered
// endpoints with signing, retry, and exponential backoff.
//
// # Overview
//
// Enqueue fans an event out into one Delivery record per subscribed active
// webhook. A delayed queue (a priority queue keyed by next-retry time) feeds
// a pool of worker goroutines; each worker claims a delivery with a
// compare-and-swap lease, POSTs the signed payload, and either marks it
// delivered or schedules the next attempt.
//
// # Delivery guarantee
//
// Delivery is at-least-once. Receivers must de-duplicate on the
// X-Delivery-Id header; the dispatcher never guarantees at-most-once. A
// worker that crashes mid-attempt loses its lease after a timeout and the
// sweeper re-queues the delivery, so records are never stuck in the
// delivering state.
//
// # Retry policy
//
// A failed attempt (non-2xx, transport error, or timeout) schedules the
// next one at base_backoff * 2^(attempts-1), capped and optionally
// jittered. After max_attempts failures the delivery is dead-lettered: it
// is never retried again and the configured Alerter is notified.
//
// # Signing
//
// Each request carries X-Signature, the hex HMAC-SHA256 of the body under
// the registration secret, plus X-Delivery-Id and X-Attempt.
package webhook
