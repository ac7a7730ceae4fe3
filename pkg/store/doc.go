// Package store implements the usage store backing admission control state.
//
// The store holds rate-limit counters, quota usage, circuit breaker state,
// and webhook delivery records as namespaced, versioned entries. Counter
// mutations use compare-and-swap (Swap) rather than read-then-write so that
// concurrent evaluations of the same key serialize correctly: no two callers
// can both consume the last remaining slot.
//
// Two backends are provided:
//
//   - MemoryBackend: in-process map with TTL expiry and LRU-style eviction.
//     Fast, no persistence; the default.
//   - SQLiteBackend: durable single-node storage using WAL mode. Suitable
//     where counters and delivery records must survive restarts.
//
// Entries expire via ExpiresAt; expired entries read as absent and are
// removed by periodic cleanup.
package store
