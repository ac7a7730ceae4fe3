// Package ratelimit evaluates per-key admission strategies against the
// usage store.
//
// Four strategies are supported, selected per plan at read time and
// dispatched through a closed set of evaluators:
//
//   - FixedWindow: counter resets at each window boundary. Cheap, but allows
//     up to 2x the ceiling across a boundary; documented trade-off.
//   - SlidingWindow: two adjacent fixed windows weighted by elapsed fraction,
//     avoiding the boundary burst.
//   - TokenBucket: continuous refill at ceiling/window, burst up to capacity.
//   - LeakyBucket: fixed-rate drain of an admission queue, smoothing bursts.
//
// All counter state lives in the usage store and is mutated exclusively via
// compare-and-swap, so concurrent evaluations of the same key cannot both
// claim the last remaining slot. A denied request never mutates state.
// Window boundaries are anchored to request arrival rather than wall-clock
// cron ticks, which tolerates clock skew between nodes.
package ratelimit
