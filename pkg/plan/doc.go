// Package plan manages tenant plans, API keys, and webhook registrations.
//
// # Overview
//
// The plan package is the configuration side of admission control. It loads
// a YAML registry describing:
//
//   - Plans: pricing tiers carrying a rate-limit strategy, quota ceilings,
//     and circuit-breaker defaults
//   - Keys: caller identities bound to a tenant and a plan, with a lifecycle
//     (active, suspended, revoked, expired) and soft deletion
//   - Webhooks: tenant-owned endpoints subscribed to event types
//
// # Snapshots and reloads
//
// The registry file is parsed and validated into an immutable snapshot and
// swapped in atomically. A file that fails validation never replaces a
// serving snapshot. When watching is enabled the registry reloads itself on
// file changes.
//
// # Token handling
//
// Bearer tokens are never stored. The registry holds only hex SHA-256
// digests, and ResolveKey hashes the presented token before any lookup. A
// small TTL cache keeps hot resolutions off the snapshot maps; it is
// flushed on every reload.
//
// # Usage
//
//	reg, err := plan.NewRegistry("/etc/gatehouse/registry.yaml")
//	if err != nil {
//	    return err
//	}
//	defer reg.Close()
//
//	key := reg.ResolveKey(token)
//	if key == nil {
//	    // unknown credential
//	}
//	tier := reg.PlanForKey(key)
package plan
