// Gatehouse is the admission control layer for a multi-tenant API gateway.
//
// It decides, per request, whether a caller may proceed, composing:
//   - API key authentication against a plan/key registry
//   - Burst rate limiting (fixed window, sliding window, token bucket,
//     leaky bucket)
//   - Billing-period quota accounting (minute, hour, day, month)
//   - Per-backend circuit breaking
//   - Signed webhook notifications with retries and dead-lettering
//
// Usage:
//
//	# Start the admission server with default configuration
//	gatehouse run
//
//	# Start with a custom configuration file
//	gatehouse run --config /etc/gatehouse/config.yaml
//
//	# Validate configuration and registry without starting
//	gatehouse validate
//
//	# Generate a tenant API key
//	gatehouse keys generate --tenant acme --plan starter
//
//	# Show recent admission decisions
//	gatehouse audit recent --limit 50
//
//	# Show version information
//	gatehouse version
package main

func main() {
	Execute()
}
