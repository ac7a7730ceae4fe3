// Package server exposes the admission controller over HTTP.
//
// # Routes
//
// POST /v1/admission/check runs one admission check. The credential travels
// in the Authorization header as a bearer token (a "token" body field is
// accepted as a fallback), the JSON body names the endpoint and optional
// backend. The response body carries the full decision; the status code
// mirrors it: 200 allowed, 401 inactive credential, 429 rate or quota
// denial, 503 open circuit or unreachable store. Rate-limit state is echoed
// in X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset, and
// denials with a hint carry Retry-After in whole seconds.
//
// GET /healthz reports liveness. GET /metrics serves Prometheus metrics when
// enabled in configuration.
//
// # Middleware
//
// Every request passes through request ID assignment, structured request
// logging, and panic recovery. The Admit middleware wraps arbitrary handlers
// in the same admission check, for gateways that embed this package rather
// than calling the check endpoint.
//
// # Lifecycle
//
// Start binds the configured listener and blocks until the context is
// cancelled, a SIGINT/SIGTERM arrives, or Stop is called; shutdown is
// graceful and bounded by the configured timeout.
package server
