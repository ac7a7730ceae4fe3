// Package telemetry groups observability concerns for gatehouse.
//
// The logging subpackage configures the process-wide slog logger with
// credential redaction. Prometheus metrics live next to the code they
// measure (pkg/admission, pkg/webhook) rather than here, so each concern
// registers exactly the collectors it owns.
package telemetry
