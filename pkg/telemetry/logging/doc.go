// Package logging configures the process-wide structured logger.
//
// Setup installs a slog handler (JSON or text) as the default; subsystems
// derive component loggers via Component(name). When token redaction is
// enabled, bearer tokens and credential-shaped attribute values are
// replaced before any record is written.
package logging
