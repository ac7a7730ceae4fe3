package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Credential material must never reach the log stream: bearer tokens arrive
// on every admission check and webhook secrets live in the registry file.
var (
	tokenPattern  = regexp.MustCompile(`\bgh_[0-9a-f]{16,}\b`)
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+\S+`)
)

// sensitiveKeys are attribute names whose values are always replaced
// wholesale, regardless of content.
var sensitiveKeys = map[string]bool{
	"token":         true,
	"secret":        true,
	"authorization": true,
	"api_key":       true,
}

// RedactString replaces token material inside s.
func RedactString(s string) string {
	s = tokenPattern.ReplaceAllString(s, "[REDACTED_TOKEN]")
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	return s
}

// redactAttr is the slog ReplaceAttr hook applied to every record.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if redacted := RedactString(a.Value.String()); redacted != a.Value.String() {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}
