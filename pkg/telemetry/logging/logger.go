package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat is the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs as JSON, one object per line.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs as logfmt-style key=value text.
	FormatText LogFormat = "text"
)

// Config contains logger configuration.
type Config struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string

	// Format is the output format ("json", "text").
	Format string

	// AddSource includes file and line number in log records.
	AddSource bool

	// RedactTokens replaces credential material in log attributes.
	// Default: true
	RedactTokens bool
}

// Setup builds the process logger from cfg and installs it as the slog
// default. Components derive their loggers from the default with a
// "component" attribute.
func Setup(cfg Config) error {
	return SetupWithWriter(cfg, os.Stderr)
}

// SetupWithWriter is Setup with an explicit output, for tests.
func SetupWithWriter(cfg Config, w io.Writer) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}
	if cfg.RedactTokens {
		opts.ReplaceAttr = redactAttr
	}

	var handler slog.Handler
	switch LogFormat(strings.ToLower(cfg.Format)) {
	case FormatJSON, "":
		handler = slog.NewJSONHandler(w, opts)
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// ParseLevel converts a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Component returns a logger tagged for one subsystem.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
