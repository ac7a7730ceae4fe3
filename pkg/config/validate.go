package config

import (
	"fmt"
	"net"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for internal consistency. It is called
// by Load after defaults and environment overrides are applied.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server: invalid listen address %q: %w", c.Server.ListenAddress, err)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server: timeouts must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server: shutdown timeout must be positive")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite backend requires a path")
		}
	default:
		return fmt.Errorf("store: unknown backend %q (memory, sqlite)", c.Store.Backend)
	}
	if c.Store.MaxEntries <= 0 {
		return fmt.Errorf("store: max entries must be positive")
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("registry: path cannot be empty")
	}

	if c.Webhook.Workers <= 0 {
		return fmt.Errorf("webhook: workers must be positive")
	}
	if c.Webhook.HTTPTimeout <= 0 {
		return fmt.Errorf("webhook: http timeout must be positive")
	}
	if c.Webhook.JitterFraction < 0 || c.Webhook.JitterFraction > 1 {
		return fmt.Errorf("webhook: jitter fraction must be within [0, 1]")
	}
	if c.Webhook.LeaseTimeout < c.Webhook.HTTPTimeout {
		return fmt.Errorf("webhook: lease timeout must be at least the http timeout")
	}
	if c.Webhook.OutboundRate < 0 {
		return fmt.Errorf("webhook: outbound rate cannot be negative")
	}

	if c.Audit.Enabled {
		switch c.Audit.Backend {
		case "memory":
		case "sqlite":
			if c.Audit.Path == "" {
				return fmt.Errorf("audit: sqlite backend requires a path")
			}
		default:
			return fmt.Errorf("audit: unknown backend %q (memory, sqlite)", c.Audit.Backend)
		}
		if c.Audit.BufferSize <= 0 {
			return fmt.Errorf("audit: buffer size must be positive")
		}
		if c.Audit.RetentionSchedule != "" {
			if _, err := cron.ParseStandard(c.Audit.RetentionSchedule); err != nil {
				return fmt.Errorf("audit: invalid retention schedule %q: %w", c.Audit.RetentionSchedule, err)
			}
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	return nil
}
