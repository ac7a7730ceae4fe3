package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, layering file values over the
// defaults and environment overrides over the file. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers GATEHOUSE_* environment variables over the
// loaded configuration. Unparseable values are ignored in favor of the
// file value.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("GATEHOUSE_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("GATEHOUSE_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("GATEHOUSE_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("GATEHOUSE_SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}

	// Store overrides
	if val := os.Getenv("GATEHOUSE_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("GATEHOUSE_STORE_PATH"); val != "" {
		cfg.Store.Path = val
	}

	// Registry overrides
	if val := os.Getenv("GATEHOUSE_REGISTRY_PATH"); val != "" {
		cfg.Registry.Path = val
	}
	if val := os.Getenv("GATEHOUSE_REGISTRY_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Registry.Watch = b
		}
	}

	// Webhook overrides
	if val := os.Getenv("GATEHOUSE_WEBHOOK_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Webhook.Workers = i
		}
	}
	if val := os.Getenv("GATEHOUSE_WEBHOOK_HTTP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Webhook.HTTPTimeout = d
		}
	}
	if val := os.Getenv("GATEHOUSE_WEBHOOK_OUTBOUND_RATE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Webhook.OutboundRate = f
		}
	}

	// Audit overrides
	if val := os.Getenv("GATEHOUSE_AUDIT_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Audit.Enabled = b
		}
	}
	if val := os.Getenv("GATEHOUSE_AUDIT_BACKEND"); val != "" {
		cfg.Audit.Backend = val
	}
	if val := os.Getenv("GATEHOUSE_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}

	// Logging overrides
	if val := os.Getenv("GATEHOUSE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GATEHOUSE_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	// Metrics overrides
	if val := os.Getenv("GATEHOUSE_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}
