package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Store defaults
	DefaultStoreBackend         = "memory"
	DefaultStoreSQLitePath      = "data/usage.db"
	DefaultStoreMaxEntries      = 100000
	DefaultStoreCleanupInterval = time.Minute

	// Registry defaults
	DefaultRegistryPath  = "./registry.yaml"
	DefaultRegistryWatch = false

	// Webhook defaults
	DefaultWebhookWorkers        = 4
	DefaultWebhookHTTPTimeout    = 10 * time.Second
	DefaultWebhookMaxBackoff     = 5 * time.Minute
	DefaultWebhookJitterFraction = 0.1
	DefaultWebhookSweepInterval  = 30 * time.Second
	DefaultWebhookCompletedTTL   = 24 * time.Hour

	// Audit defaults
	DefaultAuditEnabled           = true
	DefaultAuditBackend           = "sqlite"
	DefaultAuditSQLitePath        = "data/audit.db"
	DefaultAuditBufferSize        = 1024
	DefaultAuditRetentionPeriod   = 90 * 24 * time.Hour
	DefaultAuditRetentionSchedule = "0 3 * * *"

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Config is the root configuration for the gatehouse daemon.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Registry RegistryConfig `yaml:"registry"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the admission HTTP server.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes caps request header size.
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// StoreConfig configures the usage store holding all counters, breaker
// state, and delivery records.
type StoreConfig struct {
	// Backend selects the store implementation: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// MaxEntries caps the memory backend's map size.
	MaxEntries int `yaml:"max_entries"`

	// CleanupInterval is how often expired entries are removed.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RegistryConfig locates the plan/key/webhook registry file.
type RegistryConfig struct {
	// Path is the YAML registry file.
	Path string `yaml:"path"`

	// Watch reloads the registry when the file changes.
	Watch bool `yaml:"watch"`
}

// WebhookConfig configures the delivery dispatcher.
type WebhookConfig struct {
	// Workers is the delivery goroutine pool size.
	Workers int `yaml:"workers"`

	// HTTPTimeout bounds each outbound POST.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// JitterFraction spreads retry delays, 0 to 1.
	JitterFraction float64 `yaml:"jitter_fraction"`

	// LeaseTimeout is how long a worker may hold a delivery.
	// Default: twice the HTTP timeout.
	LeaseTimeout time.Duration `yaml:"lease_timeout"`

	// SweepInterval is how often expired leases are reclaimed.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// CompletedTTL is how long terminal delivery records stay readable.
	CompletedTTL time.Duration `yaml:"completed_ttl"`

	// OutboundRate limits POSTs per second across all workers. Zero means
	// unlimited.
	OutboundRate float64 `yaml:"outbound_rate"`

	// OutboundBurst is the burst size for the outbound limiter.
	OutboundBurst int `yaml:"outbound_burst"`
}

// AuditConfig configures the decision log.
type AuditConfig struct {
	// Enabled turns decision recording on.
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage: "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// BufferSize is the async recorder's channel capacity.
	BufferSize int `yaml:"buffer_size"`

	// RetentionPeriod is how long records are kept.
	RetentionPeriod time.Duration `yaml:"retention_period"`

	// RetentionSchedule is the cron expression for pruning runs.
	RetentionSchedule string `yaml:"retention_schedule"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`

	// AddSource includes file:line in records.
	AddSource bool `yaml:"add_source"`

	// RedactTokens strips credential material from log attributes.
	RedactTokens bool `yaml:"redact_tokens"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled exposes /metrics on the admission server.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero-valued fields. Booleans that default to true
// are only forced for a completely zero section, so an explicit false in
// the file survives.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStoreSQLitePath
	}
	if c.Store.MaxEntries == 0 {
		c.Store.MaxEntries = DefaultStoreMaxEntries
	}
	if c.Store.CleanupInterval == 0 {
		c.Store.CleanupInterval = DefaultStoreCleanupInterval
	}

	if c.Registry.Path == "" {
		c.Registry.Path = DefaultRegistryPath
	}

	if c.Webhook.Workers == 0 {
		c.Webhook.Workers = DefaultWebhookWorkers
	}
	if c.Webhook.HTTPTimeout == 0 {
		c.Webhook.HTTPTimeout = DefaultWebhookHTTPTimeout
	}
	if c.Webhook.MaxBackoff == 0 {
		c.Webhook.MaxBackoff = DefaultWebhookMaxBackoff
	}
	if c.Webhook.JitterFraction == 0 {
		c.Webhook.JitterFraction = DefaultWebhookJitterFraction
	}
	if c.Webhook.LeaseTimeout == 0 {
		c.Webhook.LeaseTimeout = 2 * c.Webhook.HTTPTimeout
	}
	if c.Webhook.SweepInterval == 0 {
		c.Webhook.SweepInterval = DefaultWebhookSweepInterval
	}
	if c.Webhook.CompletedTTL == 0 {
		c.Webhook.CompletedTTL = DefaultWebhookCompletedTTL
	}

	if c.Audit == (AuditConfig{}) {
		c.Audit.Enabled = DefaultAuditEnabled
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = DefaultAuditBackend
	}
	if c.Audit.Path == "" {
		c.Audit.Path = DefaultAuditSQLitePath
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = DefaultAuditBufferSize
	}
	if c.Audit.RetentionPeriod == 0 {
		c.Audit.RetentionPeriod = DefaultAuditRetentionPeriod
	}
	if c.Audit.RetentionSchedule == "" {
		c.Audit.RetentionSchedule = DefaultAuditRetentionSchedule
	}

	if c.Logging == (LoggingConfig{}) {
		c.Logging.RedactTokens = true
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Metrics == (MetricsConfig{}) {
		c.Metrics.Enabled = true
	}
}
