package plan

import (
	"fmt"
	"time"

	"crestline-hq/gatehouse/pkg/breaker"
	"crestline-hq/gatehouse/pkg/quota"
	"crestline-hq/gatehouse/pkg/ratelimit"
)

// KeyStatus is the lifecycle state of an API key.
// Only active keys pass authentication.
type KeyStatus string

const (
	KeyStatusActive    KeyStatus = "active"
	KeyStatusSuspended KeyStatus = "suspended"
	KeyStatusRevoked   KeyStatus = "revoked"
	KeyStatusExpired   KeyStatus = "expired"
)

// Plan is a pricing/usage tier. It holds the rate-limit strategy, the quota
// ceilings, and the default circuit-breaker thresholds for keys on the tier.
// Plans are administrator-owned configuration; the admission path only reads
// them.
type Plan struct {
	// ID identifies the plan. Keys reference it.
	ID string `yaml:"id"`

	// Name is the human-readable tier name.
	Name string `yaml:"name"`

	// RateLimit is the burst admission limit.
	RateLimit RateLimitSpec `yaml:"rate_limit"`

	// Quotas are billing-period ceilings. Zero means unlimited for that
	// period.
	Quotas QuotaSpec `yaml:"quotas"`

	// Breaker holds default circuit-breaker thresholds for backends called
	// on behalf of this plan's keys.
	Breaker BreakerSpec `yaml:"breaker"`
}

// RateLimitSpec configures the burst limiter for a plan.
type RateLimitSpec struct {
	// Strategy is one of fixed_window, sliding_window, token_bucket,
	// leaky_bucket.
	Strategy string `yaml:"strategy"`

	// Ceiling is the maximum requests per window.
	Ceiling int64 `yaml:"ceiling"`

	// Window is the reference period.
	Window time.Duration `yaml:"window"`
}

// Limit resolves the spec into a tagged strategy variant. Resolution happens
// at plan-read time, so an invalid strategy fails loading, not serving.
func (r RateLimitSpec) Limit() (ratelimit.Limit, error) {
	strategy, err := ratelimit.ParseStrategy(r.Strategy)
	if err != nil {
		return ratelimit.Limit{}, err
	}
	limit := ratelimit.Limit{Strategy: strategy, Ceiling: r.Ceiling, Window: r.Window}
	if err := limit.Validate(); err != nil {
		return ratelimit.Limit{}, err
	}
	return limit, nil
}

// QuotaSpec holds per-period ceilings. Zero disables a period.
type QuotaSpec struct {
	PerMinute int64 `yaml:"per_minute"`
	PerHour   int64 `yaml:"per_hour"`
	PerDay    int64 `yaml:"per_day"`
	PerMonth  int64 `yaml:"per_month"`
}

// Ceiling returns the configured ceiling for a period, zero when unlimited.
func (q QuotaSpec) Ceiling(p quota.Period) int64 {
	switch p {
	case quota.PeriodMinute:
		return q.PerMinute
	case quota.PeriodHour:
		return q.PerHour
	case quota.PeriodDay:
		return q.PerDay
	case quota.PeriodMonth:
		return q.PerMonth
	default:
		return 0
	}
}

// BreakerSpec holds default circuit-breaker thresholds for a plan.
type BreakerSpec struct {
	FailureThreshold int64         `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Settings converts the spec into breaker settings.
func (b BreakerSpec) Settings() breaker.Settings {
	return breaker.Settings{FailureThreshold: b.FailureThreshold, Cooldown: b.Cooldown}
}

// Enabled reports whether the plan carries a breaker at all. A plan whose
// YAML omits the breaker block leaves the zero value here, and backend
// health tracking is skipped for its keys.
func (b BreakerSpec) Enabled() bool {
	return b.FailureThreshold > 0
}

// Key is a caller identity scoped to a tenant. A key references exactly one
// plan and carries a lifecycle state; deletion is always soft (DeletedAt) so
// audit and usage history survive.
type Key struct {
	// ID identifies the key in audit records and counters.
	ID string `yaml:"id"`

	// TenantID is the owning tenant.
	TenantID string `yaml:"tenant_id"`

	// PlanID references the plan this key is billed under.
	PlanID string `yaml:"plan_id"`

	// TokenHash is the hex SHA-256 of the bearer token. The plaintext token
	// is never stored.
	TokenHash string `yaml:"token_hash"`

	// Status is the administrative lifecycle state.
	Status KeyStatus `yaml:"status"`

	// ExpiresAt marks the key expired after this instant. Zero means no
	// expiry.
	ExpiresAt time.Time `yaml:"expires_at"`

	// CreatedAt is when the key was issued.
	CreatedAt time.Time `yaml:"created_at"`

	// DeletedAt marks a soft-deleted key. Deleted keys fail authentication
	// but stay in the registry.
	DeletedAt time.Time `yaml:"deleted_at"`
}

// EffectiveStatus folds expiry and soft deletion into the lifecycle state.
func (k *Key) EffectiveStatus(now time.Time) KeyStatus {
	if !k.DeletedAt.IsZero() && !now.Before(k.DeletedAt) {
		return KeyStatusRevoked
	}
	if k.Status == KeyStatusActive && !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt) {
		return KeyStatusExpired
	}
	return k.Status
}

// Webhook is a tenant-owned endpoint registration for event notifications.
type Webhook struct {
	// ID identifies the registration.
	ID string `yaml:"id"`

	// TenantID is the owning tenant; only events for this tenant match.
	TenantID string `yaml:"tenant_id"`

	// URL is the delivery target.
	URL string `yaml:"url"`

	// Events lists subscribed event types. "*" subscribes to everything.
	Events []string `yaml:"events"`

	// Secret signs delivery payloads (HMAC-SHA256).
	Secret string `yaml:"secret"`

	// MaxAttempts bounds delivery retries before dead-lettering.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration `yaml:"base_backoff"`

	// Active gates delivery; inactive registrations match no events.
	Active bool `yaml:"active"`
}

// Subscribes reports whether the webhook wants the given event type.
func (w *Webhook) Subscribes(eventType string) bool {
	if !w.Active {
		return false
	}
	for _, e := range w.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

func (p *Plan) validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id cannot be empty")
	}
	if _, err := p.RateLimit.Limit(); err != nil {
		return fmt.Errorf("plan %q: %w", p.ID, err)
	}
	if p.Breaker.FailureThreshold < 0 || p.Breaker.Cooldown < 0 {
		return fmt.Errorf("plan %q: breaker thresholds cannot be negative", p.ID)
	}
	// Either both breaker fields are set or neither is. A half-configured
	// breaker would pass loading and then fail on every evaluation.
	if (p.Breaker.FailureThreshold > 0) != (p.Breaker.Cooldown > 0) {
		return fmt.Errorf("plan %q: breaker needs both failure_threshold and cooldown, or neither", p.ID)
	}
	for _, period := range quota.Periods {
		if p.Quotas.Ceiling(period) < 0 {
			return fmt.Errorf("plan %q: quota ceiling for %s cannot be negative", p.ID, period)
		}
	}
	return nil
}

func (k *Key) validate() error {
	if k.ID == "" {
		return fmt.Errorf("key id cannot be empty")
	}
	if k.TenantID == "" {
		return fmt.Errorf("key %q: tenant id cannot be empty", k.ID)
	}
	if k.PlanID == "" {
		return fmt.Errorf("key %q: plan id cannot be empty", k.ID)
	}
	if k.TokenHash == "" {
		return fmt.Errorf("key %q: token hash cannot be empty", k.ID)
	}
	switch k.Status {
	case KeyStatusActive, KeyStatusSuspended, KeyStatusRevoked, KeyStatusExpired:
	default:
		return fmt.Errorf("key %q: unknown status %q", k.ID, k.Status)
	}
	return nil
}

func (w *Webhook) validate() error {
	if w.ID == "" {
		return fmt.Errorf("webhook id cannot be empty")
	}
	if w.TenantID == "" {
		return fmt.Errorf("webhook %q: tenant id cannot be empty", w.ID)
	}
	if w.URL == "" {
		return fmt.Errorf("webhook %q: url cannot be empty", w.ID)
	}
	if w.Secret == "" {
		return fmt.Errorf("webhook %q: signing secret cannot be empty", w.ID)
	}
	if w.MaxAttempts <= 0 {
		return fmt.Errorf("webhook %q: max attempts must be positive", w.ID)
	}
	if w.BaseBackoff <= 0 {
		return fmt.Errorf("webhook %q: base backoff must be positive", w.ID)
	}
	return nil
}
