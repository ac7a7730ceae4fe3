package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"crestline-hq/gatehouse/pkg/audit"
	"crestline-hq/gatehouse/pkg/breaker"
	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/plan"
	"crestline-hq/gatehouse/pkg/quota"
	"crestline-hq/gatehouse/pkg/ratelimit"
	"crestline-hq/gatehouse/pkg/webhook"
)

// Source resolves credentials and plans. *plan.Registry satisfies it.
type Source interface {
	ResolveKey(token string) *plan.Key
	PlanForKey(key *plan.Key) *plan.Plan
	GetPlan(id string) *plan.Plan
}

// AuditSink receives every decision. *audit.Recorder satisfies it.
type AuditSink interface {
	Record(record *audit.Record)
}

// EventSink fans domain events out to webhooks. *webhook.Dispatcher
// satisfies it.
type EventSink interface {
	Enqueue(ctx context.Context, event webhook.Event) (int, error)
}

// Controller composes authentication, rate limiting, quota accounting, and
// circuit breaking into one allow/deny decision per inbound request. It is
// stateless: all contended state lives in the usage store, so any number of
// controller instances may run concurrently.
type Controller struct {
	source   Source
	limiter  *ratelimit.Limiter
	quotas   *quota.Tracker
	breakers *breaker.Breaker
	clk      clock.Clock
	logger   *slog.Logger

	auditor AuditSink // optional
	events  EventSink // optional
	metrics *Metrics  // optional
}

// NewController creates an admission controller over the given evaluators.
func NewController(source Source, limiter *ratelimit.Limiter, quotas *quota.Tracker,
	breakers *breaker.Breaker, clk clock.Clock) *Controller {
	return &Controller{
		source:   source,
		limiter:  limiter,
		quotas:   quotas,
		breakers: breakers,
		clk:      clk,
		logger:   slog.Default().With("component", "admission"),
	}
}

// WithAudit attaches a decision sink.
func (c *Controller) WithAudit(sink AuditSink) *Controller {
	c.auditor = sink
	return c
}

// WithEvents attaches a webhook event sink.
func (c *Controller) WithEvents(sink EventSink) *Controller {
	c.events = sink
	return c
}

// WithMetrics attaches Prometheus metrics.
func (c *Controller) WithMetrics(m *Metrics) *Controller {
	c.metrics = m
	return c
}

// Evaluate runs one admission check. Rejections are normal outcomes, not
// errors; the only error-shaped paths (store unavailability, plan
// misconfiguration) fail closed with a denied decision rather than
// returning an error to the transport layer.
//
// Reason precedence when multiple limits are exhausted at once: key
// lifecycle, then quota, then rate limit, then circuit. The rate limiter is
// still evaluated first because an admitted request must charge the burst
// window before quota accounting.
func (c *Controller) Evaluate(ctx context.Context, req Request) *Decision {
	started := time.Now()
	decision := c.evaluate(ctx, req)
	c.record(req, decision, time.Since(started))
	return decision
}

func (c *Controller) evaluate(ctx context.Context, req Request) *Decision {
	now := c.clk.Now()

	key := c.source.ResolveKey(req.Token)
	if key == nil {
		return &Decision{Allowed: false, Reason: ReasonKeyInactive}
	}

	decision := &Decision{
		KeyID:    key.ID,
		TenantID: key.TenantID,
		PlanID:   key.PlanID,
	}

	if status := key.EffectiveStatus(now); status != plan.KeyStatusActive {
		decision.Reason = ReasonKeyInactive
		return decision
	}

	tier := c.source.PlanForKey(key)
	if tier == nil {
		// A key referencing a vanished plan cannot be admitted.
		c.logger.Warn("key references unknown plan", "key_id", key.ID, "plan_id", key.PlanID)
		decision.Reason = ReasonKeyInactive
		return decision
	}

	limit, err := tier.RateLimit.Limit()
	if err != nil {
		c.logger.Error("plan has invalid rate limit", "plan_id", tier.ID, "error", err)
		decision.Reason = ReasonStoreUnavailable
		return decision
	}

	rateDec, err := c.limiter.Evaluate(ctx, key.ID, limit)
	if err != nil {
		c.logger.Error("rate limit evaluation failed, denying", "key_id", key.ID, "error", err)
		decision.Reason = ReasonStoreUnavailable
		return decision
	}
	decision.RateLimit = rateDec

	if rateDec.Allowed {
		if denied := c.consumeQuotas(ctx, key, tier, decision, now); denied {
			return decision
		}
	} else {
		// The burst window is exhausted. Quota outranks rate limiting in
		// the composed reason, so check whether a period ceiling is also
		// gone before reporting RATE_LIMITED. Peek never charges.
		if denied := c.peekQuotas(ctx, key, tier, decision, now); denied {
			return decision
		}
		decision.Reason = ReasonRateLimited
		decision.RetryAfter = rateDec.RetryAfter
		return decision
	}

	if req.Backend != "" && tier.Breaker.Enabled() {
		verdict, err := c.breakers.Allow(ctx, req.Backend, tier.Breaker.Settings())
		if err != nil {
			c.logger.Error("breaker evaluation failed, denying", "backend", req.Backend, "error", err)
			decision.Reason = ReasonStoreUnavailable
			return decision
		}
		decision.BreakerState = verdict.State
		if !verdict.Permit {
			decision.Reason = ReasonCircuitOpen
			decision.RetryAfter = verdict.RetryAfter
			return decision
		}
	}

	decision.Allowed = true
	return decision
}

// consumeQuotas charges one unit against every enforced period, shortest
// first. A denial stops the walk; units already charged against shorter
// periods stand, matching the rate limiter's burst charge that also stands
// when a later stage denies.
func (c *Controller) consumeQuotas(ctx context.Context, key *plan.Key, tier *plan.Plan,
	decision *Decision, now time.Time) bool {
	for _, period := range quota.Periods {
		ceiling := tier.Quotas.Ceiling(period)
		if ceiling <= 0 {
			continue
		}
		usage, err := c.quotas.Consume(ctx, key.ID, period, ceiling, 1)
		if err != nil {
			c.logger.Error("quota consume failed, denying",
				"key_id", key.ID, "period", period, "error", err)
			decision.Reason = ReasonStoreUnavailable
			return true
		}
		decision.Quota = usage
		if !usage.Allowed {
			decision.Reason = ReasonQuotaExceeded
			decision.RetryAfter = usage.ResetsAt.Sub(now)
			c.emitQuotaExceeded(ctx, key, usage)
			return true
		}
	}
	return false
}

func (c *Controller) peekQuotas(ctx context.Context, key *plan.Key, tier *plan.Plan,
	decision *Decision, now time.Time) bool {
	for _, period := range quota.Periods {
		ceiling := tier.Quotas.Ceiling(period)
		if ceiling <= 0 {
			continue
		}
		usage, err := c.quotas.Peek(ctx, key.ID, period, ceiling)
		if err != nil {
			c.logger.Error("quota peek failed, denying",
				"key_id", key.ID, "period", period, "error", err)
			decision.Reason = ReasonStoreUnavailable
			return true
		}
		if usage.Remaining() <= 0 {
			decision.Quota = usage
			decision.Reason = ReasonQuotaExceeded
			decision.RetryAfter = usage.ResetsAt.Sub(now)
			return true
		}
	}
	return false
}

// ReportBackend records the outcome of a breaker-guarded backend call made
// on behalf of a plan's key.
func (c *Controller) ReportBackend(ctx context.Context, planID, backendID string, success bool) error {
	tier := c.source.GetPlan(planID)
	if tier == nil {
		return fmt.Errorf("unknown plan %q", planID)
	}
	if !tier.Breaker.Enabled() {
		return nil
	}
	return c.breakers.Report(ctx, backendID, tier.Breaker.Settings(), success)
}

func (c *Controller) emitQuotaExceeded(ctx context.Context, key *plan.Key, usage *quota.Usage) {
	if c.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"key_id":    key.ID,
		"tenant_id": key.TenantID,
		"period":    usage.Period,
		"used":      usage.Used,
		"ceiling":   usage.Ceiling,
		"resets_at": usage.ResetsAt,
	})
	if err != nil {
		return
	}
	if _, err := c.events.Enqueue(ctx, webhook.Event{
		Type:       "quota.exceeded",
		TenantID:   key.TenantID,
		Payload:    payload,
		OccurredAt: c.clk.Now(),
	}); err != nil {
		c.logger.Error("failed to enqueue quota event", "key_id", key.ID, "error", err)
	}
}

func (c *Controller) record(req Request, decision *Decision, elapsed time.Duration) {
	c.metrics.recordDecision(decision, elapsed)
	if c.auditor == nil {
		return
	}
	c.auditor.Record(&audit.Record{
		KeyID:        decision.KeyID,
		TenantID:     decision.TenantID,
		PlanID:       decision.PlanID,
		Endpoint:     req.Endpoint,
		Backend:      req.Backend,
		Allowed:      decision.Allowed,
		Reason:       string(decision.Reason),
		RetryAfterMs: decision.RetryAfter.Milliseconds(),
	})
}
