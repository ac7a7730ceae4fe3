package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/plan"
	"crestline-hq/gatehouse/pkg/store"
)

// Source resolves webhook registrations. *plan.Registry satisfies it.
type Source interface {
	WebhooksForEvent(tenantID, eventType string) []*plan.Webhook
	GetWebhook(id string) *plan.Webhook
}

// Alerter is notified when a delivery exhausts all attempts. Dead-lettering
// is terminal and invisible to the event producer, so the alert is the only
// signal that a tenant endpoint is broken.
type Alerter interface {
	DeadLettered(ctx context.Context, delivery *Delivery)
}

// LogAlerter reports dead-lettered deliveries through the structured log.
type LogAlerter struct {
	Logger *slog.Logger
}

func (a *LogAlerter) DeadLettered(_ context.Context, d *Delivery) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("webhook delivery dead-lettered",
		"delivery_id", d.ID,
		"webhook_id", d.WebhookID,
		"tenant_id", d.TenantID,
		"event_type", d.EventType,
		"attempts", d.Attempts,
		"last_status", d.LastStatus,
		"last_error", d.LastError,
	)
}

// Config controls dispatcher behavior.
type Config struct {
	// Workers is the number of concurrent delivery goroutines.
	Workers int

	// HTTPTimeout bounds each outbound POST. A timeout is a failed attempt.
	HTTPTimeout time.Duration

	// MaxBackoff caps the exponential retry delay. Zero means uncapped.
	MaxBackoff time.Duration

	// JitterFraction spreads retry delays by up to this fraction in either
	// direction. Zero disables jitter.
	JitterFraction float64

	// LeaseTimeout is how long a worker may hold a delivering record before
	// it becomes re-claimable. Must exceed HTTPTimeout.
	LeaseTimeout time.Duration

	// SweepInterval is how often the store is scanned for deliveries whose
	// lease expired or that were left behind by a restart.
	SweepInterval time.Duration

	// CompletedTTL is how long terminal delivery records stay readable.
	CompletedTTL time.Duration

	// OutboundRate limits POSTs per second across all workers. Zero means
	// unlimited.
	OutboundRate float64

	// OutboundBurst is the burst size for the outbound limiter.
	OutboundBurst int

	// Alerter receives dead-letter notifications. Defaults to LogAlerter.
	Alerter Alerter

	// Metrics is optional; nil records nothing.
	Metrics *Metrics
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 2 * c.HTTPTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = 24 * time.Hour
	}
	if c.OutboundBurst <= 0 {
		c.OutboundBurst = 1
	}
}

// Dispatcher fans events out to subscribed webhooks and delivers them with
// retry, exponential backoff, and HMAC signing. Delivery records live in the
// usage store; the in-memory queue only schedules attempts, so a restart
// recovers every non-terminal delivery from the store.
type Dispatcher struct {
	cfg     Config
	backend store.Backend
	source  Source
	clk     clock.Clock
	client  *http.Client
	limiter *rate.Limiter
	queue   *delayedQueue
	logger  *slog.Logger

	jobs   chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher creates a dispatcher. Call Start to begin delivering.
func NewDispatcher(backend store.Backend, source Source, clk clock.Clock, cfg Config) *Dispatcher {
	cfg.ApplyDefaults()
	if cfg.Alerter == nil {
		cfg.Alerter = &LogAlerter{}
	}

	var limiter *rate.Limiter
	if cfg.OutboundRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OutboundRate), cfg.OutboundBurst)
	}

	return &Dispatcher{
		cfg:     cfg,
		backend: backend,
		source:  source,
		clk:     clk,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: limiter,
		queue:   newDelayedQueue(),
		logger:  slog.Default().With("component", "webhook-dispatcher"),
		jobs:    make(chan string, 256),
		stopCh:  make(chan struct{}),
	}
}

// WithMetrics attaches Prometheus metrics. Call before Start.
func (d *Dispatcher) WithMetrics(m *Metrics) *Dispatcher {
	d.cfg.Metrics = m
	return d
}

// QueueLen reports the number of scheduled deliveries, for metrics.
func (d *Dispatcher) QueueLen() int {
	return d.queue.Len()
}

// Enqueue creates one pending delivery per active webhook subscribed to the
// event and schedules each for immediate attempt. Returns the number of
// deliveries created. Fan-out is best effort per webhook: a store failure on
// one registration does not block the others.
func (d *Dispatcher) Enqueue(ctx context.Context, event Event) (int, error) {
	hooks := d.source.WebhooksForEvent(event.TenantID, event.Type)
	if len(hooks) == 0 {
		return 0, nil
	}

	now := d.clk.Now()
	created := 0
	var firstErr error
	for _, hook := range hooks {
		delivery := &Delivery{
			ID:          uuid.NewString(),
			WebhookID:   hook.ID,
			TenantID:    event.TenantID,
			EventType:   event.Type,
			Payload:     event.Payload,
			PayloadHash: HashPayload(event.Payload),
			State:       StatePending,
			NextRetry:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := d.persist(ctx, delivery, 0); err != nil {
			d.logger.Error("failed to persist delivery",
				"webhook_id", hook.ID, "event_type", event.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.queue.Schedule(delivery.ID, now)
		d.cfg.Metrics.recordEnqueued(event.Type)
		created++
	}
	return created, firstErr
}

// Start launches the scheduler, the worker pool, and the lease sweeper. It
// first recovers non-terminal deliveries left in the store.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		if err := d.Recover(ctx); err != nil {
			d.logger.Error("delivery recovery failed", "error", err)
		}

		d.wg.Add(1)
		go d.scheduleLoop()

		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.workerLoop()
		}

		d.wg.Add(1)
		go d.sweepLoop()

		d.logger.Info("webhook dispatcher started", "workers", d.cfg.Workers)
	})
}

// Close stops all background goroutines and waits for in-flight attempts.
func (d *Dispatcher) Close() error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	return nil
}

// Recover re-schedules every non-terminal delivery found in the store:
// pending records at their next-retry time, and delivering records whose
// lease has expired immediately. Crashed workers lose their lease, never
// their delivery.
func (d *Dispatcher) Recover(ctx context.Context) error {
	entries, err := d.backend.List(ctx, store.NamespaceDelivery)
	if err != nil {
		return fmt.Errorf("listing deliveries: %w", err)
	}

	now := d.clk.Now()
	recovered := 0
	for _, entry := range entries {
		var delivery Delivery
		if err := json.Unmarshal(entry.Value, &delivery); err != nil {
			d.logger.Warn("skipping undecodable delivery record", "key", entry.Key, "error", err)
			continue
		}
		if delivery.Terminal() {
			continue
		}
		switch delivery.State {
		case StatePending, StateFailed:
			d.queue.Schedule(delivery.ID, delivery.NextRetry)
			recovered++
		case StateDelivering:
			if !delivery.LeaseUntil.After(now) {
				d.queue.Schedule(delivery.ID, now)
				recovered++
			}
		}
	}
	if recovered > 0 {
		d.logger.Info("recovered deliveries from store", "count", recovered)
	}
	return nil
}

// ProcessDue synchronously attempts every delivery due at the current clock
// reading. Returns the number of deliveries processed.
func (d *Dispatcher) ProcessDue(ctx context.Context) int {
	due := d.queue.PopDue(d.clk.Now())
	for _, id := range due {
		d.process(ctx, id)
	}
	return len(due)
}

// scheduleLoop moves due deliveries from the delay queue to the worker pool.
// It sleeps until the next due time and wakes early when the schedule
// changes.
func (d *Dispatcher) scheduleLoop() {
	defer d.wg.Done()

	const maxWait = time.Second
	for {
		for _, id := range d.queue.PopDue(d.clk.Now()) {
			select {
			case d.jobs <- id:
			case <-d.stopCh:
				return
			}
		}

		wait := maxWait
		if next, ok := d.queue.NextDue(); ok {
			if until := next.Sub(d.clk.Now()); until < wait {
				wait = until
			}
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-d.queue.Wake():
			timer.Stop()
		case <-d.stopCh:
			timer.Stop()
			return
		}
	}
}

func (d *Dispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		select {
		case id := <-d.jobs:
			d.process(context.Background(), id)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) sweepLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.Recover(context.Background()); err != nil {
				d.logger.Error("delivery sweep failed", "error", err)
			}
		case <-d.stopCh:
			return
		}
	}
}

// process claims and attempts one delivery. The claim is a compare-and-swap
// to the delivering state, so at most one worker holds a delivery at a time
// even when the sweeper and the scheduler both queued it.
func (d *Dispatcher) process(ctx context.Context, deliveryID string) {
	entry, err := d.backend.Get(ctx, store.NamespaceDelivery, deliveryID)
	if err != nil {
		d.logger.Error("failed to load delivery", "delivery_id", deliveryID, "error", err)
		return
	}
	if entry == nil {
		return
	}

	var delivery Delivery
	if err := json.Unmarshal(entry.Value, &delivery); err != nil {
		d.logger.Error("undecodable delivery record", "delivery_id", deliveryID, "error", err)
		return
	}
	if delivery.Terminal() {
		return
	}

	now := d.clk.Now()
	switch delivery.State {
	case StatePending, StateFailed:
		if delivery.NextRetry.After(now) {
			d.queue.Schedule(delivery.ID, delivery.NextRetry)
			return
		}
	case StateDelivering:
		if delivery.LeaseUntil.After(now) {
			// Another worker holds the lease.
			return
		}
	}

	delivery.State = StateDelivering
	delivery.LeaseUntil = now.Add(d.cfg.LeaseTimeout)
	delivery.UpdatedAt = now
	if err := d.persist(ctx, &delivery, entry.Version); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			d.logger.Error("failed to claim delivery", "delivery_id", deliveryID, "error", err)
		}
		// Lost the claim race.
		return
	}

	hook := d.source.GetWebhook(delivery.WebhookID)
	if hook == nil || !hook.Active {
		delivery.State = StateDeadLettered
		delivery.LastError = "webhook registration missing or inactive"
		delivery.UpdatedAt = now
		d.finalize(ctx, &delivery)
		return
	}

	d.attempt(ctx, &delivery, hook)
}

// attempt performs one signed POST and applies the retry policy.
func (d *Dispatcher) attempt(ctx context.Context, delivery *Delivery, hook *plan.Webhook) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			// Shutdown or caller cancellation. The lease expires and the
			// sweeper re-queues the delivery.
			return
		}
	}

	started := time.Now()
	status, err := d.post(ctx, delivery, hook)
	elapsed := time.Since(started)

	now := d.clk.Now()
	delivery.Attempts++
	delivery.LastStatus = status
	delivery.UpdatedAt = now

	if err == nil && status >= 200 && status < 300 {
		delivery.State = StateDelivered
		delivery.LastError = ""
		d.cfg.Metrics.recordAttempt("delivered", elapsed)
		d.logger.Debug("delivery succeeded",
			"delivery_id", delivery.ID, "attempts", delivery.Attempts, "status", status)
		d.finalize(ctx, delivery)
		return
	}

	if err != nil {
		delivery.LastError = err.Error()
	} else {
		delivery.LastError = fmt.Sprintf("endpoint returned %d", status)
	}
	d.cfg.Metrics.recordAttempt("failed", elapsed)

	if delivery.Attempts >= hook.MaxAttempts {
		delivery.State = StateDeadLettered
		d.finalize(ctx, delivery)
		return
	}

	delivery.State = StateFailed
	delivery.NextRetry = now.Add(d.backoff(hook, delivery.Attempts))
	if err := d.persist(ctx, delivery, -1); err != nil {
		d.logger.Error("failed to persist retry state", "delivery_id", delivery.ID, "error", err)
		return
	}
	d.queue.Schedule(delivery.ID, delivery.NextRetry)
	d.logger.Debug("delivery attempt failed, retry scheduled",
		"delivery_id", delivery.ID,
		"attempts", delivery.Attempts,
		"next_retry", delivery.NextRetry,
		"error", delivery.LastError,
	)
}

// finalize persists a terminal delivery with the retention TTL and fires the
// dead-letter alert when applicable.
func (d *Dispatcher) finalize(ctx context.Context, delivery *Delivery) {
	delivery.NextRetry = time.Time{}
	delivery.LeaseUntil = time.Time{}
	if err := d.persist(ctx, delivery, -1); err != nil {
		d.logger.Error("failed to persist terminal delivery", "delivery_id", delivery.ID, "error", err)
	}
	d.queue.Remove(delivery.ID)

	if delivery.State == StateDeadLettered {
		d.cfg.Metrics.recordDeadLettered()
		d.cfg.Alerter.DeadLettered(ctx, delivery)
	}
}

// persist writes the delivery record. expect 0 creates, -1 upserts, any
// other value is a compare-and-swap.
func (d *Dispatcher) persist(ctx context.Context, delivery *Delivery, expect int64) error {
	value, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("encoding delivery: %w", err)
	}

	var ttl time.Duration
	if delivery.Terminal() {
		ttl = d.cfg.CompletedTTL
	}

	if expect < 0 {
		_, err = d.backend.Put(ctx, store.NamespaceDelivery, delivery.ID, value, ttl)
	} else {
		_, err = d.backend.Swap(ctx, store.NamespaceDelivery, delivery.ID, expect, value, ttl)
	}
	return err
}

func (d *Dispatcher) post(ctx context.Context, delivery *Delivery, hook *plan.Webhook) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(hook.Secret, delivery.Payload))
	req.Header.Set(HeaderDeliveryID, delivery.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(delivery.Attempts+1))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

// backoff returns the delay before the next attempt after `attempts`
// completed failures: base * 2^(attempts-1), capped and jittered.
func (d *Dispatcher) backoff(hook *plan.Webhook, attempts int) time.Duration {
	shift := attempts - 1
	if shift > 30 {
		shift = 30
	}
	delay := hook.BaseBackoff * time.Duration(1<<uint(shift))
	if d.cfg.MaxBackoff > 0 && delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	if d.cfg.JitterFraction > 0 {
		spread := d.cfg.JitterFraction * (2*rand.Float64() - 1)
		delay = time.Duration(float64(delay) * (1 + spread))
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
