package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crestline-hq/gatehouse/pkg/clock"
)

// RetentionConfig controls automatic pruning of old audit records.
type RetentionConfig struct {
	// Period is how long records are kept. Zero disables pruning.
	Period time.Duration

	// Schedule is a standard cron expression for when pruning runs,
	// e.g. "0 3 * * *" for daily at 3 AM. Empty disables the scheduler.
	Schedule string
}

// Pruner removes audit records older than the retention period on a cron
// schedule.
type Pruner struct {
	storage Storage
	clk     clock.Clock
	cfg     RetentionConfig
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewPruner creates a retention pruner. Call Start to begin scheduling.
func NewPruner(storage Storage, clk clock.Clock, cfg RetentionConfig) *Pruner {
	return &Pruner{
		storage: storage,
		clk:     clk,
		cfg:     cfg,
		cron:    cron.New(),
		logger:  slog.Default().With("component", "audit-retention"),
	}
}

// Start schedules pruning runs. A missing schedule or zero retention period
// disables the scheduler without error.
func (p *Pruner) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Schedule == "" || p.cfg.Period <= 0 {
		p.logger.Info("audit retention not configured, scheduler disabled")
		return nil
	}

	if _, err := cron.ParseStandard(p.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", p.cfg.Schedule, err)
	}

	if _, err := p.cron.AddFunc(p.cfg.Schedule, func() {
		if _, err := p.PruneOnce(context.Background()); err != nil {
			p.logger.Error("scheduled prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention prune: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("audit retention scheduler started",
		"schedule", p.cfg.Schedule,
		"period", p.cfg.Period,
	)
	return nil
}

// PruneOnce removes all records older than the retention period.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.clk.Now().Add(-p.cfg.Period)
	removed, err := p.storage.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		p.logger.Info("pruned audit records", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Stop halts the scheduler and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		<-p.cron.Stop().Done()
		p.running = false
	}
}
