package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"crestline-hq/gatehouse/pkg/admission"
	"crestline-hq/gatehouse/pkg/audit"
	"crestline-hq/gatehouse/pkg/breaker"
	"crestline-hq/gatehouse/pkg/cli"
	"crestline-hq/gatehouse/pkg/clock"
	"crestline-hq/gatehouse/pkg/config"
	"crestline-hq/gatehouse/pkg/plan"
	"crestline-hq/gatehouse/pkg/quota"
	"crestline-hq/gatehouse/pkg/ratelimit"
	"crestline-hq/gatehouse/pkg/server"
	"crestline-hq/gatehouse/pkg/store"
	"crestline-hq/gatehouse/pkg/telemetry/logging"
	"crestline-hq/gatehouse/pkg/webhook"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admission server",
	Long: `Start the gatehouse admission server with the specified configuration.

The server listens on the configured address and answers admission checks
against the plan/key registry, the rate limiter, quota accounting, and the
circuit breaker. The webhook dispatcher runs alongside it.

Examples:
  # Start with default config
  gatehouse run

  # Start with custom config
  gatehouse run --config /etc/gatehouse/config.yaml

  # Override listen address
  gatehouse run --listen 0.0.0.0:8080

  # Validate config without starting the server
  gatehouse run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if err := logging.Setup(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		AddSource:    cfg.Logging.AddSource,
		RedactTokens: cfg.Logging.RedactTokens,
	}); err != nil {
		return cli.NewConfigError("logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Gatehouse v%s\n", Version)
	fmt.Println("✓ Configuration loaded")

	clk := clock.System()

	// Usage store: all rate, quota, breaker, and delivery state lives here.
	var backend store.Backend
	switch cfg.Store.Backend {
	case "sqlite":
		backend, err = store.NewSQLiteBackendWithConfig(store.SQLiteBackendConfig{
			DBPath: cfg.Store.Path,
			Clock:  clk,
		})
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to open usage store: %w", err))
		}
	default:
		backend = store.NewMemoryBackendWithConfig(store.MemoryBackendConfig{
			MaxEntries:      cfg.Store.MaxEntries,
			CleanupInterval: cfg.Store.CleanupInterval,
			Clock:           clk,
		})
	}
	defer backend.Close()
	fmt.Printf("✓ Usage store initialized (%s)\n", cfg.Store.Backend)

	// Plan/key registry
	registry, err := plan.NewRegistry(cfg.Registry.Path)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to load registry: %w", err))
	}
	defer registry.Close()
	if cfg.Registry.Watch {
		if err := registry.Watch(); err != nil {
			slog.Warn("registry hot reload unavailable", "error", err)
		}
	}
	plans, keys, webhooks := registry.Stats()
	fmt.Printf("✓ Registry loaded (%d plans, %d keys, %d webhooks)\n", plans, keys, webhooks)

	// Audit trail
	var auditor *audit.Recorder
	if cfg.Audit.Enabled {
		var auditStorage audit.Storage
		switch cfg.Audit.Backend {
		case "sqlite":
			auditStorage, err = audit.NewSQLiteStorage(audit.SQLiteConfig{Path: cfg.Audit.Path})
			if err != nil {
				return cli.NewCommandError("run", fmt.Errorf("failed to open audit store: %w", err))
			}
		default:
			auditStorage = audit.NewMemoryStorage()
		}
		defer auditStorage.Close()

		auditor = audit.NewRecorder(auditStorage, clk, audit.RecorderConfig{
			BufferSize: cfg.Audit.BufferSize,
		})
		defer auditor.Close()

		if cfg.Audit.RetentionSchedule != "" {
			pruner := audit.NewPruner(auditStorage, clk, audit.RetentionConfig{
				Period:   cfg.Audit.RetentionPeriod,
				Schedule: cfg.Audit.RetentionSchedule,
			})
			if err := pruner.Start(); err != nil {
				slog.Warn("failed to start audit retention scheduler", "error", err)
			} else {
				defer pruner.Stop()
			}
		}
		fmt.Printf("✓ Audit trail initialized (%s)\n", cfg.Audit.Backend)
	}

	ctx, cancel := cli.SetupSignalHandler()
	defer cancel()

	// Webhook dispatcher
	dispatcher := webhook.NewDispatcher(backend, registry, clk, webhook.Config{
		Workers:        cfg.Webhook.Workers,
		HTTPTimeout:    cfg.Webhook.HTTPTimeout,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
		JitterFraction: cfg.Webhook.JitterFraction,
		LeaseTimeout:   cfg.Webhook.LeaseTimeout,
		SweepInterval:  cfg.Webhook.SweepInterval,
		CompletedTTL:   cfg.Webhook.CompletedTTL,
		OutboundRate:   cfg.Webhook.OutboundRate,
		OutboundBurst:  cfg.Webhook.OutboundBurst,
	})
	if cfg.Metrics.Enabled {
		dispatcher.WithMetrics(webhook.NewMetrics(prometheus.DefaultRegisterer, dispatcher.QueueLen))
	}
	dispatcher.Start(ctx)
	defer dispatcher.Close()
	fmt.Printf("✓ Webhook dispatcher started (%d workers)\n", cfg.Webhook.Workers)

	// Admission controller
	controller := admission.NewController(
		registry,
		ratelimit.New(backend, clk),
		quota.NewTracker(backend, clk),
		breaker.New(backend, clk),
		clk,
	).WithEvents(dispatcher)
	if auditor != nil {
		controller.WithAudit(auditor)
	}
	if cfg.Metrics.Enabled {
		controller.WithMetrics(admission.NewMetrics(prometheus.DefaultRegisterer))
	}

	srv := server.NewServer(cfg, controller)

	fmt.Println()
	fmt.Printf("✓ Admission endpoint: http://%s/v1/admission/check\n", cfg.Server.ListenAddress)
	if cfg.Metrics.Enabled {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	// Start blocks until a shutdown signal, context cancellation, or a
	// listener error. Deferred teardown then drains the dispatcher and
	// audit recorder before the stores close.
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Println("✓ Server stopped")
	return nil
}
