package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crestline-hq/gatehouse/pkg/audit"
	"crestline-hq/gatehouse/pkg/cli"
	"crestline-hq/gatehouse/pkg/config"
)

var auditFlags struct {
	limit  int
	format string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the admission audit trail",
	Long: `Query the audit trail of admission decisions.

Every decision the server makes is appended to the audit store. This
command reads the same store offline, which requires the sqlite audit
backend; the memory backend does not survive the server process.

Examples:
  # Show the 20 most recent decisions
  gatehouse audit recent

  # Show more, as JSON
  gatehouse audit recent --limit 100 --format json`,
}

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent admission decisions",
	RunE:  showRecentAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditRecentCmd)

	auditRecentCmd.Flags().IntVar(&auditFlags.limit, "limit", 20, "maximum number of records")
	auditRecentCmd.Flags().StringVar(&auditFlags.format, "format", "text", "output format: text, json")
}

func showRecentAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Audit.Enabled || cfg.Audit.Backend != "sqlite" {
		return fmt.Errorf("audit querying requires the sqlite audit backend (configured: %q)", cfg.Audit.Backend)
	}

	storage, err := audit.NewSQLiteStorage(audit.SQLiteConfig{Path: cfg.Audit.Path})
	if err != nil {
		return cli.NewCommandError("audit", fmt.Errorf("failed to open audit store: %w", err))
	}
	defer storage.Close()

	records, err := storage.Recent(context.Background(), auditFlags.limit)
	if err != nil {
		return cli.NewCommandError("audit", fmt.Errorf("query failed: %w", err))
	}

	if len(records) == 0 {
		fmt.Println("No audit records found.")
		return nil
	}

	if auditFlags.format == string(cli.FormatJSON) {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, records)
	}

	for _, r := range records {
		outcome := "ALLOW"
		if !r.Allowed {
			outcome = fmt.Sprintf("DENY %s", r.Reason)
		}
		fmt.Printf("%s  %-22s key=%s tenant=%s plan=%s endpoint=%s\n",
			r.Time.Format("2006-01-02T15:04:05Z07:00"), outcome,
			r.KeyID, r.TenantID, r.PlanID, r.Endpoint)
	}
	fmt.Printf("\n%d records\n", len(records))
	return nil
}
