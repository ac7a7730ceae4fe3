package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatehouse",
	Short: "Gatehouse - admission control for multi-tenant API gateways",
	Long: `Gatehouse decides, per request, whether an API caller may proceed.

It composes API key authentication, burst rate limiting, billing-period
quota accounting, and per-backend circuit breaking into a single allow/deny
decision, exposed over HTTP for gateways to consult. Tenants are notified
of quota events through signed webhooks with at-least-once delivery.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
