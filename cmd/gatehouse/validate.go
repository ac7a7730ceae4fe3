package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"crestline-hq/gatehouse/pkg/cli"
	"crestline-hq/gatehouse/pkg/config"
	"crestline-hq/gatehouse/pkg/plan"
)

var validateFlags struct {
	registryPath string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and registry",
	Long: `Validate the gatehouse configuration file and the plan/key registry.

The command loads both files the same way the server does, so anything it
accepts will also start cleanly. Checks include:
  - configuration field values and cross-field constraints
  - plan definitions (strategy names, ceilings, windows)
  - key references to plans, duplicate ids, token hash format
  - webhook registrations (URLs, event subscriptions, secrets)

Examples:
  # Validate the default configuration
  gatehouse validate

  # Validate a specific config and registry
  gatehouse validate --config /etc/gatehouse/config.yaml --registry plans.yaml`,
	RunE: validateAll,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.registryPath, "registry", "", "registry file path (uses config if not specified)")
}

func validateAll(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	fmt.Println("✓ Configuration valid")

	registryPath := validateFlags.registryPath
	if registryPath == "" {
		registryPath = cfg.Registry.Path
	}

	registry, err := plan.NewRegistry(registryPath)
	if err != nil {
		return cli.NewCommandError("validate", fmt.Errorf("registry invalid: %w", err))
	}
	defer registry.Close()

	plans, keys, webhooks := registry.Stats()
	fmt.Printf("✓ Registry valid (%d plans, %d keys, %d webhooks)\n", plans, keys, webhooks)

	return nil
}
