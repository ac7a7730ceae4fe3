package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"crestline-hq/gatehouse/pkg/plan"
)

var keysFlags struct {
	tenant string
	plan   string
	keyID  string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage tenant API keys",
	Long: `Generate and inspect tenant API keys.

Keys are bearer tokens with a gh_ prefix. The registry stores only the
SHA-256 hash of the token, so the plaintext exists exactly once: in the
output of this command. Hand it to the tenant and keep the hash.

Examples:
  # Generate a key for a tenant on the starter plan
  gatehouse keys generate --tenant acme --plan starter

  # Generate with a fixed key id
  gatehouse keys generate --tenant acme --plan starter --key-id key-acme-ci`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long: `Generate a new API key and print the registry entry for it.

The plaintext token is printed once and cannot be recovered. Add the
printed snippet to the registry file and reload (or let the watcher pick
it up) to activate the key.`,
	RunE: generateKey,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)

	keysGenerateCmd.Flags().StringVar(&keysFlags.tenant, "tenant", "", "tenant id the key belongs to")
	keysGenerateCmd.Flags().StringVar(&keysFlags.plan, "plan", "", "plan id the key is billed under")
	keysGenerateCmd.Flags().StringVar(&keysFlags.keyID, "key-id", "", "key id (auto-generated if empty)")
	_ = keysGenerateCmd.MarkFlagRequired("tenant")
	_ = keysGenerateCmd.MarkFlagRequired("plan")
}

func generateKey(cmd *cobra.Command, args []string) error {
	keyID := keysFlags.keyID
	if keyID == "" {
		keyID = "key-" + uuid.NewString()
	}

	token, hash, err := plan.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	fmt.Printf("Key ID: %s\n", keyID)
	fmt.Printf("Token:  %s\n", token)
	fmt.Println()
	fmt.Println("⚠️  The token is shown once. Store it securely; only the hash is kept.")
	fmt.Println()
	fmt.Println("Registry snippet:")
	fmt.Println("keys:")
	fmt.Printf("  - id: %s\n", keyID)
	fmt.Printf("    tenant_id: %s\n", keysFlags.tenant)
	fmt.Printf("    plan_id: %s\n", keysFlags.plan)
	fmt.Printf("    token_hash: \"%s\"\n", hash)
	fmt.Println("    status: active")
	fmt.Printf("    created_at: %s\n", time.Now().UTC().Format(time.RFC3339))

	return nil
}
