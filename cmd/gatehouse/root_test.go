package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crestline-hq/gatehouse/pkg/plan"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"run":      false,
		"validate": false,
		"keys":     false,
		"audit":    false,
		"version":  false,
	}

	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func writeRegistryFixture(t *testing.T, strategy string) string {
	t.Helper()

	content := fmt.Sprintf(`plans:
  - id: starter
    name: Starter
    rate_limit:
      strategy: %s
      ceiling: 100
      window: 60s
    quotas:
      per_day: 10000
keys:
  - id: key-1
    tenant_id: acme
    plan_id: starter
    token_hash: "%s"
    status: active
`, strategy, plan.HashToken("gh_testtoken"))

	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write registry fixture: %v", err)
	}
	return path
}

func TestValidateCommand(t *testing.T) {
	registryPath := writeRegistryFixture(t, "fixed_window")

	cfgFile = ""
	validateFlags.registryPath = registryPath
	t.Cleanup(func() { validateFlags.registryPath = "" })

	if err := validateAll(validateCmd, nil); err != nil {
		t.Fatalf("expected valid fixture to pass, got %v", err)
	}
}

func TestValidateCommand_BadRegistry(t *testing.T) {
	registryPath := writeRegistryFixture(t, "no_such_strategy")

	cfgFile = ""
	validateFlags.registryPath = registryPath
	t.Cleanup(func() { validateFlags.registryPath = "" })

	if err := validateAll(validateCmd, nil); err == nil {
		t.Fatal("expected unknown strategy to fail validation")
	}
}

func TestVersionCommand(t *testing.T) {
	if versionCmd.Use != "version" {
		t.Errorf("versionCmd.Use = %q, want %q", versionCmd.Use, "version")
	}
	if versionCmd.Run == nil {
		t.Error("versionCmd.Run should not be nil")
	}
	if Version == "" {
		t.Error("Version should have a default")
	}
}
