package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/carapace-ai/carapace/internal/policy"
)

func TestInitPolicyCreatesLoadableConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := runInitPolicy(initPolicyCmd, nil); err != nil {
		t.Fatalf("runInitPolicy: %v", err)
	}

	path := filepath.Join(home, ".carapace", "policy.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("policy.yaml not created: %v", err)
	}
	if _, err := policy.LoadConfig(path); err != nil {
		t.Fatalf("generated config must load: %v", err)
	}

	// Second run must refuse to overwrite.
	if err := runInitPolicy(initPolicyCmd, nil); err == nil {
		t.Fatal("expected error when policy.yaml already exists")
	}
}
