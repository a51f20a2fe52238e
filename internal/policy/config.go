// Package policy holds the rule set evaluated against proposed tool
// calls. Rule sets are data, not code: loaded from YAML, validated at
// engine creation, and swapped wholesale on hot reload.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/carapace-ai/carapace/internal/lattice"
	"github.com/carapace-ai/carapace/internal/model"
)

// Rule is one prioritized predicate-to-outcome mapping. Lower priority
// values are evaluated first; ties are broken by declaration order.
type Rule struct {
	ID       string `yaml:"id"`
	Priority int    `yaml:"priority"`
	Outcome  string `yaml:"outcome"`
	Reason   string `yaml:"reason"`
	Match    Match  `yaml:"match"`
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" (default) or "sqlite"
	Path    string `yaml:"path"`
}

// Config is the full engine configuration surface.
type Config struct {
	// TrustOrder lists trust labels most trusted first. Empty means the
	// embedded default ordering.
	TrustOrder []string `yaml:"trust_order"`

	// DefaultOutcome applies when no rule matches. Anything but an
	// explicit "allow" or "escalate" is treated as deny.
	DefaultOutcome string `yaml:"default_outcome"`

	// FallbackRisk is the tier assumed for unregistered tools.
	FallbackRisk string `yaml:"fallback_risk"`

	// ResultTrust optionally auto-assigns a trust label to tool results
	// by the tool's risk tier. Unlisted tiers leave results unlabeled.
	ResultTrust map[string]string `yaml:"result_trust"`

	Store StoreConfig `yaml:"store"`

	Rules []Rule `yaml:"rules"`
}

// DefaultConfig returns the embedded configuration: the chitin-style
// trust ordering and a small conservative rule set that denies
// untrusted lineage into dangerous tools and allows trusted lineage.
func DefaultConfig() *Config {
	return &Config{
		TrustOrder:     []string{"SYSTEM", "OPERATOR", "USER", "EXTERNAL", "UNKNOWN"},
		DefaultOutcome: string(model.OutcomeDeny),
		FallbackRisk:   string(model.RiskHigh),
		Store:          StoreConfig{Backend: "memory"},
		Rules: []Rule{
			{
				ID:       "untrusted-critical.block",
				Priority: 10,
				Outcome:  string(model.OutcomeDeny),
				Reason:   "critical tool reached by untrusted data",
				Match: Match{
					RiskTiers: []string{string(model.RiskCritical)},
					LabelsAny: []string{"EXTERNAL", "UNKNOWN"},
				},
			},
			{
				ID:       "tainted-high.escalate",
				Priority: 20,
				Outcome:  string(model.OutcomeEscalate),
				Reason:   "high-risk tool with tainted lineage needs review",
				Match: Match{
					RiskTiers: []string{string(model.RiskHigh), string(model.RiskCritical)},
					LabelsAny: []string{"USER", "EXTERNAL", "UNKNOWN"},
				},
			},
			{
				ID:       "trusted-lineage.allow",
				Priority: 30,
				Outcome:  string(model.OutcomeAllow),
				Reason:   "lineage is fully trusted",
				Match: Match{
					TrustAtLeast: "OPERATOR",
				},
			},
			{
				ID:       "low-risk.allow",
				Priority: 40,
				Outcome:  string(model.OutcomeAllow),
				Reason:   "low-risk tool",
				Match: Match{
					RiskTiers: []string{string(model.RiskLow)},
				},
			},
		},
	}
}

// Lattice builds the trust lattice from the configured ordering, or
// the default ordering when none is set.
func (c *Config) Lattice() (*lattice.Lattice, error) {
	if len(c.TrustOrder) == 0 {
		return lattice.Default(), nil
	}
	order := make([]model.TrustLevel, len(c.TrustOrder))
	for i, s := range c.TrustOrder {
		order[i] = model.TrustLevel(s)
	}
	return lattice.New(order)
}

// LoadConfig loads configuration from a YAML file. An empty path means
// the embedded defaults. A missing file is a configuration error — a
// misspelled path must not silently run with defaults.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads configuration and returns the SHA-256 of the
// raw YAML bytes, recorded in the journal so every decision names the
// exact policy it was made under. Defaults hash as sha256 of empty
// input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		h := sha256.Sum256(nil)
		return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("policy: read config %q: %w", path, model.ErrConfiguration)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start from defaults; YAML overwrites only the keys it specifies.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("policy: parse config %q: %v: %w", path, err, model.ErrConfiguration)
	}
	return cfg, hash, nil
}

// DefaultConfigYAML returns a commented starter config for init-policy.
func DefaultConfigYAML() string {
	return `# carapace engine configuration
# Generated by: carapace init-policy

# Trust labels, most trusted first. Taint joins to the least trusted
# label reachable through an event's lineage.
trust_order: [SYSTEM, OPERATOR, USER, EXTERNAL, UNKNOWN]

# Outcome when no rule matches. Keep deny: fail closed.
default_outcome: deny

# Risk tier assumed for tools nobody registered.
fallback_risk: high

# Event store backend: memory (default) or sqlite.
store:
  backend: memory
  path: ""

# Optional automatic trust label for tool results, keyed by the tool's
# risk tier. Unlisted tiers leave results unlabeled until classified.
result_trust: {}

# Rules are evaluated by ascending priority, declaration order breaking
# ties. First match wins. Match fields are ANDed; values within a list
# are ORed. Combinators all/any/not nest arbitrarily.
rules:
  - id: untrusted-critical.block
    priority: 10
    outcome: deny
    reason: "critical tool reached by untrusted data"
    match:
      risk_tiers: [critical]
      labels_any: [EXTERNAL, UNKNOWN]

  - id: tainted-high.escalate
    priority: 20
    outcome: escalate
    reason: "high-risk tool with tainted lineage needs review"
    match:
      risk_tiers: [high, critical]
      labels_any: [USER, EXTERNAL, UNKNOWN]

  - id: trusted-lineage.allow
    priority: 30
    outcome: allow
    reason: "lineage is fully trusted"
    match:
      trust_at_least: OPERATOR

  - id: low-risk.allow
    priority: 40
    outcome: allow
    reason: "low-risk tool"
    match:
      risk_tiers: [low]
`
}
