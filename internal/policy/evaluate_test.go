package policy

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/carapace-ai/carapace/internal/lattice"
	"github.com/carapace-ai/carapace/internal/model"
)

func compileDefault(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := Compile(DefaultConfig(), lattice.Default(), "sha256:test")
	if err != nil {
		t.Fatalf("Compile default config: %v", err)
	}
	return rs
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	rs := compileDefault(t)

	// Critical tool with EXTERNAL taint satisfies both the block rule
	// (p10) and the escalate rule (p20); the block rule must win.
	in := Input{
		Tool:     "shell_exec",
		RiskTier: model.RiskCritical,
		Labels:   map[model.TrustLevel]model.EventID{model.TrustExternal: 3},
		Joined:   model.TrustExternal,
	}
	v, anomalies := rs.Evaluate(in)
	if len(anomalies) != 0 {
		t.Fatalf("unexpected anomalies: %v", anomalies)
	}
	if v.RuleID != "untrusted-critical.block" {
		t.Fatalf("RuleID = %q, want untrusted-critical.block", v.RuleID)
	}
	if v.Outcome != model.OutcomeDeny {
		t.Fatalf("Outcome = %q, want deny", v.Outcome)
	}
	if !strings.Contains(v.Reason, "event 3") {
		t.Fatalf("Reason %q does not cite the carrier event", v.Reason)
	}
}

func TestEvaluateTrustedLineageAllows(t *testing.T) {
	rs := compileDefault(t)

	in := Input{
		Tool:     "shell_exec",
		RiskTier: model.RiskCritical,
		Labels:   map[model.TrustLevel]model.EventID{model.TrustSystem: 1},
		Joined:   model.TrustSystem,
	}
	v, _ := rs.Evaluate(in)
	if v.RuleID != "trusted-lineage.allow" || v.Outcome != model.OutcomeAllow {
		t.Fatalf("got %s/%s, want trusted-lineage.allow/allow", v.RuleID, v.Outcome)
	}
}

func TestEvaluateEscalatesTaintedHighRisk(t *testing.T) {
	rs := compileDefault(t)

	in := Input{
		Tool:     "send_email",
		RiskTier: model.RiskHigh,
		Labels:   map[model.TrustLevel]model.EventID{model.TrustUser: 2},
		Joined:   model.TrustUser,
	}
	v, _ := rs.Evaluate(in)
	if v.RuleID != "tainted-high.escalate" || v.Outcome != model.OutcomeEscalate {
		t.Fatalf("got %s/%s, want tainted-high.escalate/escalate", v.RuleID, v.Outcome)
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	rs, err := Compile(&Config{}, lattice.Default(), "")
	if err != nil {
		t.Fatalf("Compile empty config: %v", err)
	}
	in := Input{Tool: "anything", RiskTier: model.RiskMedium, Joined: lattice.Default().Top()}
	v, _ := rs.Evaluate(in)
	if v.RuleID != model.DefaultRuleID {
		t.Fatalf("RuleID = %q, want %q", v.RuleID, model.DefaultRuleID)
	}
	if v.Outcome != model.OutcomeDeny {
		t.Fatalf("empty rule set must deny, got %q", v.Outcome)
	}
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	cfg := &Config{Rules: []Rule{
		{ID: "late", Priority: 50, Outcome: "deny", Match: Match{Tools: []string{"x"}}},
		{ID: "early", Priority: 5, Outcome: "allow", Match: Match{Tools: []string{"x"}}},
	}}
	rs, err := Compile(cfg, lattice.Default(), "")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	v, _ := rs.Evaluate(Input{Tool: "x", RiskTier: model.RiskLow, Joined: model.TrustSystem})
	if v.RuleID != "early" {
		t.Fatalf("lower priority must evaluate first, got %q", v.RuleID)
	}
}

func TestEvaluateDeclarationOrderBreaksTies(t *testing.T) {
	cfg := &Config{Rules: []Rule{
		{ID: "first", Priority: 10, Outcome: "allow", Match: Match{Tools: []string{"x"}}},
		{ID: "second", Priority: 10, Outcome: "deny", Match: Match{Tools: []string{"x"}}},
	}}
	rs, err := Compile(cfg, lattice.Default(), "")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	v, _ := rs.Evaluate(Input{Tool: "x", RiskTier: model.RiskLow, Joined: model.TrustSystem})
	if v.RuleID != "first" {
		t.Fatalf("declaration order must break priority ties, got %q", v.RuleID)
	}
}

func TestEvaluateCombinators(t *testing.T) {
	cfg := &Config{Rules: []Rule{
		{
			ID: "combo", Priority: 1, Outcome: "deny",
			Match: Match{
				All: []Match{
					{Tools: []string{"file_*"}},
					{Not: &Match{Categories: []string{"readonly"}}},
				},
				Any: []Match{
					{LabelsAny: []string{"EXTERNAL"}},
					{LabelsAny: []string{"UNKNOWN"}},
				},
			},
		},
	}}
	rs, err := Compile(cfg, lattice.Default(), "")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		name  string
		in    Input
		match bool
	}{
		{
			name: "all branches satisfied",
			in: Input{
				Tool: "file_write", Category: "mutating",
				Labels: map[model.TrustLevel]model.EventID{model.TrustExternal: 7},
				Joined: model.TrustExternal,
			},
			match: true,
		},
		{
			name: "not branch rejects readonly",
			in: Input{
				Tool: "file_read", Category: "readonly",
				Labels: map[model.TrustLevel]model.EventID{model.TrustExternal: 7},
				Joined: model.TrustExternal,
			},
			match: false,
		},
		{
			name: "any branch needs a taint hit",
			in: Input{
				Tool: "file_write", Category: "mutating",
				Labels: map[model.TrustLevel]model.EventID{model.TrustSystem: 1},
				Joined: model.TrustSystem,
			},
			match: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := rs.Evaluate(tt.in)
			got := v.RuleID == "combo"
			if got != tt.match {
				t.Fatalf("matched = %v, want %v (rule %q)", got, tt.match, v.RuleID)
			}
		})
	}
}

func TestEvaluateToolPatterns(t *testing.T) {
	cfg := &Config{Rules: []Rule{
		{ID: "pat", Priority: 1, Outcome: "deny", Match: Match{Tools: []string{"*_exec", "db_*", "*admin*"}}},
	}}
	rs, err := Compile(cfg, lattice.Default(), "")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		tool  string
		match bool
	}{
		{"shell_exec", true},
		{"db_drop", true},
		{"super_ADMIN_panel", true},
		{"file_read", false},
	}
	for _, tt := range tests {
		v, _ := rs.Evaluate(Input{Tool: tt.tool, Joined: model.TrustSystem})
		got := v.RuleID == "pat"
		if got != tt.match {
			t.Errorf("tool %q: matched = %v, want %v", tt.tool, got, tt.match)
		}
	}
}

func TestCompileRejectsBadConfig(t *testing.T) {
	lat := lattice.Default()

	tests := []struct {
		name string
		cfg  *Config
	}{
		{
			name: "unknown outcome",
			cfg:  &Config{Rules: []Rule{{ID: "r", Outcome: "maybe"}}},
		},
		{
			name: "unknown label",
			cfg:  &Config{Rules: []Rule{{ID: "r", Outcome: "deny", Match: Match{LabelsAny: []string{"MARTIAN"}}}}},
		},
		{
			name: "unknown risk tier",
			cfg:  &Config{Rules: []Rule{{ID: "r", Outcome: "deny", Match: Match{RiskTiers: []string{"apocalyptic"}}}}},
		},
		{
			name: "duplicate id",
			cfg: &Config{Rules: []Rule{
				{ID: "r", Outcome: "deny"},
				{ID: "r", Outcome: "allow"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.cfg, lat, ""); !errors.Is(err, model.ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestCompileAssignsRuleIDs(t *testing.T) {
	cfg := &Config{Rules: []Rule{{Outcome: "allow", Match: Match{Tools: []string{"x"}}}}}
	rs, err := Compile(cfg, lattice.Default(), "")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	v, _ := rs.Evaluate(Input{Tool: "x", Joined: model.TrustSystem})
	if v.RuleID != "rule.0" {
		t.Fatalf("RuleID = %q, want rule.0", v.RuleID)
	}
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/carapace.yaml"); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestLoadConfigDefaultYAMLRoundTrip(t *testing.T) {
	path := t.TempDir() + "/policy.yaml"
	if err := os.WriteFile(path, []byte(DefaultConfigYAML()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatalf("LoadConfigWithHash: %v", err)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Fatalf("hash %q missing prefix", hash)
	}
	if len(cfg.Rules) != len(DefaultConfig().Rules) {
		t.Fatalf("rules = %d, want %d", len(cfg.Rules), len(DefaultConfig().Rules))
	}
	if _, err := Compile(cfg, lattice.Default(), hash); err != nil {
		t.Fatalf("generated starter config must compile: %v", err)
	}
}
