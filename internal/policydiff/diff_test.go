package policydiff

import (
	"strings"
	"testing"

	"github.com/carapace-ai/carapace/internal/policy"
)

func TestNoChanges(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()

	r := Diff(old, new)
	if r.HasChanges {
		t.Errorf("expected no changes, got %+v", r)
	}
	if !strings.Contains(FormatText(r), "No changes detected") {
		t.Error("text output should say no changes detected")
	}
}

func TestDefaultOutcomeFlagged(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.DefaultOutcome = "allow"

	r := Diff(old, new)
	if len(r.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(r.Changes), r.Changes)
	}
	c := r.Changes[0]
	if c.Field != "default_outcome" {
		t.Errorf("field: got %s", c.Field)
	}
	if c.Comment != "no longer fails closed" {
		t.Errorf("comment: got %q", c.Comment)
	}
}

func TestTrustOrderChange(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.TrustOrder = []string{"SYSTEM", "USER", "EXTERNAL"}

	r := Diff(old, new)
	if len(r.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(r.Changes))
	}
	if r.Changes[0].New != "SYSTEM > USER > EXTERNAL" {
		t.Errorf("new: got %q", r.Changes[0].New)
	}
}

func TestRuleAddedRemovedChanged(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()

	// Remove low-risk.allow, loosen untrusted-critical.block, add one.
	var kept []policy.Rule
	for _, rule := range new.Rules {
		if rule.ID == "low-risk.allow" {
			continue
		}
		if rule.ID == "untrusted-critical.block" {
			rule.Outcome = "escalate"
		}
		kept = append(kept, rule)
	}
	kept = append(kept, policy.Rule{
		ID:       "ops-agents.allow",
		Priority: 25,
		Outcome:  "allow",
		Match:    policy.Match{Agents: []string{"ops-*"}},
	})
	new.Rules = kept

	r := Diff(old, new)
	if len(r.RuleChanges) != 3 {
		t.Fatalf("expected 3 rule changes, got %d: %+v", len(r.RuleChanges), r.RuleChanges)
	}

	byType := make(map[string]string)
	for _, rc := range r.RuleChanges {
		byType[rc.Type] = rc.Rule
	}
	if !strings.Contains(byType["added"], "ops-agents.allow") {
		t.Errorf("added: got %q", byType["added"])
	}
	if !strings.Contains(byType["removed"], "low-risk.allow") {
		t.Errorf("removed: got %q", byType["removed"])
	}
	if !strings.Contains(byType["changed"], "outcome deny → escalate") {
		t.Errorf("changed: got %q", byType["changed"])
	}
}

func TestRulePriorityAndMatchChange(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	for i := range new.Rules {
		if new.Rules[i].ID == "tainted-high.escalate" {
			new.Rules[i].Priority = 15
			new.Rules[i].Match.LabelsAny = []string{"EXTERNAL", "UNKNOWN"}
		}
	}

	r := Diff(old, new)
	if len(r.RuleChanges) != 1 {
		t.Fatalf("expected 1 rule change, got %d", len(r.RuleChanges))
	}
	rc := r.RuleChanges[0].Rule
	if !strings.Contains(rc, "priority 20 → 15") {
		t.Errorf("missing priority delta: %q", rc)
	}
	if !strings.Contains(rc, "match ") {
		t.Errorf("missing match delta: %q", rc)
	}
}

func TestResultTrustDiff(t *testing.T) {
	old := policy.DefaultConfig()
	old.ResultTrust = map[string]string{"low": "USER", "high": "EXTERNAL"}
	new := policy.DefaultConfig()
	new.ResultTrust = map[string]string{"low": "OPERATOR", "critical": "UNKNOWN"}

	r := Diff(old, new)
	if len(r.Changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(r.Changes), r.Changes)
	}

	text := FormatText(r)
	if !strings.Contains(text, "+ critical: UNKNOWN") {
		t.Errorf("missing added entry:\n%s", text)
	}
	if !strings.Contains(text, "- high: EXTERNAL") {
		t.Errorf("missing removed entry:\n%s", text)
	}
	if !strings.Contains(text, "~ low: USER → OPERATOR") {
		t.Errorf("missing changed entry:\n%s", text)
	}
}

func TestStoreBackendChange(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.Store = policy.StoreConfig{Backend: "sqlite", Path: "/var/lib/carapace/events.db"}

	r := Diff(old, new)
	if len(r.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(r.Changes))
	}
	if r.Changes[0].New != "sqlite:/var/lib/carapace/events.db" {
		t.Errorf("new: got %q", r.Changes[0].New)
	}
}

func TestFormatJSONRoundTrips(t *testing.T) {
	old := policy.DefaultConfig()
	new := policy.DefaultConfig()
	new.FallbackRisk = "critical"

	r := Diff(old, new)
	r.OldPath = "a.yaml"
	r.NewPath = "b.yaml"

	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"fallback_risk"`) {
		t.Errorf("json missing field: %s", out)
	}
	if !strings.Contains(out, `"has_changes": true`) {
		t.Errorf("json missing has_changes: %s", out)
	}
}
