// Package policydiff compares two engine configurations and reports
// what changed in reviewable terms. Rule changes are keyed by rule id,
// so renaming a rule reads as remove+add rather than a silent edit.
package policydiff

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/carapace-ai/carapace/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition, removal, or modification.
type RuleChange struct {
	Type string `json:"type"` // "added", "removed", "changed"
	Rule string `json:"rule"`
}

// DiffResult holds the comparison of two Configs.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Diff compares two engine configurations and returns the differences.
func Diff(old, new *policy.Config) *DiffResult {
	r := &DiffResult{}

	if !reflect.DeepEqual(old.TrustOrder, new.TrustOrder) {
		r.Changes = append(r.Changes, Change{
			Field: "trust_order",
			Old:   strings.Join(old.TrustOrder, " > "),
			New:   strings.Join(new.TrustOrder, " > "),
		})
	}

	if old.DefaultOutcome != new.DefaultOutcome {
		r.Changes = append(r.Changes, Change{
			Field:   "default_outcome",
			Old:     old.DefaultOutcome,
			New:     new.DefaultOutcome,
			Comment: outcomeComment(old.DefaultOutcome, new.DefaultOutcome),
		})
	}

	if old.FallbackRisk != new.FallbackRisk {
		r.Changes = append(r.Changes, Change{
			Field: "fallback_risk",
			Old:   old.FallbackRisk,
			New:   new.FallbackRisk,
		})
	}

	if old.Store != new.Store {
		r.Changes = append(r.Changes, Change{
			Field: "store",
			Old:   storeLabel(old.Store),
			New:   storeLabel(new.Store),
		})
	}

	diffResultTrust(r, old.ResultTrust, new.ResultTrust)
	diffRules(r, old.Rules, new.Rules)

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

// outcomeComment flags the one change reviewers must never miss: a
// default that stops failing closed.
func outcomeComment(old, new string) string {
	if old == "deny" && new != "deny" {
		return "no longer fails closed"
	}
	if old != "deny" && new == "deny" {
		return "now fails closed"
	}
	return ""
}

func storeLabel(s policy.StoreConfig) string {
	if s.Path == "" {
		return s.Backend
	}
	return s.Backend + ":" + s.Path
}

func diffResultTrust(r *DiffResult, old, new map[string]string) {
	for _, tier := range sortedKeys(new) {
		if oldTrust, ok := old[tier]; !ok {
			r.Changes = append(r.Changes, Change{
				Field:   "result_trust." + tier,
				New:     new[tier],
				Comment: "added",
			})
		} else if oldTrust != new[tier] {
			r.Changes = append(r.Changes, Change{
				Field: "result_trust." + tier,
				Old:   oldTrust,
				New:   new[tier],
			})
		}
	}
	for _, tier := range sortedKeys(old) {
		if _, ok := new[tier]; !ok {
			r.Changes = append(r.Changes, Change{
				Field:   "result_trust." + tier,
				Old:     old[tier],
				Comment: "removed",
			})
		}
	}
}

// ruleKey mirrors rule compilation: rules without an explicit id get
// one from their position.
func ruleKey(r policy.Rule, i int) string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("rule.%d", i)
}

func ruleLabel(key string, r policy.Rule) string {
	return fmt.Sprintf("%s (priority %d) → %s", key, r.Priority, r.Outcome)
}

func diffRules(r *DiffResult, oldRules, newRules []policy.Rule) {
	oldMap := make(map[string]policy.Rule)
	for i, rule := range oldRules {
		oldMap[ruleKey(rule, i)] = rule
	}
	newMap := make(map[string]policy.Rule)
	for i, rule := range newRules {
		newMap[ruleKey(rule, i)] = rule
	}

	for i, rule := range newRules {
		k := ruleKey(rule, i)
		oldRule, exists := oldMap[k]
		if !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "added",
				Rule: ruleLabel(k, rule),
			})
			continue
		}
		if desc := ruleDelta(oldRule, rule); desc != "" {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "changed",
				Rule: fmt.Sprintf("%s: %s", k, desc),
			})
		}
	}

	for i, rule := range oldRules {
		k := ruleKey(rule, i)
		if _, exists := newMap[k]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "removed",
				Rule: ruleLabel(k, rule),
			})
		}
	}
}

func ruleDelta(old, new policy.Rule) string {
	var parts []string
	if old.Outcome != new.Outcome {
		parts = append(parts, fmt.Sprintf("outcome %s → %s", old.Outcome, new.Outcome))
	}
	if old.Priority != new.Priority {
		parts = append(parts, fmt.Sprintf("priority %d → %d", old.Priority, new.Priority))
	}
	if !reflect.DeepEqual(old.Match, new.Match) {
		parts = append(parts, fmt.Sprintf("match %s → %s",
			matchSummary(old.Match), matchSummary(new.Match)))
	}
	if old.Reason != new.Reason {
		parts = append(parts, "reason changed")
	}
	return strings.Join(parts, ", ")
}

// matchSummary renders a predicate compactly on one line.
func matchSummary(m policy.Match) string {
	data, err := yaml.Marshal(m)
	if err != nil {
		return "?"
	}
	s := strings.TrimSpace(string(data))
	s = strings.ReplaceAll(s, "\n", "; ")
	if s == "{}" {
		return "(everything)"
	}
	return "{" + s + "}"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
