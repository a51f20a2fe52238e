package policy

import (
	"fmt"
	"strings"

	"github.com/carapace-ai/carapace/internal/lattice"
	"github.com/carapace-ai/carapace/internal/model"
)

// Match is a predicate tree node expressed as data so rule sets stay
// serializable and auditable. Leaf fields on one node are ANDed; values
// inside a list are ORed; All/Any/Not nest arbitrarily. An empty node
// matches everything.
type Match struct {
	// Tools matches the proposed tool name. Patterns: "*x*" contains,
	// "*x" suffix, "x*" prefix, otherwise exact (case-insensitive).
	Tools []string `yaml:"tools,omitempty"`

	// RiskTiers matches the tool's declared (or fallback) tier.
	RiskTiers []string `yaml:"risk_tiers,omitempty"`

	// Categories matches the tool's registered category, exact.
	Categories []string `yaml:"categories,omitempty"`

	// LabelsAny matches when any listed trust label is reachable from
	// the proposal's inputs. Exact membership over the taint set.
	LabelsAny []string `yaml:"labels_any,omitempty"`

	// TrustAtLeast matches when the joined lineage trust is at least
	// this label.
	TrustAtLeast string `yaml:"trust_at_least,omitempty"`

	// TrustBelow matches when the joined lineage trust is strictly
	// less trusted than this label.
	TrustBelow string `yaml:"trust_below,omitempty"`

	// Agents matches the proposing agent id, same patterns as Tools.
	Agents []string `yaml:"agents,omitempty"`

	All []Match `yaml:"all,omitempty"`
	Any []Match `yaml:"any,omitempty"`
	Not *Match  `yaml:"not,omitempty"`
}

// Input is everything a predicate may inspect about a proposal.
type Input struct {
	Tool     string
	RiskTier model.RiskTier
	Category string
	AgentID  string

	// Labels maps each trust label reachable from the proposal's
	// inputs to the earliest event carrying it.
	Labels map[model.TrustLevel]model.EventID
	// Joined is the lattice join of Labels (top when empty).
	Joined model.TrustLevel
}

// eval reports whether the node matches. The evidence string names the
// taint fact that satisfied a label leaf, so decision reasons can quote
// it. An error means the predicate could not be evaluated against the
// active lattice — the caller treats the rule as a non-match.
func (m Match) eval(in Input, lat *lattice.Lattice) (bool, string, error) {
	var evidence []string

	if len(m.Tools) > 0 && !matchAnyPattern(m.Tools, in.Tool) {
		return false, "", nil
	}
	if len(m.RiskTiers) > 0 && !containsFold(m.RiskTiers, string(in.RiskTier)) {
		return false, "", nil
	}
	if len(m.Categories) > 0 && !containsFold(m.Categories, in.Category) {
		return false, "", nil
	}
	if len(m.Agents) > 0 && !matchAnyPattern(m.Agents, in.AgentID) {
		return false, "", nil
	}

	if len(m.LabelsAny) > 0 {
		hit := ""
		for _, raw := range m.LabelsAny {
			label := model.TrustLevel(raw)
			if carrier, ok := in.Labels[label]; ok {
				hit = fmt.Sprintf("tainted by %s (event %d)", label, carrier)
				break
			}
		}
		if hit == "" {
			return false, "", nil
		}
		evidence = append(evidence, hit)
	}

	if m.TrustAtLeast != "" {
		ok, err := lat.IsAtLeast(in.Joined, model.TrustLevel(m.TrustAtLeast))
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, "", nil
		}
		evidence = append(evidence, fmt.Sprintf("lineage trust %s", in.Joined))
	}
	if m.TrustBelow != "" {
		ok, err := lat.IsAtLeast(in.Joined, model.TrustLevel(m.TrustBelow))
		if err != nil {
			return false, "", err
		}
		if ok {
			return false, "", nil
		}
		evidence = append(evidence, fmt.Sprintf("lineage trust %s", in.Joined))
	}

	for _, child := range m.All {
		ok, ev, err := child.eval(in, lat)
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, "", nil
		}
		if ev != "" {
			evidence = append(evidence, ev)
		}
	}

	if len(m.Any) > 0 {
		matched := false
		for _, child := range m.Any {
			ok, ev, err := child.eval(in, lat)
			if err != nil {
				return false, "", err
			}
			if ok {
				matched = true
				if ev != "" {
					evidence = append(evidence, ev)
				}
				break
			}
		}
		if !matched {
			return false, "", nil
		}
	}

	if m.Not != nil {
		ok, _, err := m.Not.eval(in, lat)
		if err != nil {
			return false, "", err
		}
		if ok {
			return false, "", nil
		}
	}

	return true, strings.Join(evidence, "; "), nil
}

// validate checks that every label the node references belongs to the
// lattice and every tier is declared. Runs at compile time so a bad
// rule set is rejected before the engine starts.
func (m Match) validate(lat *lattice.Lattice) error {
	for _, raw := range m.LabelsAny {
		if !lat.Contains(model.TrustLevel(raw)) {
			return fmt.Errorf("labels_any references %q which is not in the trust order", raw)
		}
	}
	for _, raw := range []string{m.TrustAtLeast, m.TrustBelow} {
		if raw != "" && !lat.Contains(model.TrustLevel(raw)) {
			return fmt.Errorf("trust bound references %q which is not in the trust order", raw)
		}
	}
	for _, tier := range m.RiskTiers {
		if !model.ValidRiskTier(model.RiskTier(tier)) {
			return fmt.Errorf("unknown risk tier %q", tier)
		}
	}
	for _, child := range m.All {
		if err := child.validate(lat); err != nil {
			return err
		}
	}
	for _, child := range m.Any {
		if err := child.validate(lat); err != nil {
			return err
		}
	}
	if m.Not != nil {
		return m.Not.validate(lat)
	}
	return nil
}

// matchAnyPattern reports whether value matches any pattern.
// Pattern forms: "*" everything, "*x*" contains, "*x" suffix,
// "x*" prefix, otherwise exact. Case-insensitive.
func matchAnyPattern(patterns []string, value string) bool {
	for _, p := range patterns {
		if matchPattern(p, value) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	lp := strings.ToLower(pattern)
	lv := strings.ToLower(value)

	switch {
	case strings.HasPrefix(lp, "*") && strings.HasSuffix(lp, "*"):
		return strings.Contains(lv, lp[1:len(lp)-1])
	case strings.HasPrefix(lp, "*"):
		return strings.HasSuffix(lv, lp[1:])
	case strings.HasSuffix(lp, "*"):
		return strings.HasPrefix(lv, lp[:len(lp)-1])
	default:
		return lv == lp
	}
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
