package policy

import (
	"fmt"
	"sort"

	"github.com/carapace-ai/carapace/internal/lattice"
	"github.com/carapace-ai/carapace/internal/model"
)

// RuleSet is a compiled, immutable rule collection bound to the lattice
// it was validated against. The engine swaps whole RuleSets on reload;
// an in-flight evaluation never sees a partial update.
type RuleSet struct {
	rules          []compiledRule
	defaultOutcome model.Outcome
	lat            *lattice.Lattice
	hash           string
}

type compiledRule struct {
	id      string
	outcome model.Outcome
	reason  string
	match   Match
}

// Verdict is the outcome of evaluating a rule set against one proposal.
type Verdict struct {
	RuleID  string
	Outcome model.Outcome
	Reason  string
}

// Anomaly records a rule whose predicate could not be evaluated. The
// rule is skipped (treated as a non-match) but the misconfiguration is
// worth logging.
type Anomaly struct {
	RuleID string
	Err    error
}

// Compile validates the rules against the lattice and orders them by
// (priority, declaration order). Invalid outcomes, unknown labels, and
// duplicate rule ids are configuration errors.
func Compile(cfg *Config, lat *lattice.Lattice, hash string) (*RuleSet, error) {
	type ordered struct {
		rule     Rule
		priority int
		index    int
	}

	items := make([]ordered, 0, len(cfg.Rules))
	seen := map[string]bool{}
	for i, r := range cfg.Rules {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("rule.%d", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("policy: duplicate rule id %q: %w", id, model.ErrConfiguration)
		}
		seen[id] = true

		switch model.Outcome(r.Outcome) {
		case model.OutcomeAllow, model.OutcomeDeny, model.OutcomeEscalate:
		default:
			return nil, fmt.Errorf("policy: rule %q: unknown outcome %q: %w", id, r.Outcome, model.ErrConfiguration)
		}
		if err := r.Match.validate(lat); err != nil {
			return nil, fmt.Errorf("policy: rule %q: %v: %w", id, err, model.ErrConfiguration)
		}

		r.ID = id
		items = append(items, ordered{rule: r, priority: r.Priority, index: i})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority < items[j].priority
		}
		return items[i].index < items[j].index
	})

	compiled := make([]compiledRule, len(items))
	for i, it := range items {
		compiled[i] = compiledRule{
			id:      it.rule.ID,
			outcome: model.Outcome(it.rule.Outcome),
			reason:  it.rule.Reason,
			match:   it.rule.Match,
		}
	}

	defaultOutcome := model.OutcomeDeny
	if cfg.DefaultOutcome != "" {
		defaultOutcome = model.ParseOutcome(cfg.DefaultOutcome)
	}

	return &RuleSet{
		rules:          compiled,
		defaultOutcome: defaultOutcome,
		lat:            lat,
		hash:           hash,
	}, nil
}

// Hash returns the sha256 of the YAML this rule set was compiled from.
func (rs *RuleSet) Hash() string { return rs.hash }

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Evaluate walks the rules in order and returns the first match. With
// no match the configured default applies under the DefaultRuleID
// sentinel. Rules that fail to evaluate are skipped and reported as
// anomalies — fail closed, never fail open.
func (rs *RuleSet) Evaluate(in Input) (Verdict, []Anomaly) {
	var anomalies []Anomaly

	for _, r := range rs.rules {
		ok, evidence, err := r.match.eval(in, rs.lat)
		if err != nil {
			anomalies = append(anomalies, Anomaly{RuleID: r.id, Err: err})
			continue
		}
		if !ok {
			continue
		}

		reason := r.reason
		if reason == "" {
			reason = fmt.Sprintf("rule %s matched tool %s", r.id, in.Tool)
		}
		if evidence != "" {
			reason = fmt.Sprintf("%s: %s [%s]", r.id, reason, evidence)
		} else {
			reason = fmt.Sprintf("%s: %s", r.id, reason)
		}
		return Verdict{RuleID: r.id, Outcome: r.outcome, Reason: reason}, anomalies
	}

	return Verdict{
		RuleID:  model.DefaultRuleID,
		Outcome: rs.defaultOutcome,
		Reason:  fmt.Sprintf("no rule matched tool %s; default %s", in.Tool, rs.defaultOutcome),
	}, anomalies
}
