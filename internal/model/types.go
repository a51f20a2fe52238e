package model

import "time"

// EventID is the sequence number of an event in the append-only log.
// IDs start at 1 and are strictly increasing; 0 is never a valid id.
type EventID uint64

// EventKind classifies what an event records.
type EventKind string

const (
	KindIngestedMessage EventKind = "ingested_message"
	KindToolProposal    EventKind = "tool_proposal"
	KindToolResult      EventKind = "tool_result"
	KindRegistration    EventKind = "registration"
)

// TrustLevel is a label from the configured trust lattice.
// The empty string means "unset": the event carries no trust of its own
// and contributes nothing to taint computation.
type TrustLevel string

// Default trust labels, most trusted first. The lattice ordering is
// configurable; these are the embedded defaults.
const (
	TrustSystem   TrustLevel = "SYSTEM"
	TrustOperator TrustLevel = "OPERATOR"
	TrustUser     TrustLevel = "USER"
	TrustExternal TrustLevel = "EXTERNAL"
	TrustUnknown  TrustLevel = "UNKNOWN"
)

// Event is one immutable record in the provenance log. Once appended it
// is never mutated and never deleted.
type Event struct {
	ID        EventID           `json:"id"`
	Kind      EventKind         `json:"kind"`
	Trust     TrustLevel        `json:"trust,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Sources   []EventID         `json:"sources,omitempty"`
}

// Outcome is the policy decision for a proposed tool call.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeDeny     Outcome = "deny"
	OutcomeEscalate Outcome = "escalate"
)

// DefaultRuleID marks a Decision produced by the fail-closed default
// rather than a configured rule.
const DefaultRuleID = "default.deny"

// Decision is the result of proposing a tool call. It is derived from
// the event graph and the active rule set, not separately persisted:
// the proposal event plus RuleID is enough to re-derive it.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Outcome Outcome `json:"outcome"`
	EventID EventID `json:"event_id"`
	RuleID  string  `json:"rule_id"`
	Reason  string  `json:"reason"`
}

// RiskTier is the declared blast radius of a tool.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// riskRank orders tiers for comparisons. Higher = more dangerous.
var riskRank = map[RiskTier]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// ValidRiskTier reports whether t is one of the four declared tiers.
func ValidRiskTier(t RiskTier) bool {
	_, ok := riskRank[t]
	return ok
}

// RiskRank returns the comparable rank of a tier. Unknown tiers rank as
// critical: fail closed.
func RiskRank(t RiskTier) int {
	if r, ok := riskRank[t]; ok {
		return r
	}
	return riskRank[RiskCritical]
}

// ParseOutcome maps a string to an Outcome. Fail-closed: unknown strings
// map to deny.
func ParseOutcome(s string) Outcome {
	switch Outcome(s) {
	case OutcomeAllow, OutcomeDeny, OutcomeEscalate:
		return Outcome(s)
	default:
		return OutcomeDeny
	}
}
