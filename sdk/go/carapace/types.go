package carapace

import (
	"context"
	"fmt"

	"github.com/carapace-ai/carapace/internal/model"
)

// EventID identifies one event in the provenance log.
type EventID = model.EventID

// TrustLevel is a label from the configured trust lattice.
type TrustLevel = model.TrustLevel

// RiskTier is the declared blast radius of a tool.
type RiskTier = model.RiskTier

// Default trust labels, most trusted first.
const (
	TrustSystem   = model.TrustSystem
	TrustOperator = model.TrustOperator
	TrustUser     = model.TrustUser
	TrustExternal = model.TrustExternal
	TrustUnknown  = model.TrustUnknown
)

// Risk tiers for tool registration.
const (
	RiskLow      = model.RiskLow
	RiskMedium   = model.RiskMedium
	RiskHigh     = model.RiskHigh
	RiskCritical = model.RiskCritical
)

// Decision is the outcome of proposing a tool call.
type Decision struct {
	Allowed bool
	Outcome string
	EventID EventID
	RuleID  string
	Reason  string
}

// Explanation is the rendered provenance chain for an event.
type Explanation struct {
	Text       string
	TraceChain []EventID
}

// API is the operation surface shared by the in-process Client and the
// sidecar-backed Remote.
type API interface {
	Ingest(ctx context.Context, content string, trust TrustLevel, sources ...EventID) (EventID, error)
	Propose(ctx context.Context, tool, params string, sources ...EventID) (Decision, error)
	RecordResult(ctx context.Context, toolCallID EventID, output string, exitCode int) (EventID, error)
	IsTraced(ctx context.Context, id EventID, label TrustLevel) (bool, error)
	SetLabel(ctx context.Context, id EventID, label TrustLevel) error
	Explain(ctx context.Context, id EventID) (Explanation, error)
	RegisterTool(ctx context.Context, name string, risk RiskTier, category string) error
	Close() error
}

// BlockedError is returned by a guarded tool when the proposal was not
// allowed. The proposal event id is preserved so the caller can explain
// or escalate it.
type BlockedError struct {
	Tool    string
	Outcome string
	EventID EventID
	RuleID  string
	Reason  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("carapace blocked %s (%s): %s", e.Tool, e.Outcome, e.Reason)
}
