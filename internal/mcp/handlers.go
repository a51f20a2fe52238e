package mcp

import (
	"context"
	"strconv"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/carapace-ai/carapace/internal/engine"
	"github.com/carapace-ai/carapace/internal/model"
)

// IngestInput defines parameters for carapace_ingest.
type IngestInput struct {
	Content string   `json:"content" jsonschema:"message content"`
	Trust   string   `json:"trust,omitempty" jsonschema:"trust label (SYSTEM/OPERATOR/USER/EXTERNAL/UNKNOWN)"`
	Sources []uint64 `json:"input_sources,omitempty" jsonschema:"event ids this message derives from"`
}

// IngestOutput returns the new event id.
type IngestOutput struct {
	EventID uint64 `json:"event_id"`
}

// ProposeInput defines parameters for carapace_propose.
type ProposeInput struct {
	Tool    string   `json:"tool" jsonschema:"tool name"`
	Params  string   `json:"params,omitempty" jsonschema:"serialized tool parameters"`
	Sources []uint64 `json:"input_sources,omitempty" jsonschema:"event ids feeding this call"`
}

// ProposeOutput contains the decision.
type ProposeOutput struct {
	Allowed bool   `json:"allowed"`
	Outcome string `json:"outcome"`
	EventID uint64 `json:"event_id"`
	RuleID  string `json:"rule_id"`
	Reason  string `json:"reason"`
}

// RecordResultInput defines parameters for carapace_record_result.
type RecordResultInput struct {
	ToolCallID uint64 `json:"tool_call_id" jsonschema:"proposal event id"`
	Output     string `json:"output" jsonschema:"tool output"`
	ExitCode   int    `json:"exit_code,omitempty" jsonschema:"process exit code"`
}

// RecordResultOutput returns the result event id.
type RecordResultOutput struct {
	EventID uint64 `json:"event_id"`
}

// IsTracedInput defines parameters for carapace_is_traced.
type IsTracedInput struct {
	EventID uint64 `json:"event_id" jsonschema:"event to query"`
	Label   string `json:"label" jsonschema:"trust label to look for"`
}

// IsTracedOutput reports reachability.
type IsTracedOutput struct {
	Traced bool `json:"traced"`
}

// SetLabelInput defines parameters for carapace_set_label.
type SetLabelInput struct {
	EventID uint64 `json:"event_id" jsonschema:"event to label"`
	Label   string `json:"label" jsonschema:"trust label to attach"`
}

// SetLabelOutput confirms the label.
type SetLabelOutput struct {
	EventID uint64 `json:"event_id"`
	Label   string `json:"label"`
}

// ExplainInput defines parameters for carapace_explain.
type ExplainInput struct {
	EventID uint64 `json:"event_id" jsonschema:"event to explain"`
}

// ExplainOutput contains the rendered chain.
type ExplainOutput struct {
	Text       string   `json:"text"`
	TraceChain []uint64 `json:"trace_chain"`
}

// RegisterToolInput defines parameters for carapace_register_tool.
type RegisterToolInput struct {
	Name     string `json:"name" jsonschema:"tool name"`
	Risk     string `json:"risk,omitempty" jsonschema:"risk tier, defaults to medium"`
	Category string `json:"category,omitempty" jsonschema:"tool category"`
}

// RegisterToolOutput confirms the binding.
type RegisterToolOutput struct {
	Name string `json:"name"`
	Risk string `json:"risk"`
}

func (s *Server) handleIngest(ctx context.Context, req *mcpsdk.CallToolRequest, input IngestInput) (*mcpsdk.CallToolResult, IngestOutput, error) {
	id, err := s.eng.Ingest(ctx, engine.IngestRequest{
		Content: input.Content,
		Trust:   model.TrustLevel(input.Trust),
		Sources: toEventIDs(input.Sources),
	})
	if err != nil {
		return nil, IngestOutput{}, err
	}
	return nil, IngestOutput{EventID: uint64(id)}, nil
}

func (s *Server) handlePropose(ctx context.Context, req *mcpsdk.CallToolRequest, input ProposeInput) (*mcpsdk.CallToolResult, ProposeOutput, error) {
	d, err := s.eng.Propose(ctx, engine.ProposeRequest{
		Tool:    input.Tool,
		AgentID: s.agentID,
		Content: input.Params,
		Sources: toEventIDs(input.Sources),
	})
	if err != nil {
		return nil, ProposeOutput{}, err
	}
	out := ProposeOutput{
		Allowed: d.Allowed,
		Outcome: string(d.Outcome),
		EventID: uint64(d.EventID),
		RuleID:  d.RuleID,
		Reason:  d.Reason,
	}
	if !d.Allowed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleRecordResult(ctx context.Context, req *mcpsdk.CallToolRequest, input RecordResultInput) (*mcpsdk.CallToolResult, RecordResultOutput, error) {
	id, err := s.eng.RecordResult(ctx, engine.ResultRequest{
		ProposalID: model.EventID(input.ToolCallID),
		Content:    input.Output,
		Metadata:   map[string]string{"exit_code": strconv.Itoa(input.ExitCode)},
	})
	if err != nil {
		return nil, RecordResultOutput{}, err
	}
	return nil, RecordResultOutput{EventID: uint64(id)}, nil
}

func (s *Server) handleIsTraced(ctx context.Context, req *mcpsdk.CallToolRequest, input IsTracedInput) (*mcpsdk.CallToolResult, IsTracedOutput, error) {
	traced, err := s.eng.IsTraced(ctx, model.EventID(input.EventID), model.TrustLevel(input.Label))
	if err != nil {
		return nil, IsTracedOutput{}, err
	}
	return nil, IsTracedOutput{Traced: traced}, nil
}

func (s *Server) handleSetLabel(ctx context.Context, req *mcpsdk.CallToolRequest, input SetLabelInput) (*mcpsdk.CallToolResult, SetLabelOutput, error) {
	if err := s.eng.SetLabel(ctx, model.EventID(input.EventID), model.TrustLevel(input.Label)); err != nil {
		return nil, SetLabelOutput{}, err
	}
	return nil, SetLabelOutput{EventID: input.EventID, Label: input.Label}, nil
}

func (s *Server) handleExplain(ctx context.Context, req *mcpsdk.CallToolRequest, input ExplainInput) (*mcpsdk.CallToolResult, ExplainOutput, error) {
	exp, err := s.eng.Explain(ctx, model.EventID(input.EventID))
	if err != nil {
		return nil, ExplainOutput{}, err
	}
	chain := make([]uint64, len(exp.Chain))
	for i, ev := range exp.Chain {
		chain[i] = uint64(ev.ID)
	}
	return nil, ExplainOutput{Text: exp.Text, TraceChain: chain}, nil
}

func (s *Server) handleRegisterTool(ctx context.Context, req *mcpsdk.CallToolRequest, input RegisterToolInput) (*mcpsdk.CallToolResult, RegisterToolOutput, error) {
	tier := model.RiskTier(input.Risk)
	if tier == "" {
		tier = model.RiskMedium
	}
	if err := s.eng.RegisterTool(ctx, input.Name, tier, input.Category); err != nil {
		return nil, RegisterToolOutput{}, err
	}
	return nil, RegisterToolOutput{Name: input.Name, Risk: string(tier)}, nil
}

func toEventIDs(raw []uint64) []model.EventID {
	if len(raw) == 0 {
		return nil
	}
	out := make([]model.EventID, len(raw))
	for i, v := range raw {
		out[i] = model.EventID(v)
	}
	return out
}
