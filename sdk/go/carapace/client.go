package carapace

import (
	"context"
	"fmt"
	"strconv"

	"github.com/carapace-ai/carapace/internal/engine"
	"github.com/carapace-ai/carapace/internal/policy"
)

// Client is the in-process implementation of the API: it links the
// engine directly for zero-subprocess overhead. Safe for concurrent
// use.
type Client struct {
	eng     *engine.Engine
	agentID string
}

var _ API = (*Client)(nil)

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	var cfg clientConfig
	for _, o := range opts {
		o(&cfg)
	}

	pcfg, hash, err := policy.LoadConfigWithHash(cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("carapace: load config: %w", err)
	}
	eng, err := engine.New(pcfg, hash, engine.Options{
		Logger:      cfg.logger,
		JournalPath: cfg.journalPath,
	})
	if err != nil {
		return nil, fmt.Errorf("carapace: create engine: %w", err)
	}

	return &Client{eng: eng, agentID: cfg.agentID}, nil
}

// Close releases the engine and its store.
func (c *Client) Close() error { return c.eng.Close() }

// Ingest records an incoming message with its trust label and returns
// the event id for use as an input source.
func (c *Client) Ingest(ctx context.Context, content string, trust TrustLevel, sources ...EventID) (EventID, error) {
	return c.eng.Ingest(ctx, engine.IngestRequest{
		Content: content,
		Trust:   trust,
		Sources: sources,
	})
}

// Propose asks whether a tool call fed by the given events may proceed.
func (c *Client) Propose(ctx context.Context, tool, params string, sources ...EventID) (Decision, error) {
	d, err := c.eng.Propose(ctx, engine.ProposeRequest{
		Tool:    tool,
		AgentID: c.agentID,
		Content: params,
		Sources: sources,
	})
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed: d.Allowed,
		Outcome: string(d.Outcome),
		EventID: d.EventID,
		RuleID:  d.RuleID,
		Reason:  d.Reason,
	}, nil
}

// RecordResult records the output of an executed tool call.
func (c *Client) RecordResult(ctx context.Context, toolCallID EventID, output string, exitCode int) (EventID, error) {
	return c.eng.RecordResult(ctx, engine.ResultRequest{
		ProposalID: toolCallID,
		Content:    output,
		Metadata:   map[string]string{"exit_code": strconv.Itoa(exitCode)},
	})
}

// IsTraced reports whether label is reachable through id's lineage.
func (c *Client) IsTraced(ctx context.Context, id EventID, label TrustLevel) (bool, error) {
	return c.eng.IsTraced(ctx, id, label)
}

// SetLabel attaches a trust label to an existing event.
func (c *Client) SetLabel(ctx context.Context, id EventID, label TrustLevel) error {
	return c.eng.SetLabel(ctx, id, label)
}

// Explain renders the provenance chain that justifies an event's taint.
func (c *Client) Explain(ctx context.Context, id EventID) (Explanation, error) {
	exp, err := c.eng.Explain(ctx, id)
	if err != nil {
		return Explanation{}, err
	}
	chain := make([]EventID, len(exp.Chain))
	for i, ev := range exp.Chain {
		chain[i] = ev.ID
	}
	return Explanation{Text: exp.Text, TraceChain: chain}, nil
}

// RegisterTool binds a tool name to a risk tier and category.
func (c *Client) RegisterTool(ctx context.Context, name string, risk RiskTier, category string) error {
	return c.eng.RegisterTool(ctx, name, risk, category)
}
