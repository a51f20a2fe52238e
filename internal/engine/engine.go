// Package engine wires the event store, provenance graph, tool
// registry, rule set, and decision journal into the guard surface the
// transports expose. One Engine per tracked conversation or agent
// session; every mutation lands in the append-only store and, when a
// journal is configured, in the hash-chained journal.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/carapace-ai/carapace/internal/journal"
	"github.com/carapace-ai/carapace/internal/lattice"
	"github.com/carapace-ai/carapace/internal/model"
	"github.com/carapace-ai/carapace/internal/policy"
	"github.com/carapace-ai/carapace/internal/provenance"
	"github.com/carapace-ai/carapace/internal/registry"
	"github.com/carapace-ai/carapace/internal/store"
)

// Options carries the pieces that are not part of the policy config.
type Options struct {
	// Logger defaults to a nop logger when nil.
	Logger *zap.Logger
	// JournalPath enables the hash-chained decision journal. Empty
	// disables journaling.
	JournalPath string
}

// Engine is the decision core. Safe for concurrent use; the rule set is
// swapped atomically on reload so evaluations never see a partial
// policy.
type Engine struct {
	log   *zap.Logger
	store store.Store
	lat   *lattice.Lattice
	reg   *registry.Registry
	graph *provenance.Graph
	jour  *journal.Journal

	rules atomic.Pointer[policy.RuleSet]

	// resultTrust maps a tool's risk tier to the trust label stamped
	// on its results. Unlisted tiers leave results unlabeled.
	resultTrust map[model.RiskTier]model.TrustLevel

	closed atomic.Bool
}

// IngestRequest admits one untrusted or trusted message into the log.
type IngestRequest struct {
	Content  string
	Trust    model.TrustLevel
	Sources  []model.EventID
	Metadata map[string]string
}

// ProposeRequest asks whether a tool call fed by the given events may
// proceed.
type ProposeRequest struct {
	Tool    string
	AgentID string
	Content string
	Sources []model.EventID
}

// ResultRequest records the output of an executed tool call.
type ResultRequest struct {
	ProposalID model.EventID
	Content    string
	Metadata   map[string]string
}

// New builds an engine from a loaded configuration. The hash is the
// sha256 of the raw config bytes and is stamped on every journaled
// decision.
func New(cfg *policy.Config, hash string, opts Options) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	lat, err := cfg.Lattice()
	if err != nil {
		return nil, err
	}
	rules, err := policy.Compile(cfg, lat, hash)
	if err != nil {
		return nil, err
	}

	resultTrust := make(map[model.RiskTier]model.TrustLevel, len(cfg.ResultTrust))
	for tier, label := range cfg.ResultTrust {
		rt := model.RiskTier(tier)
		if !model.ValidRiskTier(rt) {
			return nil, fmt.Errorf("engine: result_trust references unknown tier %q: %w", tier, model.ErrConfiguration)
		}
		tl := model.TrustLevel(label)
		if !lat.Contains(tl) {
			return nil, fmt.Errorf("engine: result_trust references unknown label %q: %w", label, model.ErrConfiguration)
		}
		resultTrust[rt] = tl
	}

	var st store.Store
	switch cfg.Store.Backend {
	case "", "memory":
		st = store.NewMemoryStore()
	case "sqlite":
		st, err = store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("engine: unknown store backend %q: %w", cfg.Store.Backend, model.ErrConfiguration)
	}

	var jour *journal.Journal
	if opts.JournalPath != "" {
		jour, err = journal.Open(opts.JournalPath)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	fallback := model.RiskTier(cfg.FallbackRisk)
	e := &Engine{
		log:         log,
		store:       st,
		lat:         lat,
		reg:         registry.New(fallback),
		graph:       provenance.New(st, lat),
		jour:        jour,
		resultTrust: resultTrust,
	}
	e.rules.Store(rules)

	log.Info("engine ready",
		zap.String("backend", cfg.Store.Backend),
		zap.Int("rules", rules.Len()),
		zap.String("policy_hash", hash))
	return e, nil
}

// Close releases the store and journal. Every operation after Close
// fails with ErrEngineClosed; the persisted log survives for audit.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	var firstErr error
	if err := e.store.Close(); err != nil {
		firstErr = err
	}
	if e.jour != nil {
		if err := e.jour.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Lattice exposes the active trust lattice for transports that accept
// labels as integer ranks.
func (e *Engine) Lattice() *lattice.Lattice { return e.lat }

// PolicyHash returns the hash of the active rule set's source config.
func (e *Engine) PolicyHash() string { return e.rules.Load().Hash() }

// Ingest appends a message event carrying the given trust label.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (model.EventID, error) {
	if e.closed.Load() {
		return 0, model.ErrEngineClosed
	}
	if req.Trust != "" {
		if err := e.lat.Validate(req.Trust); err != nil {
			return 0, err
		}
	}

	id, err := e.store.Append(ctx, store.AppendRequest{
		Kind:     model.KindIngestedMessage,
		Trust:    req.Trust,
		Content:  req.Content,
		Metadata: req.Metadata,
		Sources:  req.Sources,
	})
	if err != nil {
		return 0, err
	}

	e.journalEvent(id, model.KindIngestedMessage, req.Trust, req.Sources)
	e.log.Debug("ingested",
		zap.Uint64("event_id", uint64(id)),
		zap.String("trust", string(req.Trust)))
	return id, nil
}

// Propose evaluates a tool call against the active rule set and records
// the proposal. The proposal event is appended whatever the outcome:
// denied attempts are part of the history too.
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (model.Decision, error) {
	if e.closed.Load() {
		return model.Decision{}, model.ErrEngineClosed
	}
	if req.Tool == "" {
		return model.Decision{}, fmt.Errorf("engine: empty tool name: %w", model.ErrConfiguration)
	}
	for _, src := range req.Sources {
		if _, err := e.store.Get(ctx, src); err != nil {
			return model.Decision{}, fmt.Errorf("engine: proposal source %d: %w", src, model.ErrUnknownEvent)
		}
	}

	taint, err := e.graph.Taint(ctx, req.Sources...)
	if err != nil {
		return model.Decision{}, err
	}

	reg := e.reg.Lookup(req.Tool)
	rules := e.rules.Load()
	verdict, anomalies := rules.Evaluate(policy.Input{
		Tool:     req.Tool,
		RiskTier: reg.RiskTier,
		Category: reg.Category,
		AgentID:  req.AgentID,
		Labels:   taint.Carriers,
		Joined:   taint.Joined,
	})
	for _, a := range anomalies {
		e.log.Warn("rule skipped",
			zap.String("rule_id", a.RuleID),
			zap.Error(a.Err))
	}

	meta := map[string]string{
		"tool":    req.Tool,
		"outcome": string(verdict.Outcome),
		"rule_id": verdict.RuleID,
	}
	if req.AgentID != "" {
		meta["agent_id"] = req.AgentID
	}
	id, err := e.store.Append(ctx, store.AppendRequest{
		Kind:     model.KindToolProposal,
		Content:  req.Content,
		Metadata: meta,
		Sources:  req.Sources,
	})
	if err != nil {
		return model.Decision{}, err
	}

	decision := model.Decision{
		Allowed: verdict.Outcome == model.OutcomeAllow,
		Outcome: verdict.Outcome,
		EventID: id,
		RuleID:  verdict.RuleID,
		Reason:  verdict.Reason,
	}
	e.journalDecision(id, req, decision, rules.Hash())
	e.log.Info("proposal decided",
		zap.Uint64("event_id", uint64(id)),
		zap.String("tool", req.Tool),
		zap.String("outcome", string(decision.Outcome)),
		zap.String("rule_id", decision.RuleID))
	return decision, nil
}

// RecordResult appends the output of an executed tool call, linked to
// its proposal. When the config maps the tool's risk tier in
// result_trust, the result is stamped with that label; otherwise it
// stays unlabeled until classified via SetLabel.
func (e *Engine) RecordResult(ctx context.Context, req ResultRequest) (model.EventID, error) {
	if e.closed.Load() {
		return 0, model.ErrEngineClosed
	}
	proposal, err := e.store.Get(ctx, req.ProposalID)
	if err != nil {
		return 0, fmt.Errorf("engine: result proposal %d: %w", req.ProposalID, model.ErrUnknownEvent)
	}
	if proposal.Kind != model.KindToolProposal {
		return 0, fmt.Errorf("engine: event %d is %s, not a tool proposal: %w",
			req.ProposalID, proposal.Kind, model.ErrUnknownEvent)
	}

	var trust model.TrustLevel
	if tool := proposal.Metadata["tool"]; tool != "" {
		if label, ok := e.resultTrust[e.reg.Lookup(tool).RiskTier]; ok {
			trust = label
		}
	}

	id, err := e.store.Append(ctx, store.AppendRequest{
		Kind:     model.KindToolResult,
		Trust:    trust,
		Content:  req.Content,
		Metadata: req.Metadata,
		Sources:  []model.EventID{req.ProposalID},
	})
	if err != nil {
		return 0, err
	}

	e.journalEvent(id, model.KindToolResult, trust, []model.EventID{req.ProposalID})
	e.log.Debug("result recorded",
		zap.Uint64("event_id", uint64(id)),
		zap.Uint64("proposal_id", uint64(req.ProposalID)))
	return id, nil
}

// SetLabel attaches a trust label to an existing event after the fact.
// The label joins the event's lineage for every later taint query.
func (e *Engine) SetLabel(ctx context.Context, id model.EventID, label model.TrustLevel) error {
	if e.closed.Load() {
		return model.ErrEngineClosed
	}
	if err := e.lat.Validate(label); err != nil {
		return err
	}
	if err := e.store.AddLabel(ctx, id, label); err != nil {
		return err
	}
	e.graph.Invalidate()

	if e.jour != nil {
		if err := e.jour.Record(journal.Entry{
			Type:    "label",
			EventID: id,
			Trust:   label,
		}); err != nil {
			e.log.Error("journal write failed", zap.Error(err))
		}
	}
	e.log.Info("label set",
		zap.Uint64("event_id", uint64(id)),
		zap.String("label", string(label)))
	return nil
}

// IsTraced reports whether label is reachable through id's lineage.
// Exact membership, not an ordering comparison.
func (e *Engine) IsTraced(ctx context.Context, id model.EventID, label model.TrustLevel) (bool, error) {
	if e.closed.Load() {
		return false, model.ErrEngineClosed
	}
	return e.graph.IsTraced(ctx, id, label)
}

// Taint returns the full taint summary for an event.
func (e *Engine) Taint(ctx context.Context, id model.EventID) (provenance.Summary, error) {
	if e.closed.Load() {
		return provenance.Summary{}, model.ErrEngineClosed
	}
	return e.graph.Taint(ctx, id)
}

// Explain renders the justification chain for an event.
func (e *Engine) Explain(ctx context.Context, id model.EventID) (provenance.Explanation, error) {
	if e.closed.Load() {
		return provenance.Explanation{}, model.ErrEngineClosed
	}
	return e.graph.Explain(ctx, id)
}

// Event returns a single event by id.
func (e *Engine) Event(ctx context.Context, id model.EventID) (model.Event, error) {
	if e.closed.Load() {
		return model.Event{}, model.ErrEngineClosed
	}
	return e.store.Get(ctx, id)
}

// RegisterTool binds a tool name to a risk tier and category. An empty
// tier registers as medium. The registration lands in the event log so
// later audits can see which bindings were active.
func (e *Engine) RegisterTool(ctx context.Context, name string, tier model.RiskTier, category string) error {
	if e.closed.Load() {
		return model.ErrEngineClosed
	}
	if tier == "" {
		tier = model.RiskMedium
	}
	if err := e.reg.Register(name, tier, category); err != nil {
		return err
	}

	id, err := e.store.Append(ctx, store.AppendRequest{
		Kind:    model.KindRegistration,
		Content: name,
		Metadata: map[string]string{
			"tool":      name,
			"risk_tier": string(tier),
			"category":  category,
		},
	})
	if err != nil {
		return err
	}

	e.journalEvent(id, model.KindRegistration, "", nil)
	e.log.Info("tool registered",
		zap.String("tool", name),
		zap.String("risk_tier", string(tier)))
	return nil
}

// Reload compiles a new rule set against the active lattice and swaps
// it in atomically. A config that fails validation leaves the previous
// rules in force.
func (e *Engine) Reload(cfg *policy.Config, hash string) error {
	if e.closed.Load() {
		return model.ErrEngineClosed
	}
	rules, err := policy.Compile(cfg, e.lat, hash)
	if err != nil {
		return err
	}
	e.rules.Store(rules)
	e.log.Info("rules reloaded",
		zap.Int("rules", rules.Len()),
		zap.String("policy_hash", hash))
	return nil
}

func (e *Engine) journalEvent(id model.EventID, kind model.EventKind, trust model.TrustLevel, sources []model.EventID) {
	if e.jour == nil {
		return
	}
	if err := e.jour.Record(journal.Entry{
		Type:    "event",
		EventID: id,
		Kind:    kind,
		Trust:   trust,
		Sources: sources,
	}); err != nil {
		e.log.Error("journal write failed", zap.Error(err))
	}
}

func (e *Engine) journalDecision(id model.EventID, req ProposeRequest, d model.Decision, hash string) {
	if e.jour == nil {
		return
	}
	if err := e.jour.Record(journal.Entry{
		Type:       "decision",
		EventID:    id,
		Kind:       model.KindToolProposal,
		Sources:    req.Sources,
		Tool:       req.Tool,
		AgentID:    req.AgentID,
		Outcome:    d.Outcome,
		RuleID:     d.RuleID,
		Reason:     d.Reason,
		PolicyHash: hash,
	}); err != nil {
		e.log.Error("journal write failed", zap.Error(err))
	}
}
