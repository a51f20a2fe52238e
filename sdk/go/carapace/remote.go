package carapace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// SidecarURLEnv names the environment variable consulted when NewRemote
// is called with an empty URL.
const SidecarURLEnv = "CARAPACE_SIDECAR_URL"

// Sidecar status codes mirrored from the wire protocol.
const (
	statusOK       = 0
	statusInternal = -4
)

// APIError is a non-OK status returned by the sidecar.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carapace sidecar: status %d: %s", e.Status, e.Message)
}

// Remote implements the API over a carapace sidecar's HTTP protocol.
type Remote struct {
	base    string
	agentID string
	http    *http.Client
}

var _ API = (*Remote)(nil)

// NewRemote creates a sidecar-backed client. An empty baseURL falls
// back to the CARAPACE_SIDECAR_URL environment variable.
func NewRemote(baseURL string, opts ...Option) (*Remote, error) {
	var cfg clientConfig
	for _, o := range opts {
		o(&cfg)
	}

	if baseURL == "" {
		baseURL = os.Getenv(SidecarURLEnv)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("carapace: no sidecar URL given and %s is unset", SidecarURLEnv)
	}

	return &Remote{
		base:    strings.TrimRight(baseURL, "/"),
		agentID: cfg.agentID,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Close is a no-op: the sidecar owns the engine lifecycle.
func (r *Remote) Close() error { return nil }

func (r *Remote) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("carapace: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("carapace: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return &APIError{Status: statusInternal, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var envelope struct {
		Status int    `json:"status"`
		Error  string `json:"error"`
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return &APIError{Status: statusInternal, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &APIError{Status: statusInternal, Message: fmt.Sprintf("decode status: %v", err)}
	}
	if envelope.Status != statusOK {
		msg := envelope.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: envelope.Status, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &APIError{Status: statusInternal, Message: fmt.Sprintf("decode body: %v", err)}
		}
	}
	return nil
}

// Ingest records a message through the sidecar.
func (r *Remote) Ingest(ctx context.Context, content string, trust TrustLevel, sources ...EventID) (EventID, error) {
	body := map[string]any{"content": content}
	if trust != "" {
		body["trust"] = string(trust)
	}
	if len(sources) > 0 {
		body["input_sources"] = sources
	}
	var out struct {
		EventID EventID `json:"event_id"`
	}
	if err := r.post(ctx, "/ingest", body, &out); err != nil {
		return 0, err
	}
	return out.EventID, nil
}

// Propose evaluates a tool call through the sidecar. A deny or escalate
// arrives as a Decision, not an error.
func (r *Remote) Propose(ctx context.Context, tool, params string, sources ...EventID) (Decision, error) {
	body := map[string]any{"tool": tool, "params": params}
	if r.agentID != "" {
		body["agent_id"] = r.agentID
	}
	if len(sources) > 0 {
		body["input_sources"] = sources
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Decision{}, fmt.Errorf("carapace: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/propose", bytes.NewReader(data))
	if err != nil {
		return Decision{}, fmt.Errorf("carapace: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return Decision{}, &APIError{Status: statusInternal, Message: err.Error()}
	}
	defer resp.Body.Close()

	var out struct {
		Status  int     `json:"status"`
		Error   string  `json:"error"`
		Allowed bool    `json:"allowed"`
		Outcome string  `json:"outcome"`
		EventID EventID `json:"event_id"`
		RuleID  string  `json:"rule_id"`
		Reason  string  `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Decision{}, &APIError{Status: statusInternal, Message: fmt.Sprintf("decode response: %v", err)}
	}
	// Denied and escalated proposals still carry a full decision body;
	// only transport and validation failures are errors.
	if resp.StatusCode != http.StatusOK {
		return Decision{}, &APIError{Status: out.Status, Message: out.Error}
	}
	return Decision{
		Allowed: out.Allowed,
		Outcome: out.Outcome,
		EventID: out.EventID,
		RuleID:  out.RuleID,
		Reason:  out.Reason,
	}, nil
}

// RecordResult records a tool's output through the sidecar.
func (r *Remote) RecordResult(ctx context.Context, toolCallID EventID, output string, exitCode int) (EventID, error) {
	var out struct {
		EventID EventID `json:"event_id"`
	}
	err := r.post(ctx, "/record_result", map[string]any{
		"tool_call_id": toolCallID,
		"output":       output,
		"exit_code":    exitCode,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.EventID, nil
}

// IsTraced queries label reachability through the sidecar.
func (r *Remote) IsTraced(ctx context.Context, id EventID, label TrustLevel) (bool, error) {
	var out struct {
		Traced bool `json:"traced"`
	}
	err := r.post(ctx, "/is_traced", map[string]any{
		"event_id": id,
		"label":    string(label),
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Traced, nil
}

// SetLabel attaches a trust label through the sidecar.
func (r *Remote) SetLabel(ctx context.Context, id EventID, label TrustLevel) error {
	return r.post(ctx, "/set_label", map[string]any{
		"event_id": id,
		"label":    string(label),
	}, nil)
}

// Explain fetches the provenance chain through the sidecar.
func (r *Remote) Explain(ctx context.Context, id EventID) (Explanation, error) {
	var out struct {
		Text       string    `json:"text"`
		TraceChain []EventID `json:"trace_chain"`
	}
	if err := r.post(ctx, "/explain", map[string]any{"event_id": id}, &out); err != nil {
		return Explanation{}, err
	}
	return Explanation{Text: out.Text, TraceChain: out.TraceChain}, nil
}

// RegisterTool binds a tool through the sidecar.
func (r *Remote) RegisterTool(ctx context.Context, name string, risk RiskTier, category string) error {
	body := map[string]any{"tool_name": name}
	if risk != "" {
		body["risk"] = string(risk)
	}
	if category != "" {
		body["category"] = category
	}
	return r.post(ctx, "/register_tool", body, nil)
}
