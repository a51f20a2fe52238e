package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/carapace-ai/carapace/internal/engine"
	"github.com/carapace-ai/carapace/internal/model"
)

// trustValue accepts a trust label either as its string name or as its
// integer rank in the configured order (0 = most trusted). The C-ABI
// clients send ranks; everything else sends names.
type trustValue struct {
	label model.TrustLevel
	rank  int
	isInt bool
	set   bool
}

func (t *trustValue) UnmarshalJSON(data []byte) error {
	t.set = true
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		t.rank = n
		t.isInt = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("trust must be a label or an integer rank")
	}
	t.label = model.TrustLevel(s)
	return nil
}

func (s *Server) resolveTrust(t trustValue) (model.TrustLevel, error) {
	if !t.set {
		return "", nil
	}
	if t.isInt {
		return s.eng.Lattice().ByRank(t.rank)
	}
	return t.label, nil
}

type ingestRequest struct {
	Content  string            `json:"content"`
	Trust    trustValue        `json:"trust"`
	Sources  []model.EventID   `json:"input_sources"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	trust, err := s.resolveTrust(req.Trust)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.eng.Ingest(r.Context(), engine.IngestRequest{
		Content:  req.Content,
		Trust:    trust,
		Sources:  req.Sources,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   StatusOK,
		"event_id": id,
	})
}

type proposeRequest struct {
	Tool    string          `json:"tool"`
	Params  string          `json:"params"`
	AgentID string          `json:"agent_id"`
	Sources []model.EventID `json:"input_sources"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.eng.Propose(r.Context(), engine.ProposeRequest{
		Tool:    req.Tool,
		AgentID: req.AgentID,
		Content: req.Params,
		Sources: req.Sources,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := StatusOK
	switch d.Outcome {
	case model.OutcomeDeny:
		status = StatusDenied
	case model.OutcomeEscalate:
		status = StatusEscalated
	}
	// Decisions always travel as 200: a deny is a successful answer,
	// not a transport failure.
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"allowed":  d.Allowed,
		"outcome":  d.Outcome,
		"event_id": d.EventID,
		"rule_id":  d.RuleID,
		"reason":   d.Reason,
	})
}

type recordResultRequest struct {
	ToolCallID model.EventID `json:"tool_call_id"`
	Output     string        `json:"output"`
	ExitCode   int           `json:"exit_code"`
}

func (s *Server) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	var req recordResultRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.eng.RecordResult(r.Context(), engine.ResultRequest{
		ProposalID: req.ToolCallID,
		Content:    req.Output,
		Metadata:   map[string]string{"exit_code": fmt.Sprintf("%d", req.ExitCode)},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   StatusOK,
		"event_id": id,
	})
}

type isTracedRequest struct {
	EventID model.EventID `json:"event_id"`
	Label   string        `json:"label"`
}

func (s *Server) handleIsTraced(w http.ResponseWriter, r *http.Request) {
	var req isTracedRequest
	if !s.decode(w, r, &req) {
		return
	}
	traced, err := s.eng.IsTraced(r.Context(), req.EventID, model.TrustLevel(req.Label))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": StatusOK,
		"traced": traced,
	})
}

type setLabelRequest struct {
	EventID model.EventID `json:"event_id"`
	Label   string        `json:"label"`
}

func (s *Server) handleSetLabel(w http.ResponseWriter, r *http.Request) {
	var req setLabelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.eng.SetLabel(r.Context(), req.EventID, model.TrustLevel(req.Label)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": StatusOK})
}

type explainRequest struct {
	EventID model.EventID `json:"event_id"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if !s.decode(w, r, &req) {
		return
	}
	exp, err := s.eng.Explain(r.Context(), req.EventID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	chain := make([]model.EventID, len(exp.Chain))
	for i, ev := range exp.Chain {
		chain[i] = ev.ID
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      StatusOK,
		"text":        exp.Text,
		"trace_chain": chain,
	})
}

type registerToolRequest struct {
	ToolName string `json:"tool_name"`
	Risk     string `json:"risk"`
	Category string `json:"category"`
}

func (s *Server) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var req registerToolRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.eng.RegisterTool(r.Context(), req.ToolName, model.RiskTier(req.Risk), req.Category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      StatusOK,
		"policy_hash": s.eng.PolicyHash(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"status": StatusInvalid,
			"error":  fmt.Sprintf("invalid request body: %v", err),
		})
		return false
	}
	return true
}

// writeError maps engine errors onto wire status codes. Unknown event
// references and missing lookups are NOT_FOUND; bad labels and bad
// input are INVALID; everything else is INTERNAL.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, httpCode := StatusInternal, http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrUnknownEvent), errors.Is(err, model.ErrNotFound):
		status, httpCode = StatusNotFound, http.StatusNotFound
	case errors.Is(err, model.ErrInvalidLabel), errors.Is(err, model.ErrConfiguration):
		status, httpCode = StatusInvalid, http.StatusBadRequest
	}

	reqID, _ := r.Context().Value(requestIDKey).(string)
	s.log.Warn("request failed",
		zap.String("request_id", reqID),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	s.writeJSON(w, httpCode, map[string]any{
		"status": status,
		"error":  err.Error(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", zap.Error(err))
	}
}
