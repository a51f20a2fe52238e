package carapace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newMiddlewareClient(t *testing.T) *Client {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMiddlewareAllowsTrusted(t *testing.T) {
	c := newMiddlewareClient(t)
	handler := Middleware(c, TrustOperator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/reports/weekly", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %q", rec.Body.String())
	}
}

func TestMiddlewareBlocksUntrusted(t *testing.T) {
	c := newMiddlewareClient(t)
	if err := c.RegisterTool(context.Background(), "http_request", RiskCritical, "network"); err != nil {
		t.Fatal(err)
	}

	handler := Middleware(c, TrustExternal, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not be called")
	}))

	req := httptest.NewRequest("POST", "/admin/delete-all", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	var body struct {
		Blocked bool    `json:"blocked"`
		Outcome string  `json:"outcome"`
		RuleID  string  `json:"rule_id"`
		EventID EventID `json:"event_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Blocked {
		t.Error("expected blocked=true")
	}
	if body.Outcome != "deny" {
		t.Errorf("outcome: got %s", body.Outcome)
	}
	if body.RuleID != "untrusted-critical.block" {
		t.Errorf("rule_id: got %s", body.RuleID)
	}
	if body.EventID == 0 {
		t.Error("expected the proposal event id in the body")
	}
}

func TestMiddlewareRecordsResult(t *testing.T) {
	c := newMiddlewareClient(t)
	handler := Middleware(c, TrustOperator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("PUT", "/notes/1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	// Events: 1 request ingest, 2 proposal, 3 recorded result.
	exp, err := c.Explain(context.Background(), 3)
	if err != nil {
		t.Fatalf("result event not recorded: %v", err)
	}
	if len(exp.TraceChain) != 3 {
		t.Errorf("expected 3-event chain, got %d", len(exp.TraceChain))
	}
}
