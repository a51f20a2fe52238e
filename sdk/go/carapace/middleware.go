package carapace

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Middleware wraps next so every request is run through the decision
// engine before being served. The request line is ingested as an event
// carrying trust, and a call to the "http_request" tool fed by it is
// proposed. Requests that are not allowed receive a 403 with a JSON
// body naming the rule and the proposal event id.
//
// Register "http_request" with the risk tier the wrapped surface
// deserves; unregistered it falls back to the configured tier.
func Middleware(api API, trust TrustLevel, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		src, err := api.Ingest(ctx, requestLine(r), trust)
		if err != nil {
			httpError(w, err)
			return
		}

		d, err := api.Propose(ctx, "http_request", requestLine(r), src)
		if err != nil {
			httpError(w, err)
			return
		}

		if !d.Allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked":  true,
				"outcome":  d.Outcome,
				"rule_id":  d.RuleID,
				"reason":   d.Reason,
				"event_id": d.EventID,
			})
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		// Best effort: the response is already on the wire.
		api.RecordResult(ctx, d.EventID, fmt.Sprintf("status %d", sw.status), 0)
	})
}

func requestLine(r *http.Request) string {
	resource := r.URL.String()
	if r.URL.Host == "" && r.Host != "" {
		resource = r.Host + r.URL.RequestURI()
	}
	return r.Method + " " + resource
}

func httpError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
