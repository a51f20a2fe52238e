// Package carapace provides provenance tracking and tool-call gating
// for Go agent frameworks. Messages entering the agent are ingested
// with a trust label; tool calls declare which events fed them; the
// engine decides allow, deny, or escalate from the trust carried by
// that lineage.
//
// Usage:
//
//	cp, err := carapace.New(carapace.WithConfig("policy.yaml"))
//	e1, _ := cp.Ingest(ctx, email.Body, carapace.TrustExternal)
//	d, _ := cp.Propose(ctx, "send_email", params, e1)
//	if !d.Allowed { ... }
//
// The in-process Client links the engine directly. NewRemote returns
// the same API backed by a carapace sidecar over HTTP.
package carapace
