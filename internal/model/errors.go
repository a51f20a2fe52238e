package model

import "errors"

// Error taxonomy. Callers match with errors.Is; call sites wrap these
// with context via fmt.Errorf("...: %w", Err...).
var (
	// ErrUnknownEvent means a referenced event id is not in the store.
	// Surfaced to the caller, never silently dropped; no event is
	// appended when a reference fails to resolve.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNotFound means a direct lookup by id found nothing.
	ErrNotFound = errors.New("event not found")

	// ErrInvalidLabel means a trust label outside the configured
	// lattice was supplied. Rejected at ingestion, before any append.
	ErrInvalidLabel = errors.New("invalid trust label")

	// ErrConfiguration means the rule set or lattice failed to load.
	// Fatal at engine creation: the engine never starts half-loaded.
	ErrConfiguration = errors.New("configuration error")

	// ErrEngineClosed means the engine was used after Close.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrCorrupt means an internal invariant was violated (a cycle in
	// the provenance graph, a gap in the log). Audit integrity is lost;
	// the operation aborts rather than return a possibly-wrong answer.
	ErrCorrupt = errors.New("store corrupt")
)
