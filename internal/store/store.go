// Package store holds the append-only event log. Events are arena
// records addressed by sequence number; edges reference only lower
// sequence numbers, so the provenance relation is acyclic by
// construction. There are no update or delete operations.
package store

import (
	"context"

	"github.com/carapace-ai/carapace/internal/model"
)

// AppendRequest describes a new event. The store assigns the id and
// creation timestamp.
type AppendRequest struct {
	Kind     model.EventKind
	Trust    model.TrustLevel // empty = unset
	Content  string
	Metadata map[string]string
	Sources  []model.EventID
}

// Store is the append-only event log contract. Implementations must be
// safe for concurrent use: Append is atomic with respect to sequence
// assignment, and reads never observe a partially written event.
type Store interface {
	// Append validates every source id against the current log, then
	// durably records the event and returns its id. A source id that
	// does not resolve fails with ErrUnknownEvent and appends nothing.
	Append(ctx context.Context, req AppendRequest) (model.EventID, error)

	// Get returns the event with the given id, or ErrNotFound.
	Get(ctx context.Context, id model.EventID) (model.Event, error)

	// AddLabel attaches a post-hoc trust label to an existing event.
	// The event record itself stays immutable; labels live in a side
	// overlay and are unioned into taint computation.
	AddLabel(ctx context.Context, id model.EventID, label model.TrustLevel) error

	// Labels returns the overlay labels attached to id. The event's
	// own Trust field is not included.
	Labels(ctx context.Context, id model.EventID) ([]model.TrustLevel, error)

	// Len returns the number of events appended so far.
	Len(ctx context.Context) (int, error)

	// Close releases store resources. The store must not be used after.
	Close() error
}
