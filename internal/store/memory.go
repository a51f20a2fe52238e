package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carapace-ai/carapace/internal/model"
)

// MemoryStore is the default in-process backend: events live in an
// append-only slice indexed by sequence number. Because ids are dense
// (1..len), source validation is a bounds check, which also enforces
// the no-forward-reference invariant.
type MemoryStore struct {
	mu     sync.RWMutex
	events []model.Event
	labels map[model.EventID][]model.TrustLevel
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{labels: make(map[model.EventID][]model.TrustLevel)}
}

func (s *MemoryStore) Append(ctx context.Context, req AppendRequest) (model.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := model.EventID(len(s.events) + 1)
	for _, src := range req.Sources {
		if src == 0 || src >= next {
			return 0, fmt.Errorf("store: input source %d: %w", src, model.ErrUnknownEvent)
		}
	}

	ev := model.Event{
		ID:        next,
		Kind:      req.Kind,
		Trust:     req.Trust,
		Content:   req.Content,
		Metadata:  copyMeta(req.Metadata),
		CreatedAt: time.Now().UTC(),
		Sources:   copySources(req.Sources),
	}
	s.events = append(s.events, ev)
	return next, nil
}

func (s *MemoryStore) Get(ctx context.Context, id model.EventID) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == 0 || int(id) > len(s.events) {
		return model.Event{}, fmt.Errorf("store: event %d: %w", id, model.ErrNotFound)
	}
	return s.events[id-1], nil
}

func (s *MemoryStore) AddLabel(ctx context.Context, id model.EventID, label model.TrustLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == 0 || int(id) > len(s.events) {
		return fmt.Errorf("store: event %d: %w", id, model.ErrNotFound)
	}
	for _, have := range s.labels[id] {
		if have == label {
			return nil
		}
	}
	s.labels[id] = append(s.labels[id], label)
	return nil
}

func (s *MemoryStore) Labels(ctx context.Context, id model.EventID) ([]model.TrustLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == 0 || int(id) > len(s.events) {
		return nil, fmt.Errorf("store: event %d: %w", id, model.ErrNotFound)
	}
	out := make([]model.TrustLevel, len(s.labels[id]))
	copy(out, s.labels[id])
	return out, nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

func (s *MemoryStore) Close() error { return nil }

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copySources(ids []model.EventID) []model.EventID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]model.EventID, len(ids))
	copy(out, ids)
	return out
}
