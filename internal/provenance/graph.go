// Package provenance is the read side of the event log: ancestry
// closures, taint queries, and justification chains. It owns no events;
// everything is derived from the store on demand and memoized.
package provenance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/carapace-ai/carapace/internal/lattice"
	"github.com/carapace-ai/carapace/internal/model"
	"github.com/carapace-ai/carapace/internal/store"
)

// Summary is the taint of one or more events: every trust label
// reachable through their lineage, each with the earliest event that
// carries it, plus the lattice join of the whole set.
type Summary struct {
	// Carriers maps each reachable label to the lowest-id event
	// carrying it. This is the evidence quoted in decision reasons.
	Carriers map[model.TrustLevel]model.EventID
	// Joined is the least trusted label present, or the lattice top
	// when the lineage carries no labels at all.
	Joined model.TrustLevel
}

// Has reports whether label is reachable. Exact membership, not an
// ordering comparison.
func (s Summary) Has(label model.TrustLevel) bool {
	_, ok := s.Carriers[label]
	return ok
}

// Labels returns the reachable labels ordered most trusted first.
func (s Summary) Labels(lat *lattice.Lattice) []model.TrustLevel {
	out := make([]model.TrustLevel, 0, len(s.Carriers))
	for label := range s.Carriers {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, _ := lat.Rank(out[i])
		rj, _ := lat.Rank(out[j])
		return ri < rj
	})
	return out
}

// cachedTaint is one memoized per-event closure. Entries are valid only
// while version matches the graph's label overlay version: appends never
// change the closure of an existing event (new events cannot become
// ancestors of old ones), but a post-hoc SetLabel can.
type cachedTaint struct {
	version  uint64
	carriers map[model.TrustLevel]model.EventID
}

// Graph answers ancestry and taint-reachability queries over the store.
// Safe for concurrent use.
type Graph struct {
	store store.Store
	lat   *lattice.Lattice

	mu      sync.RWMutex
	version uint64
	taints  map[model.EventID]cachedTaint
}

// New builds a graph view over the given store and lattice.
func New(s store.Store, lat *lattice.Lattice) *Graph {
	return &Graph{
		store:  s,
		lat:    lat,
		taints: make(map[model.EventID]cachedTaint),
	}
}

// Invalidate drops all memoized taint closures. Called after a label
// overlay change so no query observes a stale closure.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	g.version++
	g.mu.Unlock()
}

// Ancestors returns the full transitive closure over input_sources,
// excluding id itself, in ascending creation order. Terminates because
// edges only reference lower sequence numbers.
func (g *Graph) Ancestors(ctx context.Context, id model.EventID) ([]model.EventID, error) {
	seen := map[model.EventID]bool{}
	stack := []model.EventID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ev, err := g.store.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, src := range ev.Sources {
			if src >= cur {
				// Cannot happen through Append; seeing it means the
				// log was tampered with.
				return nil, fmt.Errorf("provenance: event %d references %d: %w", cur, src, model.ErrCorrupt)
			}
			if !seen[src] {
				seen[src] = true
				stack = append(stack, src)
			}
		}
	}

	out := make([]model.EventID, 0, len(seen))
	for anc := range seen {
		out = append(out, anc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Taint computes the label summary reachable from the given events,
// including the events themselves. Cost is proportional to the combined
// ancestor set, not to the store size.
func (g *Graph) Taint(ctx context.Context, ids ...model.EventID) (Summary, error) {
	g.mu.RLock()
	version := g.version
	g.mu.RUnlock()

	merged := map[model.TrustLevel]model.EventID{}
	for _, id := range ids {
		carriers, err := g.taintOf(ctx, id, version)
		if err != nil {
			return Summary{}, err
		}
		for label, carrier := range carriers {
			if have, ok := merged[label]; !ok || carrier < have {
				merged[label] = carrier
			}
		}
	}

	labels := make([]model.TrustLevel, 0, len(merged))
	for label := range merged {
		labels = append(labels, label)
	}
	joined, err := g.lat.Join(labels...)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Carriers: merged, Joined: joined}, nil
}

// IsTraced reports whether label is carried by id or any ancestor.
// The label must belong to the configured lattice.
func (g *Graph) IsTraced(ctx context.Context, id model.EventID, label model.TrustLevel) (bool, error) {
	if err := g.lat.Validate(label); err != nil {
		return false, err
	}
	summary, err := g.Taint(ctx, id)
	if err != nil {
		return false, err
	}
	return summary.Has(label), nil
}

// taintOf returns the memoized label closure of a single event.
func (g *Graph) taintOf(ctx context.Context, id model.EventID, version uint64) (map[model.TrustLevel]model.EventID, error) {
	g.mu.RLock()
	if c, ok := g.taints[id]; ok && c.version == version {
		g.mu.RUnlock()
		return c.carriers, nil
	}
	g.mu.RUnlock()

	ev, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	carriers := map[model.TrustLevel]model.EventID{}
	own, err := g.ownLabels(ctx, ev)
	if err != nil {
		return nil, err
	}
	for _, label := range own {
		carriers[label] = id
	}
	for _, src := range ev.Sources {
		if src >= id {
			return nil, fmt.Errorf("provenance: event %d references %d: %w", id, src, model.ErrCorrupt)
		}
		up, err := g.taintOf(ctx, src, version)
		if err != nil {
			return nil, err
		}
		for label, carrier := range up {
			if have, ok := carriers[label]; !ok || carrier < have {
				carriers[label] = carrier
			}
		}
	}

	g.mu.Lock()
	if g.version == version {
		g.taints[id] = cachedTaint{version: version, carriers: carriers}
	}
	g.mu.Unlock()
	return carriers, nil
}

// ownLabels collects the labels an event carries directly: its trust
// level from ingestion plus any post-hoc overlay labels.
func (g *Graph) ownLabels(ctx context.Context, ev model.Event) ([]model.TrustLevel, error) {
	var labels []model.TrustLevel
	if ev.Trust != "" {
		labels = append(labels, ev.Trust)
	}
	overlay, err := g.store.Labels(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	labels = append(labels, overlay...)
	return labels, nil
}
