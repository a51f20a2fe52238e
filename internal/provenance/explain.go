package provenance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/carapace-ai/carapace/internal/model"
)

// Explanation is a human-readable justification of an event's taint:
// one path from the event back to each label-bearing ancestor, merged
// into a single ordered chain starting at the event itself.
type Explanation struct {
	Text  string        `json:"text"`
	Chain []model.Event `json:"trace_chain"`
}

// Explain reconstructs why taint applies to id. Deterministic for a
// given graph state: paths are shortest-first, ties broken toward the
// earliest-created ancestor.
func (g *Graph) Explain(ctx context.Context, id model.EventID) (Explanation, error) {
	target, err := g.store.Get(ctx, id)
	if err != nil {
		return Explanation{}, err
	}

	// Breadth-first walk from id through input_sources, recording for
	// every ancestor the child it was first discovered through.
	// Sources are expanded in ascending id order, so on equal depth the
	// earliest-created path wins.
	next := map[model.EventID]model.EventID{} // ancestor -> step toward id
	queue := []model.EventID{id}
	visited := map[model.EventID]bool{id: true}
	events := map[model.EventID]model.Event{id: target}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		ev := events[cur]
		sources := append([]model.EventID(nil), ev.Sources...)
		sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
		for _, src := range sources {
			if visited[src] {
				continue
			}
			srcEv, err := g.store.Get(ctx, src)
			if err != nil {
				return Explanation{}, err
			}
			visited[src] = true
			next[src] = cur
			events[src] = srcEv
			queue = append(queue, src)
		}
	}

	// Labeled ancestors (the event itself included), earliest first.
	var labeled []model.EventID
	for anc := range visited {
		own, err := g.ownLabels(ctx, events[anc])
		if err != nil {
			return Explanation{}, err
		}
		if len(own) > 0 {
			labeled = append(labeled, anc)
		}
	}
	sort.Slice(labeled, func(i, j int) bool { return labeled[i] < labeled[j] })

	// Merge the path to each labeled ancestor into one chain, beginning
	// at the event under explanation.
	chain := []model.Event{target}
	inChain := map[model.EventID]bool{id: true}
	for _, anc := range labeled {
		for _, step := range pathFrom(anc, id, next) {
			if !inChain[step] {
				inChain[step] = true
				chain = append(chain, events[step])
			}
		}
	}

	text, err := g.renderText(ctx, chain)
	if err != nil {
		return Explanation{}, err
	}
	return Explanation{Text: text, Chain: chain}, nil
}

// pathFrom walks next-pointers from an ancestor up to the target and
// returns the steps ordered target-first.
func pathFrom(anc, target model.EventID, next map[model.EventID]model.EventID) []model.EventID {
	var reversed []model.EventID
	for cur := anc; cur != target; cur = next[cur] {
		reversed = append(reversed, cur)
	}
	out := make([]model.EventID, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out
}

func (g *Graph) renderText(ctx context.Context, chain []model.Event) (string, error) {
	var b strings.Builder
	for i, ev := range chain {
		if i == 0 {
			fmt.Fprintf(&b, "event %d (%s)", ev.ID, ev.Kind)
		} else {
			fmt.Fprintf(&b, "\n  <- event %d (%s)", ev.ID, ev.Kind)
		}
		own, err := g.ownLabels(ctx, ev)
		if err != nil {
			return "", err
		}
		if len(own) > 0 {
			parts := make([]string, len(own))
			for j, label := range own {
				parts[j] = string(label)
			}
			fmt.Fprintf(&b, " [%s]", strings.Join(parts, " "))
		}
	}
	return b.String(), nil
}
