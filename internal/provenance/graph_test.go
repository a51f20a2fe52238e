package provenance

import (
	"context"
	"errors"
	"testing"

	"github.com/carapace-ai/carapace/internal/lattice"
	"github.com/carapace-ai/carapace/internal/model"
	"github.com/carapace-ai/carapace/internal/store"
)

// buildChain appends: e1 (USER message) <- e2 (proposal) <- e3 (result),
// plus an unrelated e4 (SYSTEM message).
func buildChain(t *testing.T) (*Graph, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()

	mustAppend(t, s, store.AppendRequest{Kind: model.KindIngestedMessage, Trust: model.TrustUser, Content: "hello"})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindToolProposal, Content: "{}", Sources: []model.EventID{1}})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindToolResult, Content: "200 OK", Sources: []model.EventID{2}})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindIngestedMessage, Trust: model.TrustSystem, Content: "boot"})

	_ = ctx
	return New(s, lattice.Default()), s
}

func mustAppend(t *testing.T, s store.Store, req store.AppendRequest) model.EventID {
	t.Helper()
	id, err := s.Append(context.Background(), req)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return id
}

func TestAncestorsTransitive(t *testing.T) {
	g, _ := buildChain(t)
	ctx := context.Background()

	anc, err := g.Ancestors(ctx, 3)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(anc) != 2 || anc[0] != 1 || anc[1] != 2 {
		t.Errorf("ancestors(3) = %v, want [1 2]", anc)
	}

	anc, err = g.Ancestors(ctx, 1)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(anc) != 0 {
		t.Errorf("ancestors(1) = %v, want empty", anc)
	}
}

func TestTaintReachability(t *testing.T) {
	g, _ := buildChain(t)
	ctx := context.Background()

	summary, err := g.Taint(ctx, 3)
	if err != nil {
		t.Fatalf("taint: %v", err)
	}
	if !summary.Has(model.TrustUser) {
		t.Error("USER should reach event 3 through its lineage")
	}
	if summary.Has(model.TrustSystem) {
		t.Error("SYSTEM is not in event 3's lineage")
	}
	if summary.Joined != model.TrustUser {
		t.Errorf("joined = %s, want USER", summary.Joined)
	}
	if carrier := summary.Carriers[model.TrustUser]; carrier != 1 {
		t.Errorf("USER carrier = %d, want 1", carrier)
	}
}

func TestTaintOfUnlabeledLineageIsEmpty(t *testing.T) {
	s := store.NewMemoryStore()
	g := New(s, lattice.Default())
	ctx := context.Background()

	// No trust at ingestion: the event contributes no label, not a default.
	mustAppend(t, s, store.AppendRequest{Kind: model.KindToolResult, Content: "raw"})

	summary, err := g.Taint(ctx, 1)
	if err != nil {
		t.Fatalf("taint: %v", err)
	}
	if len(summary.Carriers) != 0 {
		t.Errorf("expected no labels, got %v", summary.Carriers)
	}
	if summary.Joined != model.TrustSystem {
		t.Errorf("joined over empty set = %s, want identity SYSTEM", summary.Joined)
	}
}

func TestIsTracedExactMatch(t *testing.T) {
	g, _ := buildChain(t)
	ctx := context.Background()

	// Directly ingested with USER and no inputs.
	for _, tt := range []struct {
		label model.TrustLevel
		want  bool
	}{
		{model.TrustUser, true},
		{model.TrustSystem, false},
		{model.TrustExternal, false},
	} {
		got, err := g.IsTraced(ctx, 1, tt.label)
		if err != nil {
			t.Fatalf("isTraced(1, %s): %v", tt.label, err)
		}
		if got != tt.want {
			t.Errorf("isTraced(1, %s) = %v, want %v", tt.label, got, tt.want)
		}
	}

	if _, err := g.IsTraced(ctx, 1, "BOGUS"); !errors.Is(err, model.ErrInvalidLabel) {
		t.Errorf("expected ErrInvalidLabel, got %v", err)
	}
}

func TestLabelOverlayInvalidatesCache(t *testing.T) {
	g, s := buildChain(t)
	ctx := context.Background()

	// Warm the cache.
	if traced, _ := g.IsTraced(ctx, 3, model.TrustExternal); traced {
		t.Fatal("EXTERNAL should not be reachable yet")
	}

	if err := s.AddLabel(ctx, 2, model.TrustExternal); err != nil {
		t.Fatalf("add label: %v", err)
	}
	g.Invalidate()

	traced, err := g.IsTraced(ctx, 3, model.TrustExternal)
	if err != nil {
		t.Fatalf("isTraced: %v", err)
	}
	if !traced {
		t.Error("EXTERNAL label on ancestor 2 must propagate to descendant 3")
	}
}

func TestTaintAcrossMultipleRoots(t *testing.T) {
	s := store.NewMemoryStore()
	g := New(s, lattice.Default())
	ctx := context.Background()

	mustAppend(t, s, store.AppendRequest{Kind: model.KindIngestedMessage, Trust: model.TrustSystem, Content: "a"})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindIngestedMessage, Trust: model.TrustUnknown, Content: "b"})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindToolProposal, Content: "{}", Sources: []model.EventID{1, 2}})

	summary, err := g.Taint(ctx, 3)
	if err != nil {
		t.Fatalf("taint: %v", err)
	}
	if summary.Joined != model.TrustUnknown {
		t.Errorf("joined = %s, want UNKNOWN (least trusted wins)", summary.Joined)
	}
	if !summary.Has(model.TrustSystem) || !summary.Has(model.TrustUnknown) {
		t.Errorf("both root labels must be reachable: %v", summary.Carriers)
	}
}

func TestExplainChain(t *testing.T) {
	g, _ := buildChain(t)
	ctx := context.Background()

	exp, err := g.Explain(ctx, 3)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if len(exp.Chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(exp.Chain))
	}
	// Starts at the event itself and walks back to the labeled root.
	if exp.Chain[0].ID != 3 || exp.Chain[1].ID != 2 || exp.Chain[2].ID != 1 {
		t.Errorf("chain order = [%d %d %d], want [3 2 1]", exp.Chain[0].ID, exp.Chain[1].ID, exp.Chain[2].ID)
	}
	if exp.Text == "" {
		t.Error("explanation text is empty")
	}

	// Deterministic: same graph state, same result.
	again, err := g.Explain(ctx, 3)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if again.Text != exp.Text {
		t.Error("explain is not deterministic")
	}
}

func TestExplainPrefersEarliestPath(t *testing.T) {
	s := store.NewMemoryStore()
	g := New(s, lattice.Default())
	ctx := context.Background()

	// Diamond: 1 (USER) feeds both 2 and 3; 4 depends on both.
	mustAppend(t, s, store.AppendRequest{Kind: model.KindIngestedMessage, Trust: model.TrustUser, Content: "root"})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindToolProposal, Content: "{}", Sources: []model.EventID{1}})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindToolProposal, Content: "{}", Sources: []model.EventID{1}})
	mustAppend(t, s, store.AppendRequest{Kind: model.KindToolProposal, Content: "{}", Sources: []model.EventID{2, 3}})

	exp, err := g.Explain(ctx, 4)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	// The path to the USER root goes through 2, the earlier branch.
	if len(exp.Chain) != 3 || exp.Chain[1].ID != 2 || exp.Chain[2].ID != 1 {
		ids := make([]model.EventID, len(exp.Chain))
		for i, ev := range exp.Chain {
			ids[i] = ev.ID
		}
		t.Errorf("chain = %v, want [4 2 1]", ids)
	}
}
