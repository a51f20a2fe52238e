// Package lattice defines the ordered set of trust labels and the join
// rule used to combine taint from multiple provenance inputs.
package lattice

import (
	"fmt"

	"github.com/carapace-ai/carapace/internal/model"
)

// Lattice is a configured total order over trust labels.
// Index 0 is the most trusted label; the last index is the least
// trusted. The zero value is not usable; construct with New or Default.
type Lattice struct {
	order []model.TrustLevel
	rank  map[model.TrustLevel]int
}

// Default returns the embedded trust ordering:
// SYSTEM > OPERATOR > USER > EXTERNAL > UNKNOWN.
func Default() *Lattice {
	l, _ := New([]model.TrustLevel{
		model.TrustSystem,
		model.TrustOperator,
		model.TrustUser,
		model.TrustExternal,
		model.TrustUnknown,
	})
	return l
}

// New builds a lattice from an ordering, most trusted first.
func New(order []model.TrustLevel) (*Lattice, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("lattice: empty trust order: %w", model.ErrConfiguration)
	}
	rank := make(map[model.TrustLevel]int, len(order))
	for i, label := range order {
		if label == "" {
			return nil, fmt.Errorf("lattice: empty label at position %d: %w", i, model.ErrConfiguration)
		}
		if _, dup := rank[label]; dup {
			return nil, fmt.Errorf("lattice: duplicate label %q: %w", label, model.ErrConfiguration)
		}
		rank[label] = i
	}
	ordered := make([]model.TrustLevel, len(order))
	copy(ordered, order)
	return &Lattice{order: ordered, rank: rank}, nil
}

// Levels returns the configured labels, most trusted first.
func (l *Lattice) Levels() []model.TrustLevel {
	out := make([]model.TrustLevel, len(l.order))
	copy(out, l.order)
	return out
}

// Validate returns ErrInvalidLabel if label is outside the lattice.
func (l *Lattice) Validate(label model.TrustLevel) error {
	if _, ok := l.rank[label]; !ok {
		return fmt.Errorf("lattice: %q is not in the configured trust order: %w", label, model.ErrInvalidLabel)
	}
	return nil
}

// Contains reports whether label belongs to the lattice.
func (l *Lattice) Contains(label model.TrustLevel) bool {
	_, ok := l.rank[label]
	return ok
}

// Top returns the identity element for Join: the most trusted label.
// A tool call with no tracked inputs joins to Top rather than being
// spuriously tainted.
func (l *Lattice) Top() model.TrustLevel {
	return l.order[0]
}

// Bottom returns the least trusted label.
func (l *Lattice) Bottom() model.TrustLevel {
	return l.order[len(l.order)-1]
}

// Join returns the least trusted label present. Joining the empty set
// yields Top. Every label must belong to the lattice.
func (l *Lattice) Join(labels ...model.TrustLevel) (model.TrustLevel, error) {
	joined := l.Top()
	worst := 0
	for _, label := range labels {
		r, ok := l.rank[label]
		if !ok {
			return "", fmt.Errorf("lattice: join of %q: %w", label, model.ErrInvalidLabel)
		}
		if r > worst {
			worst = r
			joined = label
		}
	}
	return joined, nil
}

// IsAtLeast reports whether a is at least as trusted as b.
// Both labels must belong to the lattice.
func (l *Lattice) IsAtLeast(a, b model.TrustLevel) (bool, error) {
	ra, ok := l.rank[a]
	if !ok {
		return false, fmt.Errorf("lattice: compare %q: %w", a, model.ErrInvalidLabel)
	}
	rb, ok := l.rank[b]
	if !ok {
		return false, fmt.Errorf("lattice: compare %q: %w", b, model.ErrInvalidLabel)
	}
	return ra <= rb, nil
}

// Rank returns the position of label in the order, 0 = most trusted.
func (l *Lattice) Rank(label model.TrustLevel) (int, error) {
	r, ok := l.rank[label]
	if !ok {
		return 0, fmt.Errorf("lattice: rank of %q: %w", label, model.ErrInvalidLabel)
	}
	return r, nil
}

// ByRank returns the label at the given position in the order. This is
// the wire mapping used by the sidecar, where trust may arrive as an
// integer index.
func (l *Lattice) ByRank(rank int) (model.TrustLevel, error) {
	if rank < 0 || rank >= len(l.order) {
		return "", fmt.Errorf("lattice: no label at rank %d: %w", rank, model.ErrInvalidLabel)
	}
	return l.order[rank], nil
}
