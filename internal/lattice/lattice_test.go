package lattice

import (
	"errors"
	"testing"

	"github.com/carapace-ai/carapace/internal/model"
)

func TestJoinEmptyIsTop(t *testing.T) {
	l := Default()
	joined, err := l.Join()
	if err != nil {
		t.Fatalf("join of empty set: %v", err)
	}
	if joined != model.TrustSystem {
		t.Errorf("expected SYSTEM (identity) for empty join, got %s", joined)
	}
}

func TestJoinPicksLeastTrusted(t *testing.T) {
	l := Default()
	joined, err := l.Join(model.TrustSystem, model.TrustExternal, model.TrustUser)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined != model.TrustExternal {
		t.Errorf("expected EXTERNAL, got %s", joined)
	}
}

func TestJoinIdempotent(t *testing.T) {
	l := Default()
	for _, label := range l.Levels() {
		joined, err := l.Join(label, label)
		if err != nil {
			t.Fatalf("join(%s, %s): %v", label, label, err)
		}
		if joined != label {
			t.Errorf("join(%s, %s) = %s, want %s", label, label, joined, label)
		}
		// Joining with the identity returns the other operand unchanged.
		joined, err = l.Join(l.Top(), label)
		if err != nil {
			t.Fatalf("join(top, %s): %v", label, err)
		}
		if joined != label {
			t.Errorf("join(top, %s) = %s, want %s", label, joined, label)
		}
	}
}

func TestJoinRejectsUnknownLabel(t *testing.T) {
	l := Default()
	if _, err := l.Join(model.TrustLevel("BOGUS")); !errors.Is(err, model.ErrInvalidLabel) {
		t.Errorf("expected ErrInvalidLabel, got %v", err)
	}
}

func TestIsAtLeast(t *testing.T) {
	l := Default()
	tests := []struct {
		a, b model.TrustLevel
		want bool
	}{
		{model.TrustSystem, model.TrustUser, true},
		{model.TrustUser, model.TrustUser, true},
		{model.TrustUnknown, model.TrustUser, false},
		{model.TrustOperator, model.TrustSystem, false},
	}
	for _, tt := range tests {
		got, err := l.IsAtLeast(tt.a, tt.b)
		if err != nil {
			t.Fatalf("IsAtLeast(%s, %s): %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("IsAtLeast(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCustomOrder(t *testing.T) {
	l, err := New([]model.TrustLevel{"GOLD", "SILVER", "BRONZE"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Top() != "GOLD" || l.Bottom() != "BRONZE" {
		t.Errorf("unexpected top/bottom: %s/%s", l.Top(), l.Bottom())
	}
	if l.Contains(model.TrustSystem) {
		t.Error("SYSTEM should not be in a custom lattice")
	}
	joined, err := l.Join("SILVER", "BRONZE")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined != "BRONZE" {
		t.Errorf("expected BRONZE, got %s", joined)
	}
}

func TestNewRejectsBadOrders(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("empty order: expected ErrConfiguration, got %v", err)
	}
	if _, err := New([]model.TrustLevel{"A", "A"}); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("duplicate label: expected ErrConfiguration, got %v", err)
	}
	if _, err := New([]model.TrustLevel{"A", ""}); !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("empty label: expected ErrConfiguration, got %v", err)
	}
}

func TestByRankRoundTrip(t *testing.T) {
	l := Default()
	for i, label := range l.Levels() {
		got, err := l.ByRank(i)
		if err != nil {
			t.Fatalf("ByRank(%d): %v", i, err)
		}
		if got != label {
			t.Errorf("ByRank(%d) = %s, want %s", i, got, label)
		}
		r, err := l.Rank(label)
		if err != nil {
			t.Fatalf("Rank(%s): %v", label, err)
		}
		if r != i {
			t.Errorf("Rank(%s) = %d, want %d", label, r, i)
		}
	}
	if _, err := l.ByRank(99); !errors.Is(err, model.ErrInvalidLabel) {
		t.Errorf("out-of-range rank: expected ErrInvalidLabel, got %v", err)
	}
}
