// Package registry maps tool names to their declared risk tier and
// category. Registrations are upserts; lookups never fail — unregistered
// tools resolve to a conservative fallback tier.
package registry

import (
	"fmt"
	"sync"

	"github.com/carapace-ai/carapace/internal/model"
)

// Registration is what the engine knows about a tool.
type Registration struct {
	RiskTier model.RiskTier
	Category string
}

// Registry is a concurrent-safe tool map. Last write wins per name.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Registration
	fallback model.RiskTier
}

// New creates a registry with the given fallback tier for unregistered
// tools. An invalid or empty fallback defaults to high — never silently
// low.
func New(fallback model.RiskTier) *Registry {
	if !model.ValidRiskTier(fallback) {
		fallback = model.RiskHigh
	}
	return &Registry{
		tools:    make(map[string]Registration),
		fallback: fallback,
	}
}

// Register upserts a tool. The risk tier must be one of the four
// declared tiers.
func (r *Registry) Register(name string, tier model.RiskTier, category string) error {
	if name == "" {
		return fmt.Errorf("registry: empty tool name: %w", model.ErrInvalidLabel)
	}
	if !model.ValidRiskTier(tier) {
		return fmt.Errorf("registry: tool %q: unknown risk tier %q: %w", name, tier, model.ErrConfiguration)
	}
	r.mu.Lock()
	r.tools[name] = Registration{RiskTier: tier, Category: category}
	r.mu.Unlock()
	return nil
}

// Lookup resolves a tool. Unregistered names get the fallback tier and
// an empty category.
func (r *Registry) Lookup(name string) Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.tools[name]; ok {
		return reg
	}
	return Registration{RiskTier: r.fallback}
}

// Registered reports whether the tool has an explicit registration.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}
