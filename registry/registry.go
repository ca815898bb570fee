// Package registry implements the rule & type registry (component C):
// rule registration, lookup by output type, and union-base member
// resolution.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/justapithecus/forge/types"
)

// Registry holds every registered Rule and union membership, and answers
// the lookup queries the rule graph builder needs: "which rules produce
// this type" and "which concrete types satisfy this union base."
type Registry struct {
	mu sync.RWMutex

	rules     map[types.RuleID]types.Rule
	byOutput  map[types.Type][]types.RuleID
	unionBase map[types.Type][]types.Type // base -> members
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		rules:     make(map[types.RuleID]types.Rule),
		byOutput:  make(map[types.Type][]types.RuleID),
		unionBase: make(map[types.Type][]types.Type),
	}
}

// Register adds r to the registry. Returns an error if r is invalid or its
// ID is already registered -- duplicate registration is a programmer
// error, not a runtime condition to tolerate silently.
func (reg *Registry) Register(r types.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, exists := reg.rules[r.ID]; exists {
		return fmt.Errorf("registry: rule %s already registered", r.ID)
	}
	reg.rules[r.ID] = r
	reg.byOutput[r.Output] = append(reg.byOutput[r.Output], r.ID)
	return nil
}

// RegisterUnionMember declares that member is one of base's possible
// concrete producers.
func (reg *Registry) RegisterUnionMember(m types.UnionMember) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.unionBase[m.Base] = append(reg.unionBase[m.Base], m.Member)
}

// Rule returns the rule registered under id.
func (reg *Registry) Rule(id types.RuleID) (types.Rule, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rules[id]
	return r, ok
}

// Producers returns, sorted by RuleID for determinism, every rule directly
// registered to produce product.
func (reg *Registry) Producers(product types.Type) []types.Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	ids := append([]types.RuleID(nil), reg.byOutput[product]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]types.Rule, 0, len(ids))
	for _, id := range ids {
		out = append(out, reg.rules[id])
	}
	return out
}

// All returns every registered rule, sorted by RuleID for determinism.
// Used by CLI/diagnostic callers that need a full inventory rather than a
// lookup by output type.
func (reg *Registry) All() []types.Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]types.Rule, 0, len(reg.rules))
	for _, r := range reg.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UnionMembers returns the concrete member types registered under base.
func (reg *Registry) UnionMembers(base types.Type) []types.Type {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	members := append([]types.Type(nil), reg.unionBase[base]...)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// IsUnionBase reports whether t has any registered union members.
func (reg *Registry) IsUnionBase(t types.Type) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.unionBase[t]) > 0
}

// ProducersForKey resolves a DependencyKey to its candidate producing
// rules: direct producers of Key.Product, plus -- when Product is a union
// base -- the producers of each registered member type.
func (reg *Registry) ProducersForKey(key types.DependencyKey) []types.Rule {
	direct := reg.Producers(key.Product)
	if !reg.IsUnionBase(key.Product) {
		return direct
	}

	out := append([]types.Rule(nil), direct...)
	for _, member := range reg.UnionMembers(key.Product) {
		out = append(out, reg.Producers(member)...)
	}
	return out
}
