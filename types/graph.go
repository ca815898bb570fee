package types

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// RuleInstance is a Rule monomorphized against one concrete, minimal live
// ParamSet: the output of the rule graph builder's monomorphization phase
// and the unit the runtime node graph schedules.
type RuleInstance struct {
	Rule   RuleID
	Output Type
	// LiveParams is the minimal param type set this instance's body and its
	// transitive dependencies actually read, as computed by the builder's
	// live-param-set fixpoint analysis. Two call sites that need the same
	// Output but differ in which params are in scope can resolve to
	// different RuleInstances when their live sets differ.
	LiveParams []Type
}

// String renders the instance for diagnostics.
func (ri RuleInstance) String() string {
	if len(ri.LiveParams) == 0 {
		return fmt.Sprintf("%s(%s)", ri.Rule, ri.Output)
	}
	return fmt.Sprintf("%s(%s)[%v]", ri.Rule, ri.Output, ri.LiveParams)
}

// NodeID stably identifies one RuntimeNode: a RuleInstance paired with the
// concrete ParamSet (restricted to LiveParams) it is actually evaluated
// against. Used as the engine's memoization key and the scheduler's dedup
// key.
type NodeID struct {
	Instance RuleInstance
	hash     [32]byte
	computed bool
}

// NewNodeID derives a NodeID from a rule instance and the live subset of an
// ambient ParamSet.
func NewNodeID(instance RuleInstance, params ParamSet) NodeID {
	live := params.Subset(instance.LiveParams...)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", instance.Rule, instance.Output, live.DataFingerprint())
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return NodeID{Instance: instance, hash: sum, computed: true}
}

// Key returns a comparable, map-safe key for nid.
func (nid NodeID) Key() [32]byte {
	return nid.hash
}

// String renders the node id for diagnostics.
func (nid NodeID) String() string {
	return fmt.Sprintf("%s/%x", nid.Instance, nid.hash[:6])
}

// RuleEdge is one resolved dependency edge in a RuleGraph: the dependency
// key a rule requested, and the RuleInstance chosen to satisfy it.
type RuleEdge struct {
	Key      DependencyKey
	Provider RuleInstance
}

// RuleGraph is the monomorphic, statically-resolved dependency graph for
// one (Product, root param types) entry point: the artifact produced by
// the rule graph builder (component D) and consumed by the scheduler and
// runtime node graph (components E/F) to drive evaluation without any
// further rule-selection decisions at runtime.
type RuleGraph struct {
	Root  RuleInstance
	Edges map[RuleInstance][]RuleEdge
}

// Instances returns the deterministic, sorted set of rule instances
// reachable in g, root first.
func (g *RuleGraph) Instances() []RuleInstance {
	seen := map[RuleInstance]bool{g.Root: true}
	out := []RuleInstance{g.Root}
	var walk func(RuleInstance)
	walk = func(ri RuleInstance) {
		edges := g.Edges[ri]
		sort.Slice(edges, func(i, j int) bool {
			return edges[i].Provider.String() < edges[j].Provider.String()
		})
		for _, e := range edges {
			if !seen[e.Provider] {
				seen[e.Provider] = true
				out = append(out, e.Provider)
				walk(e.Provider)
			}
		}
	}
	walk(g.Root)
	return out
}
