package graph

import (
	"sort"
	"strings"

	"github.com/justapithecus/forge/types"
)

// paramScope is a deterministic, comparable set of Param Types -- the
// "in_set" a rule transitively consumes or the "out_set" available to it
// from its callers. Represented as a sorted slice so two scopes can be
// compared by key() for the fixpoint's changed/unchanged check and reused
// directly as types.RuleInstance.LiveParams.
type paramScope struct {
	types []types.Type
}

func newParamScope(ts []types.Type) paramScope {
	return paramScope{types: sortedUniqueTypes(ts)}
}

func (s paramScope) contains(t types.Type) bool {
	for _, x := range s.types {
		if x == t {
			return true
		}
	}
	return false
}

func (s paramScope) with(t types.Type) paramScope {
	if s.contains(t) {
		return s
	}
	return newParamScope(append(append([]types.Type(nil), s.types...), t))
}

func (s paramScope) union(other paramScope) paramScope {
	return newParamScope(append(append([]types.Type(nil), s.types...), other.types...))
}

func (s paramScope) intersect(other paramScope) paramScope {
	var out []types.Type
	for _, t := range s.types {
		if other.contains(t) {
			out = append(out, t)
		}
	}
	return newParamScope(out)
}

func (s paramScope) equal(other paramScope) bool {
	return s.key() == other.key()
}

func (s paramScope) key() string {
	parts := make([]string, len(s.types))
	for i, t := range s.types {
		parts[i] = string(t)
	}
	return strings.Join(parts, "+")
}

func sortedUniqueTypes(ts []types.Type) []types.Type {
	seen := make(map[types.Type]bool, len(ts))
	out := make([]types.Type, 0, len(ts))
	for _, t := range ts {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// computeLiveParams runs phase 2: a monotone data-flow fixpoint over the
// polymorphic graph. in_set(rule) accumulates every Param Type the rule or
// any of its candidate dependencies transitively consumes; out_set(rule)
// accumulates every Param Type available to it from every path a caller
// might reach it by. Both only grow, so repeated passes over the (finite)
// rule set converge.
//
// The result bounds, but does not by itself decide, each RuleInstance's
// LiveParams: phase 3 intersects in_set(rule) against the concrete out
// scope at one call site to get that site's minimal live set.
func computeLiveParams(poly *polyGraph, rootOut paramScope) (inSets, outSets map[types.RuleID]paramScope) {
	inSets = make(map[types.RuleID]paramScope, len(poly.nodes))
	outSets = make(map[types.RuleID]paramScope, len(poly.nodes))
	for id, rule := range poly.nodes {
		seed := newParamScope(rule.Params)
		for _, pe := range poly.edges[id] {
			if pe.Key.Subject != "" {
				seed = seed.with(pe.Key.Subject)
			}
		}
		inSets[id] = seed
		outSets[id] = paramScope{}
	}
	for _, id := range poly.rootCandidates {
		outSets[id] = outSets[id].union(rootOut)
	}

	changed := true
	for changed {
		changed = false
		for id, edges := range poly.edges {
			for _, pe := range edges {
				for _, childID := range pe.Candidates {
					childOut := outSets[id]
					if pe.Key.Subject != "" {
						childOut = childOut.with(pe.Key.Subject)
					}
					if merged := outSets[childID].union(childOut); !merged.equal(outSets[childID]) {
						outSets[childID] = merged
						changed = true
					}

					parentIn := inSets[id].union(inSets[childID])
					if pe.Key.Subject != "" {
						parentIn = parentIn.with(pe.Key.Subject)
					}
					if merged := inSets[id].union(parentIn); !merged.equal(inSets[id]) {
						inSets[id] = merged
						changed = true
					}
				}
			}
		}
	}
	return inSets, outSets
}
