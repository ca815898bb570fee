package graph

import (
	"fmt"

	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/types"
)

// siteKey identifies one monomorphized call site: a rule paired with the
// live-param scope it was resolved against. Two sites with the same rule
// but different live scopes become distinct RuleInstances (this is how a
// single Rule body can appear at many call sites); two with the same rule
// and the same live scope collapse to one -- including when the second
// encounter is a recursive self-reference, which is how legitimate
// recursion terminates during construction instead of looping forever.
type siteKey struct {
	rule types.RuleID
	live string
}

// monomorphizer runs phase 3: it walks the polymorphic graph from the
// query root, splitting each rule into one RuleInstance per distinct live
// scope actually encountered and choosing, for each DependencyKey, one
// provider from its candidate set.
type monomorphizer struct {
	reg     *registry.Registry
	poly    *polyGraph
	inSets  map[types.RuleID]paramScope
	outSets map[types.RuleID]paramScope

	memo    map[siteKey]types.RuleInstance
	pending map[siteKey]bool
	edges   map[types.RuleInstance][]types.RuleEdge
	depth   int
}

// resolve monomorphizes rule against the out-of-scope param set at this
// call site, returning the RuleInstance the site collapses to.
func (m *monomorphizer) resolve(rule types.Rule, out paramScope) (types.RuleInstance, error) {
	live := m.inSets[rule.ID].intersect(out)
	inst := types.RuleInstance{Rule: rule.ID, Output: rule.Output, LiveParams: live.types}
	key := siteKey{rule: rule.ID, live: live.key()}

	if existing, ok := m.memo[key]; ok {
		return existing, nil
	}
	if m.pending[key] {
		return inst, nil
	}

	m.depth++
	if m.depth > maxSplitAttempts {
		m.depth--
		return types.RuleInstance{}, newBuildError(types.ErrorKindGraphAmbiguity,
			fmt.Sprintf("%s: exceeded monomorphization split depth -- rule set re-splits without converging", rule.ID))
	}
	defer func() { m.depth-- }()

	m.pending[key] = true
	defer delete(m.pending, key)

	var edges []types.RuleEdge
	for _, pe := range m.poly.edges[rule.ID] {
		childEdges, err := m.resolveEdge(rule, pe, out)
		if err != nil {
			return types.RuleInstance{}, err
		}
		edges = append(edges, childEdges...)
	}

	if len(edges) > 0 {
		m.edges[inst] = edges
	}
	m.memo[key] = inst
	return inst, nil
}

// resolveEdge monomorphizes one declared dependency of rule. A plain edge
// tie-breaks among its candidates and resolves one child. A union edge
// resolves each member independently and contributes one RuleEdge per
// member, per the union expansion rule. A Param-leaf edge needs no
// RuleEdge at all: the engine reads it straight from the session's
// ParamSet at runtime.
func (m *monomorphizer) resolveEdge(rule types.Rule, pe polyEdge, out paramScope) ([]types.RuleEdge, error) {
	if pe.Key.Subject != "" && !out.contains(pe.Key.Subject) {
		return nil, newBuildError(types.ErrorKindGraphMissing,
			fmt.Sprintf("%s: %s requires param %s not in scope at this call site", rule.ID, pe.Key, pe.Key.Subject))
	}
	childOut := out
	if pe.Key.Subject != "" {
		childOut = out.with(pe.Key.Subject)
	}

	if pe.IsParamLeaf {
		return nil, nil
	}

	if len(pe.Members) > 0 {
		edges := make([]types.RuleEdge, 0, len(pe.Members))
		for _, memberKey := range pe.Members {
			candidates := m.reg.Producers(memberKey.Product)
			chosen, err := tieBreak(string(rule.ID), memberKey, candidates, childOut)
			if err != nil {
				return nil, err
			}
			childInst, err := m.resolve(chosen, childOut)
			if err != nil {
				return nil, err
			}
			edges = append(edges, types.RuleEdge{Key: memberKey, Provider: childInst})
		}
		return edges, nil
	}

	candidates := m.candidatesByID(pe.Candidates)
	chosen, err := tieBreak(string(rule.ID), pe.Key, candidates, childOut)
	if err != nil {
		return nil, err
	}
	childInst, err := m.resolve(chosen, childOut)
	if err != nil {
		return nil, err
	}
	return []types.RuleEdge{{Key: pe.Key, Provider: childInst}}, nil
}

func (m *monomorphizer) candidatesByID(ids []types.RuleID) []types.Rule {
	out := make([]types.Rule, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.reg.Rule(id); ok {
			out = append(out, r)
		}
	}
	return out
}
