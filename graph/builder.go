// Package graph implements the rule-graph builder (component D): the
// static compiler that turns a Registry's Rules and a Query into a
// monomorphic RuleGraph with exactly one outgoing edge per DependencyKey,
// annotated with the minimal set of Param types each RuleInstance consumes.
//
// Building runs five phases in order, mirroring the layered-pass style of
// an orchestrated run (see runtime.RunOrchestrator.Execute in the
// ancestor package this module grew from): each phase is a small, named
// step that hands a concrete result to the next rather than one
// monolithic function.
//
//  1. buildPolymorphic  -- discover every reachable rule and its candidate
//     dependency edges (a Get may have many candidate providers).
//  2. computeLiveParams -- a data-flow fixpoint computing, per rule, the
//     Param types it transitively consumes (in_set) and the Param types
//     available to it from its callers (out_set).
//  3. monomorphizer.resolve -- split each polymorphic rule into one
//     RuleInstance per distinct live-param scope actually encountered,
//     choosing one provider per DependencyKey.
//  4. diagnose -- ambiguous splits and missing providers surface as a
//     *BuildError naming the rule and the unsatisfied requirement.
//  5. finalize -- trim the result to exactly the RuleInstances reachable
//     from the query's root.
package graph

import (
	"fmt"

	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/types"
)

// maxSplitAttempts bounds monomorphization's recursion depth: the
// "fairness guard" spec's phase 3 calls for, so a rule set that would
// otherwise split forever surfaces as a diagnostic instead of hanging the
// build.
const maxSplitAttempts = 128

// Builder compiles a Registry into monomorphic RuleGraphs.
type Builder struct {
	reg *registry.Registry
}

// NewBuilder returns a Builder reading rules from reg.
func NewBuilder(reg *registry.Registry) *Builder {
	return &Builder{reg: reg}
}

// polyEdge is one declared dependency of a polymorphic rule node: the
// DependencyKey it requests, and every rule that could currently satisfy
// it (phase 1's multi-set edge, narrowed to one choice in phase 3).
type polyEdge struct {
	Key        types.DependencyKey
	Candidates []types.RuleID
	// Members is non-empty when Key.Product names a union base: one
	// sub-key per current member, each resolved independently rather
	// than tie-broken against the others.
	Members []types.DependencyKey
	// IsParamLeaf marks a Get that resolves directly to a Param the
	// session supplies, not to any RuleInstance -- it needs no edge in
	// the final graph.
	IsParamLeaf bool
}

// polyGraph is phase 1's output: every rule reachable from a query's root
// product, each with its (not yet chosen) dependency edges.
type polyGraph struct {
	rootCandidates []types.RuleID
	nodes          map[types.RuleID]types.Rule
	edges          map[types.RuleID][]polyEdge
	available      paramScope
	queryParams    paramScope
}

// Build compiles the RuleGraph rooted at query, or returns a *BuildError.
// All errors are compile-time and non-recoverable: callers should refuse
// to open a Session on a Builder that fails here rather than retry
// per-query.
func (b *Builder) Build(query types.Query) (*types.RuleGraph, error) {
	poly, err := b.buildPolymorphic(query)
	if err != nil {
		return nil, err
	}

	rootOut := newParamScope(query.Params.Types())
	inSets, outSets := computeLiveParams(poly, rootOut)

	m := &monomorphizer{
		reg:     b.reg,
		poly:    poly,
		inSets:  inSets,
		outSets: outSets,
		memo:    make(map[siteKey]types.RuleInstance),
		pending: make(map[siteKey]bool),
		edges:   make(map[types.RuleInstance][]types.RuleEdge),
	}

	rootCandidates := m.candidatesByID(poly.rootCandidates)
	rootRule, err := tieBreak("query "+string(query.Product), types.DependencyKey{Product: query.Product}, rootCandidates, rootOut)
	if err != nil {
		return nil, err
	}

	root, err := m.resolve(rootRule, rootOut)
	if err != nil {
		return nil, err
	}

	return finalize(&types.RuleGraph{Root: root, Edges: m.edges}), nil
}

// buildPolymorphic runs phase 1: discover every rule transitively
// reachable from query.Product, recording candidate (not yet chosen)
// edges, and fail fast if some declared dependency has no candidate at
// all.
func (b *Builder) buildPolymorphic(query types.Query) (*polyGraph, error) {
	g := &polyGraph{
		nodes:       make(map[types.RuleID]types.Rule),
		edges:       make(map[types.RuleID][]polyEdge),
		queryParams: newParamScope(query.Params.Types()),
	}
	available := g.queryParams

	rootCandidates := b.candidatesFor(types.DependencyKey{Product: query.Product})
	if len(rootCandidates) == 0 {
		return nil, newBuildError(types.ErrorKindGraphMissing,
			fmt.Sprintf("no rule produces %s", query.Product))
	}
	g.rootCandidates = rootCandidates

	seen := make(map[types.RuleID]bool)
	var visit func(id types.RuleID) error
	visit = func(id types.RuleID) error {
		if seen[id] {
			return nil
		}
		seen[id] = true

		rule, ok := b.reg.Rule(id)
		if !ok {
			return newBuildError(types.ErrorKindGraphBuild, fmt.Sprintf("dangling rule reference %s", id))
		}
		g.nodes[id] = rule
		available = available.union(newParamScope(rule.Params))

		edges := make([]polyEdge, 0, len(rule.Gets))
		for _, key := range rule.Gets {
			if key.Subject != "" {
				available = available.with(key.Subject)
			}

			pe, err := b.resolveEdgeCandidates(id, key, g, &available)
			if err != nil {
				return err
			}
			edges = append(edges, pe)

			for _, c := range pe.Candidates {
				if err := visit(c); err != nil {
					return err
				}
			}
		}
		g.edges[id] = edges
		return nil
	}

	for _, id := range rootCandidates {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	for id, rule := range g.nodes {
		for _, p := range rule.Params {
			if !available.contains(p) {
				return nil, newBuildError(types.ErrorKindGraphMissing,
					fmt.Sprintf("%s: reads param %s supplied by no Query or Get in this graph", id, p))
			}
		}
	}

	g.available = available
	return g, nil
}

// resolveEdgeCandidates discovers candidates for one DependencyKey
// declared by ruleID, expanding union bases into one sub-key per member
// and recognizing Param-leaf Gets (a key whose product is a root Query
// param rather than a rule output).
func (b *Builder) resolveEdgeCandidates(ruleID types.RuleID, key types.DependencyKey, g *polyGraph, available *paramScope) (polyEdge, error) {
	if !b.reg.IsUnionBase(key.Product) {
		cands := b.candidatesFor(key)
		if len(cands) == 0 {
			if g.queryParams.contains(key.Product) {
				return polyEdge{Key: key, IsParamLeaf: true}, nil
			}
			return polyEdge{}, newBuildError(types.ErrorKindGraphMissing,
				fmt.Sprintf("%s: no rule satisfies %s", ruleID, key))
		}
		return polyEdge{Key: key, Candidates: cands}, nil
	}

	members := b.reg.UnionMembers(key.Product)
	if len(members) == 0 {
		return polyEdge{}, newBuildError(types.ErrorKindGraphMissing,
			fmt.Sprintf("%s: union base %s has no registered members", ruleID, key.Product))
	}

	pe := polyEdge{Key: key}
	for _, member := range members {
		memberKey := types.DependencyKey{Product: member, Subject: key.Subject}
		pe.Members = append(pe.Members, memberKey)
		cands := b.candidatesFor(memberKey)
		if len(cands) == 0 {
			return polyEdge{}, newBuildError(types.ErrorKindGraphMissing,
				fmt.Sprintf("%s: no rule satisfies union member %s (of %s)", ruleID, member, key.Product))
		}
		pe.Candidates = append(pe.Candidates, cands...)
	}
	return pe, nil
}

func (b *Builder) candidatesFor(key types.DependencyKey) []types.RuleID {
	rules := b.reg.ProducersForKey(key)
	ids := make([]types.RuleID, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

// finalize runs phase 5: trims g.Edges to exactly the RuleInstances
// reachable from Root. The monomorphizer only ever records edges for
// instances it visits from the root, so this is normally a no-op; it
// exists so the contract holds even if a future caching layer reuses a
// monomorphizer's edge map across builds.
func finalize(g *types.RuleGraph) *types.RuleGraph {
	reachable := g.Instances()
	trimmed := make(map[types.RuleInstance][]types.RuleEdge, len(reachable))
	for _, ri := range reachable {
		if edges, ok := g.Edges[ri]; ok {
			trimmed[ri] = edges
		}
	}
	g.Edges = trimmed
	return g
}
