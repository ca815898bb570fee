package graph

import (
	"fmt"
	"sort"

	"github.com/justapithecus/forge/types"
)

// tieBreak picks one rule from candidates to satisfy key at a call site
// whose param scope is out. Policy, applied in order:
//
//  1. A rule whose declared positional Params exactly match out wins over
//     one that doesn't -- it is the more specific candidate for this
//     scope.
//  2. Among whatever remains, the lexicographically smaller RuleID wins.
//
// The policy always resolves to exactly one rule; it never reports
// ambiguity itself; non-convergent splits are instead caught by the
// monomorphizer's fairness guard, which is where spec's phase 4
// diagnostics for a truly unresolvable rule set surface.
func tieBreak(forDescription string, key types.DependencyKey, candidates []types.Rule, out paramScope) (types.Rule, error) {
	if len(candidates) == 0 {
		return types.Rule{}, newBuildError(types.ErrorKindGraphMissing,
			fmt.Sprintf("%s: no rule satisfies %s", forDescription, key))
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	sorted := append([]types.Rule(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var exact []types.Rule
	for _, c := range sorted {
		if paramsExactlyMatch(c.Params, out) {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		sorted = exact
	}

	return sorted[0], nil
}

func paramsExactlyMatch(params []types.Type, out paramScope) bool {
	if len(params) != len(out.types) {
		return false
	}
	for _, p := range params {
		if !out.contains(p) {
			return false
		}
	}
	return true
}
