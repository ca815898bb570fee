package types

import "fmt"

// RuleID uniquely names a rule within the registry. By convention it is the
// rule body function's fully-qualified name.
type RuleID string

// RuleBody is the suspend/resume computation a Rule wraps. It receives a
// Get function it calls (possibly many times, possibly concurrently) to
// request dependency values, and returns the rule's output Value.
//
// Unlike a plain function, a RuleBody's Get calls are interpreted by the
// runtime node graph, not executed inline: Get suspends the calling
// goroutine until the dependency Entry resolves, so the body reads as
// ordinary synchronous code while the underlying evaluation is concurrent
// and memoized.
type RuleBody func(ctx RuleContext) (Value, error)

// Get requests the value of a dependency, suspending until it is available.
// Implemented by the scheduler (see package scheduler); types only
// declares the shape rule bodies program against. Sequential Get calls
// within one rule body are observed in issue order.
type Get func(key DependencyKey) (Value, error)

// GetMany requests several dependencies as one batch ("multi-request"):
// the scheduler is free to evaluate them concurrently, but the returned
// slice is ordered to match keys regardless of completion order.
type GetMany func(keys []DependencyKey) ([]Value, error)

// RunProcess executes a leaf process request to completion, routed
// through the scheduler's bounded process-executor slot pool and its
// fingerprint cache.
type RunProcess func(req ProcessRequest) (ProcessResult, error)

// RuleContext is passed to a RuleBody on invocation.
type RuleContext struct {
	Get        Get
	GetMany    GetMany
	RunProcess RunProcess
	Params     ParamSet
}

// Rule is a single registered computation: given a set of declared
// dependency Gets and a subset of the ambient ParamSet, produce one output
// Type.
type Rule struct {
	ID RuleID
	// Output is the Type this rule produces.
	Output Type
	// Gets is the static (over-approximate) set of dependencies this rule's
	// body may request. The builder's live-param-set analysis narrows this
	// per call site; Gets itself is an upper bound used for graph
	// construction.
	Gets []DependencyKey
	// Params is the set of Param Types this rule's body may read directly
	// (as opposed to requesting via Get).
	Params []Type
	Body   RuleBody
}

// Validate checks a Rule's internal consistency before registration.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("types: rule has empty ID")
	}
	if r.Output == "" {
		return fmt.Errorf("types: rule %s has empty Output type", r.ID)
	}
	if r.Body == nil {
		return fmt.Errorf("types: rule %s has nil Body", r.ID)
	}
	return nil
}

// String renders the rule for diagnostics.
func (r Rule) String() string {
	return fmt.Sprintf("%s -> %s", r.ID, r.Output)
}

// UnionMember declares that a concrete Type is a member of a union base
// Type, so rules requesting the union base may be satisfied by any
// registered member-producing rule. Grounded in spec's union-type
// requirement for representing "one of several" rule outcomes.
type UnionMember struct {
	Base   Type
	Member Type
}
