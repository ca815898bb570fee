package types

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Type identifies a value type by its fully-qualified Go type name, as
// produced by TypeOf. Rules are selected by the types they consume and
// produce, so a Type doubles as the key the registry and rule graph builder
// index on.
type Type string

// TypeOf returns the Type for a value's concrete type.
func TypeOf(v any) Type {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return Type(t.PkgPath() + "." + t.Name())
}

// Value is an opaque computed value flowing through the runtime node graph.
// Rule bodies produce and consume Values; the engine never inspects their
// contents, only their Type.
type Value struct {
	Type Type
	Data any
}

// NewValue wraps v, deriving its Type via reflection.
func NewValue(v any) Value {
	return Value{Type: TypeOf(v), Data: v}
}

// Param is a single input value provided at query construction time (as
// opposed to a value produced by running a rule). Params seed the
// dependency resolution in the rule graph builder.
type Param struct {
	Type Type
	Data any
}

// NewParam wraps v as a Param, deriving its Type via reflection.
func NewParam(v any) Param {
	return Param{Type: TypeOf(v), Data: v}
}

// ParamSet is an unordered set of Params, keyed by Type. A query may supply
// at most one Param per Type; rules declare which subset of the ambient
// ParamSet they require.
type ParamSet struct {
	byType map[Type]Param
}

// NewParamSet builds a ParamSet from params, returning an error if two
// params share a Type.
func NewParamSet(params ...Param) (ParamSet, error) {
	ps := ParamSet{byType: make(map[Type]Param, len(params))}
	for _, p := range params {
		if _, exists := ps.byType[p.Type]; exists {
			return ParamSet{}, fmt.Errorf("types: duplicate param type %s", p.Type)
		}
		ps.byType[p.Type] = p
	}
	return ps, nil
}

// Get returns the param of the given type, if present.
func (ps ParamSet) Get(t Type) (Param, bool) {
	p, ok := ps.byType[t]
	return p, ok
}

// Types returns the sorted set of types present in ps. Sorting keeps the
// result deterministic for use in cache keys and NodeID derivation.
func (ps ParamSet) Types() []Type {
	out := make([]Type, 0, len(ps.byType))
	for t := range ps.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subset returns a new ParamSet containing only the given types, ignoring
// types not present in ps. Used by the monomorphizer to derive each rule's
// minimal live param set.
func (ps ParamSet) Subset(types ...Type) ParamSet {
	out := ParamSet{byType: make(map[Type]Param, len(types))}
	for _, t := range types {
		if p, ok := ps.byType[t]; ok {
			out.byType[t] = p
		}
	}
	return out
}

// Key returns a deterministic string key naming ps's Types only, ignoring
// Data. This is the rule graph builder's compilation unit: the builder
// is a static compiler over (Product, param types) run once per shape,
// before any concrete Param value is known, so its caches must key on
// shape alone.
func (ps ParamSet) Key() string {
	types := ps.Types()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, "+")
}

// DataFingerprint returns a deterministic string encoding both ps's Types
// and its concrete Param Data, suitable as a NodeID hash component. Unlike
// Key, which intentionally ignores Data to serve as a build-time shape
// key, DataFingerprint participates in the runtime node graph's
// memoization identity: two demands for the same rule output against a
// different concrete Subject (two different file paths, say) must land
// on different Entries, not collide into one.
func (ps ParamSet) DataFingerprint() string {
	types := ps.Types()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%s=%#v", t, ps.byType[t].Data)
	}
	return strings.Join(parts, "+")
}

// DependencyKey describes a single dependency a rule body may request: the
// output Type to produce, optionally narrowed to a specific Param already
// known to be in scope (a "get" with an explicit subject).
type DependencyKey struct {
	// Product is the Type the dependency must produce.
	Product Type
	// Subject, if non-empty, is the Type of a Param the dependency must be
	// computed with respect to (a targeted "get(Product, Subject, subject)").
	Subject Type
}

// String renders the dependency key for diagnostics.
func (k DependencyKey) String() string {
	if k.Subject == "" {
		return fmt.Sprintf("Get(%s)", k.Product)
	}
	return fmt.Sprintf("Get(%s, %s)", k.Product, k.Subject)
}
