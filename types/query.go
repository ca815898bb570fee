package types

import "fmt"

// Query names a single request for a computed value: a desired output Type,
// evaluated against a concrete ParamSet. Sessions run Queries against the
// shared runtime node graph; the rule graph builder compiles one RuleGraph
// per (Product, param types) combination, on the first Query of that shape
// (see session.Runtime.resolveGraph).
type Query struct {
	Product Type
	Params  ParamSet
}

// NewQuery builds a Query for product, seeded with params.
func NewQuery(product Type, params ...Param) (Query, error) {
	ps, err := NewParamSet(params...)
	if err != nil {
		return Query{}, fmt.Errorf("types: query %s: %w", product, err)
	}
	return Query{Product: product, Params: ps}, nil
}

// String renders the query for diagnostics and as a stable graph-cache key
// component.
func (q Query) String() string {
	if len(q.Params.Types()) == 0 {
		return string(q.Product)
	}
	return fmt.Sprintf("%s[%s]", q.Product, q.Params.Key())
}
