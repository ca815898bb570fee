package reader

import (
	"fmt"

	"github.com/justapithecus/forge/graph"
	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/remotecache"
	"github.com/justapithecus/forge/types"
)

// Reader answers the forge CLI's list/inspect queries directly against a
// live Registry, Builder, and the configured remote cache pools -- there
// is no separate telemetry store to abstract over, so unlike the
// teacher's reader this talks to in-process state, not Lode.
type Reader struct {
	reg     *registry.Registry
	builder *graph.Builder
	pools   []remotecache.Pool
}

// New builds a Reader over reg (and its derived Builder) and pools.
func New(reg *registry.Registry, pools []remotecache.Pool) *Reader {
	return &Reader{reg: reg, builder: graph.NewBuilder(reg), pools: pools}
}

// ListRules returns every registered rule as a RuleListItem, sorted by
// RuleID.
func (r *Reader) ListRules() []RuleListItem {
	rules := r.reg.All()
	out := make([]RuleListItem, 0, len(rules))
	for _, rule := range rules {
		gets := make([]string, 0, len(rule.Gets))
		for _, g := range rule.Gets {
			gets = append(gets, g.String())
		}
		params := make([]string, 0, len(rule.Params))
		for _, p := range rule.Params {
			params = append(params, string(p))
		}
		out = append(out, RuleListItem{
			RuleID: string(rule.ID),
			Output: string(rule.Output),
			Gets:   gets,
			Params: params,
		})
	}
	return out
}

// ListPools returns every configured remote cache pool.
func (r *Reader) ListPools() []PoolListItem {
	out := make([]PoolListItem, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, PoolListItem{
			Name:      p.Name,
			Strategy:  string(p.Strategy),
			Endpoints: len(p.Endpoints),
		})
	}
	return out
}

// InspectPool returns the deep view of the named pool, or an error if no
// pool with that name is configured.
func (r *Reader) InspectPool(name string) (*InspectPoolResponse, error) {
	for _, p := range r.pools {
		if p.Name != name {
			continue
		}
		endpoints := make([]EndpointView, 0, len(p.Endpoints))
		for _, e := range p.Endpoints {
			endpoints = append(endpoints, EndpointView{Name: e.Name, URL: e.URL})
		}
		var stickyTTL *int64
		if p.Sticky != nil {
			stickyTTL = p.Sticky.TTLMs
		}
		return &InspectPoolResponse{
			Name:          p.Name,
			Strategy:      string(p.Strategy),
			RecencyWindow: p.RecencyWindow,
			StickyTTLMs:   stickyTTL,
			Endpoints:     endpoints,
			Warnings:      p.Warnings(),
		}, nil
	}
	return nil, fmt.Errorf("reader: no pool named %q configured", name)
}

// InspectGraph compiles product (with the given param types in scope) and
// returns its RuleGraph as an InspectGraphResponse.
func (r *Reader) InspectGraph(product types.Type, paramTypes ...types.Type) (*InspectGraphResponse, error) {
	params := make([]types.Param, 0, len(paramTypes))
	for _, t := range paramTypes {
		params = append(params, types.Param{Type: t})
	}
	q, err := types.NewQuery(product, params...)
	if err != nil {
		return nil, err
	}

	g, err := r.builder.Build(q)
	if err != nil {
		return nil, fmt.Errorf("reader: compiling graph for %s: %w", product, err)
	}

	instances := g.Instances()
	views := make([]RuleInstanceView, 0, len(instances))
	for _, inst := range instances {
		liveParams := make([]string, 0, len(inst.LiveParams))
		for _, t := range inst.LiveParams {
			liveParams = append(liveParams, string(t))
		}
		edges := make([]RuleEdgeView, 0, len(g.Edges[inst]))
		for _, e := range g.Edges[inst] {
			edges = append(edges, RuleEdgeView{Key: e.Key.String(), Provider: string(e.Provider.Rule) + " -> " + string(e.Provider.Output)})
		}
		views = append(views, RuleInstanceView{
			Rule:       string(inst.Rule),
			Output:     string(inst.Output),
			LiveParams: liveParams,
			Edges:      edges,
		})
	}

	return &InspectGraphResponse{
		Product:   string(product),
		Root:      g.Root.Rule.String(),
		Instances: views,
	}, nil
}
