// Package scheduler implements component F: concurrent evaluation of
// RuntimeNodes over a compiled RuleGraph, with bounded parallelism,
// cooperative cancellation, cycle detection, and non-blocking progress
// reporting.
//
// Directly adapted from runtime.Operator (runtime/fanout.go): the same
// semaphore-bounded dispatch over a work queue, generalized from "fan out
// child runs keyed by (target, params)" to "fan out node evaluations keyed
// by NodeID," and from one undifferentiated worker pool to two
// resource-kind pools (CPU rule bodies, process executor slots) per
// spec's per-kind-slot requirement.
package scheduler

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"

	"github.com/justapithecus/forge/engine"
	"github.com/justapithecus/forge/metrics"
	"github.com/justapithecus/forge/progress"
	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/types"
)

// Config bounds the scheduler's two resource pools.
type Config struct {
	// CPUSlots bounds concurrent rule body executions. Zero uses
	// goruntime.NumCPU().
	CPUSlots int
	// ProcessSlots bounds concurrent process executor runs. Zero uses 4.
	ProcessSlots int
}

func (c Config) withDefaults() Config {
	if c.CPUSlots <= 0 {
		c.CPUSlots = goruntime.NumCPU()
	}
	if c.ProcessSlots <= 0 {
		c.ProcessSlots = 4
	}
	return c
}

// ProcessRunner executes one ProcessRequest to completion. Implemented by
// process.Executor (optionally layered with cachepolicy and a remote
// cache), and injected here so the scheduler's own concern stays
// concurrency and scheduling, not sandboxing or caching.
type ProcessRunner interface {
	Run(ctx context.Context, req types.ProcessRequest) (types.ProcessResult, error)
}

// Scheduler evaluates RuleInstances against one compiled RuleGraph,
// sharing an underlying engine.Graph (and therefore its memoization and
// invalidation) across every Session that runs queries against the same
// graph.
type Scheduler struct {
	reg   *registry.Registry
	eng   *engine.Graph
	graph *types.RuleGraph
	sink  progress.Sink
	proc  ProcessRunner

	metrics *metrics.Collector

	cpuSem  chan struct{}
	procSem chan struct{}
}

// SetMetrics attaches a Collector that s reports node evaluation counters
// to. A nil Collector (the default) makes every Inc call a no-op.
func (s *Scheduler) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// New builds a Scheduler for graph, backed by eng for memoization. sink
// may be nil (defaults to progress.Noop{}); proc may be nil if the graph
// has no rules that call RunProcess.
func New(reg *registry.Registry, eng *engine.Graph, graph *types.RuleGraph, sink progress.Sink, proc ProcessRunner, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = progress.Noop{}
	}
	return &Scheduler{
		reg:     reg,
		eng:     eng,
		graph:   graph,
		sink:    sink,
		proc:    proc,
		cpuSem:  make(chan struct{}, cfg.CPUSlots),
		procSem: make(chan struct{}, cfg.ProcessSlots),
	}
}

// Evaluate runs (or joins an in-flight/cached run of) the RuntimeNode for
// instance against params, suspending the caller until a value, a
// failure, or ctx cancellation. A node that transitively demands itself
// with the same identity (the same instance and the same live param
// values) reports a cycle naming the demand path instead of deadlocking.
func (s *Scheduler) Evaluate(ctx context.Context, instance types.RuleInstance, params types.ParamSet) (types.Value, error) {
	id := types.NewNodeID(instance, params)

	next, err := pushDemand(ctx, id)
	if err != nil {
		return types.Value{}, err
	}

	s.metrics.IncNodeEvaluation()
	if s.eng.Snapshot(id).State == engine.Completed {
		s.metrics.IncNodeMemoHit()
	}

	return s.eng.Run(next, id, s.compute(instance, params, id))
}

// compute builds the engine.ComputeFunc that runs one rule body to
// produce the value for id, holding a CPU slot while the body runs. The
// body gives its slot back for the duration of each Get/GetMany (which
// recurse through Scheduler.Evaluate) and takes one again before it
// resumes, so a body suspended on a dependency never holds up the bodies
// it is waiting for.
func (s *Scheduler) compute(instance types.RuleInstance, params types.ParamSet, id types.NodeID) engine.ComputeFunc {
	return func(ctx context.Context) (types.Value, []engine.DepRecord, error) {
		rule, ok := s.reg.Rule(instance.Rule)
		if !ok {
			return types.Value{}, nil, types.NewEngineError(types.ErrorKindGraphMissing, "scheduler.Evaluate",
				fmt.Errorf("rule %s not registered", instance.Rule))
		}

		select {
		case s.cpuSem <- struct{}{}:
		case <-ctx.Done():
			return types.Value{}, nil, types.NewEngineError(types.ErrorKindCancelled, "scheduler.Evaluate", ctx.Err())
		}
		defer func() { <-s.cpuSem }()

		s.sink.Publish(progress.Event{Kind: progress.EventStarted, Node: id, Description: string(rule.ID)})

		var depsMu sync.Mutex
		var deps []engine.DepRecord
		edges := s.graph.Edges[instance]

		record := func(provider types.RuleInstance) {
			childID := types.NewNodeID(provider, params)
			depsMu.Lock()
			deps = append(deps, engine.DepRecord{Node: childID, Generation: s.eng.Generation(childID)})
			depsMu.Unlock()
		}

		get := func(key types.DependencyKey) (types.Value, error) {
			<-s.cpuSem
			defer func() { s.cpuSem <- struct{}{} }()
			return s.resolve(ctx, key, edges, params, record)
		}
		getMany := func(keys []types.DependencyKey) ([]types.Value, error) {
			<-s.cpuSem
			defer func() { s.cpuSem <- struct{}{} }()
			return s.resolveMany(ctx, keys, edges, params, record)
		}
		runProcess := func(req types.ProcessRequest) (types.ProcessResult, error) {
			return s.runProcess(ctx, req)
		}

		ruleCtx := types.RuleContext{
			Get:        get,
			GetMany:    getMany,
			RunProcess: runProcess,
			Params:     params.Subset(instance.LiveParams...),
		}

		val, err := rule.Body(ruleCtx)
		if err != nil {
			s.sink.Publish(progress.Event{Kind: progress.EventFailed, Node: id, Description: string(rule.ID), Err: err})
			return types.Value{}, deps, err
		}
		s.sink.Publish(progress.Event{Kind: progress.EventCompleted, Node: id, Description: string(rule.ID)})
		return val, deps, nil
	}
}

// resolve satisfies a single Get. A key with no matching edge and no
// matching root Param is a builder defect surfacing at runtime (the
// builder should have already failed this at compile time); a key naming
// a union base resolves through resolveMany against every member edge and
// collapses the result.
func (s *Scheduler) resolve(ctx context.Context, key types.DependencyKey, edges []types.RuleEdge, params types.ParamSet, record func(types.RuleInstance)) (types.Value, error) {
	matches := s.matchingEdges(key, edges)
	if len(matches) == 0 {
		if p, ok := params.Get(key.Product); ok {
			return types.Value{Type: p.Type, Data: p.Data}, nil
		}
		return types.Value{}, types.NewEngineError(types.ErrorKindGraphMissing, "scheduler.Get",
			fmt.Errorf("no provider for %s at runtime", key))
	}
	if len(matches) == 1 {
		return s.evaluateEdge(ctx, matches[0], params, record)
	}

	// Union base: one memoized request per member, evaluated concurrently
	// since issuing them is a single logical Get, not a serial chain.
	vals, err := s.evaluateEdgesConcurrently(ctx, matches, params, record)
	if err != nil {
		return types.Value{}, err
	}
	return types.Value{Type: key.Product, Data: vals}, nil
}

// resolveMany satisfies a batch ("multi-request") of Gets concurrently,
// returning results ordered to match keys regardless of completion order.
func (s *Scheduler) resolveMany(ctx context.Context, keys []types.DependencyKey, edges []types.RuleEdge, params types.ParamSet, record func(types.RuleInstance)) ([]types.Value, error) {
	vals := make([]types.Value, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key types.DependencyKey) {
			defer wg.Done()
			vals[i], errs[i] = s.resolve(ctx, key, edges, params, record)
		}(i, key)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return vals, nil
}

func (s *Scheduler) evaluateEdgesConcurrently(ctx context.Context, edges []types.RuleEdge, params types.ParamSet, record func(types.RuleInstance)) ([]types.Value, error) {
	vals := make([]types.Value, len(edges))
	errs := make([]error, len(edges))

	var wg sync.WaitGroup
	for i, e := range edges {
		wg.Add(1)
		go func(i int, e types.RuleEdge) {
			defer wg.Done()
			vals[i], errs[i] = s.evaluateEdge(ctx, e, params, record)
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return vals, nil
}

func (s *Scheduler) evaluateEdge(ctx context.Context, edge types.RuleEdge, params types.ParamSet, record func(types.RuleInstance)) (types.Value, error) {
	val, err := s.Evaluate(ctx, edge.Provider, params)
	if err != nil {
		return types.Value{}, err
	}
	record(edge.Provider)
	return val, nil
}

// matchingEdges returns every edge in edges that satisfies key: an exact
// (Product, Subject) match, or -- when key.Product names a registered
// union base -- every edge whose Product is one of that base's members
// and whose Subject matches. The rule graph builder records union edges
// keyed by member type (graph/monomorphize.go's resolveEdge), so matching
// a union Get requires this registry lookup rather than a plain key
// comparison.
func (s *Scheduler) matchingEdges(key types.DependencyKey, edges []types.RuleEdge) []types.RuleEdge {
	var out []types.RuleEdge
	if s.reg.IsUnionBase(key.Product) {
		members := make(map[types.Type]bool)
		for _, m := range s.reg.UnionMembers(key.Product) {
			members[m] = true
		}
		for _, e := range edges {
			if e.Key.Subject == key.Subject && members[e.Key.Product] {
				out = append(out, e)
			}
		}
		return out
	}
	for _, e := range edges {
		if e.Key.Product == key.Product && e.Key.Subject == key.Subject {
			out = append(out, e)
		}
	}
	return out
}

// runProcess gates ProcessRunner.Run behind the process slot semaphore,
// the one place in the scheduler where spec's per-kind-slot concurrency
// bound applies to something other than a rule body.
func (s *Scheduler) runProcess(ctx context.Context, req types.ProcessRequest) (types.ProcessResult, error) {
	if s.proc == nil {
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindProcessSpawn, "scheduler.RunProcess",
			fmt.Errorf("no process runner configured"))
	}

	select {
	case s.procSem <- struct{}{}:
	case <-ctx.Done():
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindCancelled, "scheduler.RunProcess", ctx.Err())
	}
	defer func() { <-s.procSem }()

	return s.proc.Run(ctx, req)
}
