// Package session implements component G: a Runtime shared across
// Sessions (the compiled-rule-graph cache, the memoizing node graph, and
// the process runner) plus the per-invocation Session object spec
// describes -- "the active RuleGraph pointer, a monotonic run id,
// cancellation state, progress sinks, and the set of Params in scope for
// root Queries" -- and a filesystem watcher marking leaf Entries Dirty
// as file events arrive.
package session

import (
	"fmt"
	"sync"

	"github.com/justapithecus/forge/engine"
	"github.com/justapithecus/forge/graph"
	"github.com/justapithecus/forge/metrics"
	"github.com/justapithecus/forge/process"
	"github.com/justapithecus/forge/progress"
	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/remotecache"
	"github.com/justapithecus/forge/scheduler"
	"github.com/justapithecus/forge/types"
)

// Runtime holds what Sessions share: the compiled-rule-graph cache, the
// memoizing node graph, the process runner and the persistent process
// cache tiers. It holds no digest store. Unlike a Session, which is opened and closed per invocation, a Runtime is
// constructed once per process and outlives every Session drawn from it.
type Runtime struct {
	reg     *registry.Registry
	builder *graph.Builder
	eng     *engine.Graph
	proc    scheduler.ProcessRunner
	cfg     scheduler.Config
	metrics *metrics.Collector

	localCache  remotecache.Provider
	remoteCache remotecache.Provider

	mu     sync.RWMutex
	graphs map[string]*types.RuleGraph
}

// NewRuntime builds a Runtime over reg. proc may be nil if no rule in reg
// calls RunProcess.
func NewRuntime(reg *registry.Registry, proc scheduler.ProcessRunner, cfg scheduler.Config) *Runtime {
	return &Runtime{
		reg:     reg,
		builder: graph.NewBuilder(reg),
		eng:     engine.New(),
		proc:    proc,
		cfg:     cfg,
		graphs:  make(map[string]*types.RuleGraph),
	}
}

// resolveGraph returns the compiled RuleGraph for query's shape, compiling
// and caching it on first use. types.Query.String() keys on query's
// Product and the Types (not values) of its ParamSet, which is exactly
// the rule graph builder's compilation unit: the builder is a static
// compiler over (Product, param types), run once per shape regardless of
// how many concrete Param values later flow through it.
func (rt *Runtime) resolveGraph(query types.Query) (*types.RuleGraph, error) {
	key := query.String()

	rt.mu.RLock()
	g, ok := rt.graphs[key]
	rt.mu.RUnlock()
	if ok {
		return g, nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if g, ok := rt.graphs[key]; ok {
		return g, nil
	}

	g, err := rt.builder.Build(query)
	if err != nil {
		return nil, fmt.Errorf("session: compile rule graph for %s: %w", key, err)
	}
	rt.graphs[key] = g
	return g, nil
}

// Invalidate marks id Dirty in the shared node graph, reverting a
// Completed entry so the next demand recomputes it. Used by Watcher to
// propagate filesystem changes.
func (rt *Runtime) Invalidate(id types.NodeID) {
	rt.eng.Invalidate(id)
	rt.metrics.IncNodeInvalidation()
}

// SetMetrics attaches a Collector that every Session opened from rt
// afterward reports session and query lifecycle counters to. A nil
// Collector (the default) makes every Inc call a no-op.
func (rt *Runtime) SetMetrics(c *metrics.Collector) {
	rt.metrics = c
}

// SetProcessCaches attaches the persistent process-result cache tiers
// (spec §4.B) every Session opened from rt afterward wraps its process
// runner with: local is the on-disk action cache (tier 2, ordinarily a
// *remotecache.LocalProvider) and remote is the optional tier 3
// (ordinarily nil, or a *remotecache.RPCProvider/*remotecache.HTTPProvider
// wrapped in remotecache.NewInstrumentedProvider). Either may be nil to
// disable that tier; the in-memory per-session memo (tier 1) always
// applies regardless, built fresh by each Session.
func (rt *Runtime) SetProcessCaches(local, remote remotecache.Provider) {
	rt.localCache = local
	rt.remoteCache = remote
}

// OpenSession opens a new Session bound to params (the Params in scope
// for its root Queries) and meta (its logging/metrics identity). sink may
// be nil (defaults to progress.Noop{}).
func (rt *Runtime) OpenSession(meta types.SessionMeta, params types.ParamSet, sink progress.Sink) (*Session, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid session metadata: %w", err)
	}
	rt.metrics.IncSessionOpened()
	return newSession(rt, meta, params, sink), nil
}
