package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/justapithecus/forge/log"
	"github.com/justapithecus/forge/process"
	"github.com/justapithecus/forge/progress"
	"github.com/justapithecus/forge/scheduler"
	"github.com/justapithecus/forge/types"
)

// errClosed is returned by RunQuery once the Session has started closing.
var errClosed = errors.New("session: query run on a closed session")

// boundScheduler pairs a lazily-built Scheduler with the compiled
// RuleGraph it evaluates against, cached per query shape within a
// Session so repeat Queries of the same shape reuse both.
type boundScheduler struct {
	sched *scheduler.Scheduler
	graph *types.RuleGraph
}

// Session is a single top-level invocation: a consistent filesystem view,
// the Params in scope for its root Queries, a progress sink, and
// cancellation state, evaluated against the Runtime's shared node graph.
// Grounded on runtime.RunOrchestrator.Execute's (runtime/run.go) start ->
// run -> flush -> outcome shape, generalized from "run one executor
// subprocess to completion" to "evaluate Queries against the shared
// engine graph until closed."
//
// A Session carries no watcher of its own and takes no snapshot of the
// filesystem. Watcher invalidates the Runtime's shared graph as changes
// arrive, so a file change made while a Session is open is seen by that
// Session's later demands of the affected Entries, not only by the next
// Session.
type Session struct {
	runtime *Runtime
	meta    types.SessionMeta
	params  types.ParamSet
	sink    progress.Sink
	logger  *log.Logger
	proc    scheduler.ProcessRunner

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   types.SessionState
	queryN  int
	scheds  map[string]*boundScheduler
}

func newSession(rt *Runtime, meta types.SessionMeta, params types.ParamSet, sink progress.Sink) *Session {
	if sink == nil {
		sink = progress.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	// Layer the fingerprint-keyed result cache (spec §4.B) over the
	// shared Runtime's process runner, one CachingRunner per Session so
	// its in-memory tier-1 memo is scoped exactly to this Session's
	// lifetime. rt.proc is nil when no rule in the registry calls
	// RunProcess.
	proc := rt.proc
	if rt.proc != nil {
		caching := process.NewCachingRunner(rt.proc, rt.localCache, rt.remoteCache, meta.SessionID)
		caching.SetMetrics(rt.metrics)
		proc = caching
	}

	return &Session{
		runtime: rt,
		meta:    meta,
		params:  params,
		sink:    sink,
		logger:  log.NewLogger(&meta),
		proc:    proc,
		ctx:     ctx,
		cancel:  cancel,
		state:   types.SessionStateOpen,
		scheds:  make(map[string]*boundScheduler),
	}
}

// State reports s's current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunQuery evaluates query to completion against its compiled root
// RuleInstance, suspending the caller until a Value, a failure, or the
// Session's cancellation. values supplies concrete Params for any Type
// query declares that is not already fixed by the Session's own scope;
// a Type present in both is resolved in values' favor, matching
// run_query(Session, Query, values)'s "values" argument in spec's
// library surface.
func (s *Session) RunQuery(query types.Query, values ...types.Param) types.QueryOutcome {
	s.mu.Lock()
	if s.state != types.SessionStateOpen {
		s.mu.Unlock()
		return types.QueryOutcome{Status: types.QueryOutcomeFailed, Err: errClosed}
	}
	s.queryN++
	attempt := s.queryN
	s.mu.Unlock()

	extra, err := types.NewParamSet(values...)
	if err != nil {
		return types.QueryOutcome{Status: types.QueryOutcomeFailed, Err: err}
	}
	// Merge the Session's ambient scope under query's own Params and any
	// extra values, then compile against the MERGED Query: the rule graph
	// builder only treats a Type as a satisfiable param-leaf Get if it is
	// present in the Query it compiles against, so the Session's ambient
	// scope has to be visible to the builder, not just to Evaluate.
	merged := types.Query{Product: query.Product, Params: mergeParams(s.params, mergeParams(query.Params, extra))}

	queryMeta := s.meta
	queryMeta.QueryID = merged.String()
	queryMeta.Attempt = attempt
	logger := log.NewLogger(&queryMeta)
	logger.Info("starting query", map[string]any{"product": string(merged.Product)})
	s.runtime.metrics.IncQueryStarted()

	sched, g, err := s.schedulerFor(merged)
	if err != nil {
		logger.Error("failed to compile rule graph", map[string]any{"error": err.Error()})
		s.runtime.metrics.IncQueryFailed()
		return types.QueryOutcome{Status: types.QueryOutcomeFailed, Err: err}
	}

	value, err := sched.Evaluate(s.ctx, g.Root, merged.Params)
	if err != nil {
		if types.IsCancelled(err) {
			logger.Warn("query cancelled", map[string]any{"error": err.Error()})
			s.runtime.metrics.IncQueryCancelled()
			return types.QueryOutcome{Status: types.QueryOutcomeCancelled, Err: err}
		}
		logger.Error("query failed", map[string]any{"error": err.Error()})
		s.runtime.metrics.IncQueryFailed()
		return types.QueryOutcome{Status: types.QueryOutcomeFailed, Err: err}
	}

	logger.Info("query completed", nil)
	s.runtime.metrics.IncQuerySucceeded()
	return types.QueryOutcome{Status: types.QueryOutcomeSuccess, Value: value}
}

// schedulerFor returns (lazily building) the Scheduler and compiled
// RuleGraph for query's shape within this Session.
func (s *Session) schedulerFor(query types.Query) (*scheduler.Scheduler, *types.RuleGraph, error) {
	key := query.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if bound, ok := s.scheds[key]; ok {
		return bound.sched, bound.graph, nil
	}

	g, err := s.runtime.resolveGraph(query)
	if err != nil {
		return nil, nil, err
	}
	sched := scheduler.New(s.runtime.reg, s.runtime.eng, g, s.sink, s.proc, s.runtime.cfg)
	s.scheds[key] = &boundScheduler{sched: sched, graph: g}
	return sched, g, nil
}

// Close cancels any in-flight Queries and releases this Session's
// progress sink. The Runtime's shared node graph, registry, and process
// cache outlive it untouched -- only this Session's own cancellation
// scope and sink are torn down.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == types.SessionStateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = types.SessionStateClosing
	s.mu.Unlock()

	s.cancel()
	err := s.sink.Close()

	s.mu.Lock()
	s.state = types.SessionStateClosed
	s.mu.Unlock()
	s.runtime.metrics.IncSessionClosed()

	if err != nil {
		return fmt.Errorf("session: close: %w", err)
	}
	return nil
}

// mergeParams returns a ParamSet containing every Type in base, with any
// Type also present in override replaced by override's Param. Used to
// layer a Session's ambient scope under a Query's own Params and any
// extra values supplied at RunQuery time.
func mergeParams(base, override types.ParamSet) types.ParamSet {
	merged := make(map[types.Type]types.Param)
	for _, t := range base.Types() {
		if p, ok := base.Get(t); ok {
			merged[t] = p
		}
	}
	for _, t := range override.Types() {
		if p, ok := override.Get(t); ok {
			merged[t] = p
		}
	}

	list := make([]types.Param, 0, len(merged))
	for _, p := range merged {
		list = append(list, p)
	}
	// No duplicate Types are possible here: merged is keyed by Type, so
	// NewParamSet's only error condition cannot occur.
	ps, _ := types.NewParamSet(list...)
	return ps
}
