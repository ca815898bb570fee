package engine

import (
	"context"
	"sync"

	"github.com/justapithecus/forge/types"
)

// ComputeFunc runs one Entry's body. It returns the computed Value and the
// DepRecords the body actually consulted, recorded so a later invalidation
// can decide, without blindly re-running, whether those dependencies still
// hold the same generation.
type ComputeFunc func(ctx context.Context) (types.Value, []DepRecord, error)

// Graph is the concurrent, memoizing runtime node graph: one Entry per
// NodeID, shared process-wide across Sessions. Grounded on the teacher's
// fan-out Operator (runtime/fanout.go), generalized from "dedup child runs
// by (target, params) so the same work is never started twice" to "dedup
// node evaluation by NodeID, and let a second demander join the first's
// in-flight run instead of starting a new one" -- the same single-flight
// shape, applied to memoized rule evaluation instead of child-run
// scheduling.
type Graph struct {
	mu      sync.Mutex
	entries map[[32]byte]*Entry
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{entries: make(map[[32]byte]*Entry)}
}

func (g *Graph) entryFor(id types.NodeID) *Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id.Key()]
	if !ok {
		e = newEntry(id)
		g.entries[id.Key()] = e
	}
	return e
}

// Run demands id's value. A Completed Entry returns its cached value
// without invoking compute. A Running Entry is joined rather than
// recomputed: the caller waits on the in-flight run's completion and
// re-reads the settled state (single-flight). Any other state -- fresh,
// Failed, or Dirty -- (re)runs compute.
func (g *Graph) Run(ctx context.Context, id types.NodeID, compute ComputeFunc) (types.Value, error) {
	for {
		e := g.entryFor(id)
		e.mu.Lock()

		switch e.state {
		case Completed:
			v, err := e.value, e.err
			e.mu.Unlock()
			return v, err

		case Running:
			done := e.done
			e.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return types.Value{}, types.NewEngineError(types.ErrorKindCancelled, "engine.Run", ctx.Err())
			}

		default:
			e.state = Running
			e.invalidatedDuringRun = false
			done := make(chan struct{})
			e.done = done
			e.mu.Unlock()

			value, deps, err := compute(ctx)
			settleRun(e, done, value, deps, err)

			if err != nil {
				return types.Value{}, err
			}
			return value, nil
		}
	}
}

// settleRun applies compute's outcome to e and closes done, unblocking any
// demander that joined the in-flight run.
func settleRun(e *Entry, done chan struct{}, value types.Value, deps []DepRecord, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dirtied := e.invalidatedDuringRun
	e.invalidatedDuringRun = false

	switch {
	case err != nil && types.IsCancelled(err):
		// Cancellation reverts the Entry as if this run never started,
		// so the next demander gets a clean attempt; no generation bump,
		// since nothing about the Entry's observable value changed.
		e.state = NotStarted
		e.deps = nil
	case err != nil:
		e.state = Failed
		e.err = err
		e.generation++
	case dirtied:
		// An Invalidate landed while this run was in flight: the value
		// just computed may already be stale, so land as Dirty instead
		// of Completed and let the next demand re-run.
		e.value = value
		e.deps = deps
		e.err = nil
		e.state = Dirty
		e.generation++
	default:
		e.value = value
		e.deps = deps
		e.err = nil
		e.state = Completed
		e.generation++
	}
	close(done)
}

// Invalidate marks id Dirty (or flags an in-flight run as already stale)
// and bumps its generation, so the next demand re-runs it rather than
// returning a stale Completed value. Used by the session watcher on
// filesystem change, through session.Runtime.Invalidate.
func (g *Graph) Invalidate(id types.NodeID) {
	e := g.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Running {
		e.invalidatedDuringRun = true
	} else {
		e.state = Dirty
	}
	e.generation++
}

// Generation returns id's current generation, or 0 if it has never run.
func (g *Graph) Generation(id types.NodeID) uint64 {
	return g.entryFor(id).snapshot().Generation
}

// Snapshot returns id's current state without triggering computation.
func (g *Graph) Snapshot(id types.NodeID) Snapshot {
	return g.entryFor(id).snapshot()
}

// ConfirmUnchanged re-marks a Dirty Entry Completed without re-running its
// body: the scheduler calls this when it has checked every DepRecord the
// Entry last consulted and found none changed generation. The generation
// still bumps so any parent comparing generations directly can observe
// the confirm.
func (g *Graph) ConfirmUnchanged(id types.NodeID) {
	e := g.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Dirty {
		e.state = Completed
		e.generation++
	}
}
