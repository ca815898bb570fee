// Package engine implements the runtime node graph (component E): a
// concurrent, memoizing DAG of Entries, one per (RuleInstance, Params)
// pair, shared process-wide across Sessions.
package engine

import (
	"sync"

	"github.com/justapithecus/forge/types"
)

// EntryState is an Entry's position in its lifecycle. Transitions are
// monotonic within a run except for explicit invalidation, which returns a
// Completed Entry to Dirty.
type EntryState int

const (
	NotStarted EntryState = iota
	Running
	Completed
	Failed
	Dirty
)

func (s EntryState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Dirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// DepRecord is one dependency an Entry consulted while last running, and
// the dependency's generation at the moment it was read. The scheduler
// uses these to decide, on a Dirty Entry, whether to re-run the body or
// confirm the prior result unchanged.
type DepRecord struct {
	Node       types.NodeID
	Generation uint64
}

// Entry is the memoization unit of the runtime node graph.
type Entry struct {
	mu sync.Mutex

	id                   types.NodeID
	state                EntryState
	generation           uint64
	value                types.Value
	err                  error
	deps                 []DepRecord
	done                 chan struct{}
	invalidatedDuringRun bool
}

func newEntry(id types.NodeID) *Entry {
	return &Entry{id: id, state: NotStarted}
}

// Snapshot is a point-in-time, lock-free view of an Entry's fields.
type Snapshot struct {
	ID         types.NodeID
	State      EntryState
	Generation uint64
	Value      types.Value
	Err        error
	Deps       []DepRecord
}

func (e *Entry) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:         e.id,
		State:      e.state,
		Generation: e.generation,
		Value:      e.value,
		Err:        e.err,
		Deps:       append([]DepRecord(nil), e.deps...),
	}
}
