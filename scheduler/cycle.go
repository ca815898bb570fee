package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/justapithecus/forge/types"
)

// demandPathKey is the context.Value key a demand path is threaded under.
// New code: the teacher has no notion of a node transitively demanding
// itself, so there is nothing here to generalize from.
type demandPathKey struct{}

// demandFrame is one link in the chain of NodeIDs currently being
// resolved on the path from a root demand down to the current Get call.
// Carried through context so concurrent sibling demands (distinct
// goroutines) each see only their own ancestry, not a global stack.
type demandFrame struct {
	node types.NodeID
	prev *demandFrame
}

func demandChain(ctx context.Context) *demandFrame {
	f, _ := ctx.Value(demandPathKey{}).(*demandFrame)
	return f
}

// pushDemand extends ctx's demand path with id, or reports a cycle if id
// already appears on the path -- a node transitively demanding itself with
// the same identity.
func pushDemand(ctx context.Context, id types.NodeID) (context.Context, error) {
	cur := demandChain(ctx)
	for f := cur; f != nil; f = f.prev {
		if f.node.Key() == id.Key() {
			return ctx, cycleError(cur, id)
		}
	}
	next := &demandFrame{node: id, prev: cur}
	return context.WithValue(ctx, demandPathKey{}, next), nil
}

func cycleError(cur *demandFrame, reentered types.NodeID) error {
	var names []string
	for f := cur; f != nil; f = f.prev {
		names = append([]string{f.node.String()}, names...)
	}
	names = append(names, reentered.String())
	return types.NewEngineError(types.ErrorKindCycle, "scheduler.Evaluate",
		fmt.Errorf("cycle detected: %s", strings.Join(names, " -> ")))
}
