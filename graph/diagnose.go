package graph

import (
	"fmt"

	"github.com/justapithecus/forge/types"
)

// BuildError reports a compile-time failure of the rule graph builder: an
// ambiguity, a missing provider, or a structural problem in the
// registered rule set. All such failures are non-recoverable per spec --
// the engine refuses to start rather than partially compile.
type BuildError struct {
	Kind    types.ErrorKind
	Message string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("rule graph: %s: %s", e.Kind, e.Message)
}

func newBuildError(kind types.ErrorKind, msg string) *BuildError {
	return &BuildError{Kind: kind, Message: msg}
}
