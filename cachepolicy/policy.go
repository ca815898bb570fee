// Package cachepolicy decides whether and where a completed ProcessResult
// is written to a cache tier, generalizing the teacher's ingestion Policy
// (policy/policy.go) from "buffer/drop scrape events" to "gate process
// result cache writes by scope."
package cachepolicy

import (
	"context"
	"sync"

	"github.com/justapithecus/forge/types"
)

// Policy decides, for a completed process result, whether it should be
// written to the cache, and records statistics about that decision.
type Policy interface {
	// ShouldCache reports whether result should be written to the cache
	// given the scope the originating ProcessRequest declared.
	ShouldCache(ctx context.Context, result types.ProcessResult, scope types.CacheScope) bool
	// RecordWrite notes that a cache write happened (or was skipped).
	RecordWrite(written bool)
	// Stats returns a snapshot of accumulated statistics.
	Stats() Stats
}

// Stats tracks cache-write decisions for observability, mirroring the
// shape of the teacher's policy.Stats but narrowed to this package's
// concern.
type Stats struct {
	Evaluated int64
	Written   int64
	Skipped   int64
}

// recorder is a thread-safe stats accumulator shared by every scope
// policy, matching the teacher's statsRecorder helper.
type recorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *recorder) recordWrite(written bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Evaluated++
	if written {
		r.stats.Written++
	} else {
		r.stats.Skipped++
	}
}

func (r *recorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ForScope returns the Policy implementation matching scope.
func ForScope(scope types.CacheScope, sessionID string) Policy {
	switch scope {
	case types.CacheScopeAlways:
		return NewAlways()
	case types.CacheScopeSuccessfulOnly:
		return NewSuccessfulOnly()
	case types.CacheScopePerSession:
		return NewPerSession(sessionID)
	default:
		return NewNever()
	}
}
