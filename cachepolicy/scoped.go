package cachepolicy

import (
	"context"

	"github.com/justapithecus/forge/types"
)

// Always caches every completed result regardless of exit code. Mirrors the
// teacher's StrictPolicy in spirit -- no conditional logic, every call
// writes -- but for cache-eligibility rather than event persistence.
type Always struct{ r recorder }

func NewAlways() *Always { return &Always{} }

func (p *Always) ShouldCache(_ context.Context, _ types.ProcessResult, _ types.CacheScope) bool {
	return true
}
func (p *Always) RecordWrite(written bool) { p.r.recordWrite(written) }
func (p *Always) Stats() Stats             { return p.r.snapshot() }

// SuccessfulOnly caches only results whose process exited zero and did not
// time out.
type SuccessfulOnly struct{ r recorder }

func NewSuccessfulOnly() *SuccessfulOnly { return &SuccessfulOnly{} }

func (p *SuccessfulOnly) ShouldCache(_ context.Context, result types.ProcessResult, _ types.CacheScope) bool {
	return result.Status == types.ProcessResultStatusCompleted && result.ExitCode == 0
}
func (p *SuccessfulOnly) RecordWrite(written bool) { p.r.recordWrite(written) }
func (p *SuccessfulOnly) Stats() Stats             { return p.r.snapshot() }

// PerSession permits caching any completed result, whatever its exit code;
// a timed-out result is not cached. It does not pick a tier: scoping is a
// storage-location concern its caller (process.CachingRunner.persist)
// applies by never writing a per_session result to the persistent tiers.
type PerSession struct {
	r         recorder
	SessionID string
}

func NewPerSession(sessionID string) *PerSession {
	return &PerSession{SessionID: sessionID}
}

func (p *PerSession) ShouldCache(_ context.Context, result types.ProcessResult, _ types.CacheScope) bool {
	return result.Status == types.ProcessResultStatusCompleted
}
func (p *PerSession) RecordWrite(written bool) { p.r.recordWrite(written) }
func (p *PerSession) Stats() Stats             { return p.r.snapshot() }

// Never never caches, regardless of outcome.
type Never struct{ r recorder }

func NewNever() *Never { return &Never{} }

func (p *Never) ShouldCache(_ context.Context, _ types.ProcessResult, _ types.CacheScope) bool {
	return false
}
func (p *Never) RecordWrite(written bool) { p.r.recordWrite(written) }
func (p *Never) Stats() Stats             { return p.r.snapshot() }
