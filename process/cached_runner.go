package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/justapithecus/forge/cachepolicy"
	"github.com/justapithecus/forge/metrics"
	"github.com/justapithecus/forge/remotecache"
	"github.com/justapithecus/forge/types"
)

// Runner executes one ProcessRequest to completion. Implemented by
// *Executor directly, and by CachingRunner, which layers Executor with
// the three caching tiers spec §4.B describes.
type Runner interface {
	Run(ctx context.Context, req types.ProcessRequest) (types.ProcessResult, error)
}

// CachingRunner wraps a Runner (ordinarily an *Executor) with the
// fingerprint-keyed caching spec §4.B requires: an in-memory per-session
// result memo (tier 1), a local on-disk action cache (tier 2, a
// remotecache.Provider -- ordinarily a *remotecache.LocalProvider), and
// an optional remote cache (tier 3, any other remotecache.Provider).
// One CachingRunner is constructed per Session so tier 1 is scoped
// exactly as spec requires: a demand satisfied from tier 1 is gone once
// the Session that cached it closes.
type CachingRunner struct {
	inner     Runner
	local     remotecache.Provider
	remote    remotecache.Provider
	sessionID string
	metrics   *metrics.Collector

	mu   sync.Mutex
	memo map[string]types.ProcessResult
}

// NewCachingRunner builds a CachingRunner delegating spawns to inner.
// local is the persistent action cache tier and is ordinarily always
// present; remote may be nil to disable tier 3.
func NewCachingRunner(inner Runner, local, remote remotecache.Provider, sessionID string) *CachingRunner {
	return &CachingRunner{
		inner:     inner,
		local:     local,
		remote:    remote,
		sessionID: sessionID,
		memo:      make(map[string]types.ProcessResult),
	}
}

// SetMetrics attaches a Collector that c reports process cache hit/miss
// and spawn success/failure counters to. A nil Collector (the default)
// makes every Inc call a no-op.
func (c *CachingRunner) SetMetrics(m *metrics.Collector) {
	c.metrics = m
}

// Run satisfies req from the first cache tier that has it, spawning via
// inner only on a full miss. Per spec's cache scope semantics: `never`
// bypasses every tier (not even the in-memory memo). For every other
// scope, each spawned result is memoized in tier 1 for the rest of the
// Session, whatever its exit code; `per_session` stops there, never
// reaching the persistent tiers; `always` and `successful_only` also
// write the persistent tiers when cachepolicy.Policy permits.
func (c *CachingRunner) Run(ctx context.Context, req types.ProcessRequest) (types.ProcessResult, error) {
	if req.CacheScope == types.CacheScopeNever {
		return c.spawn(ctx, req)
	}

	fp, err := Fingerprint(req)
	if err != nil {
		return types.ProcessResult{}, fmt.Errorf("process: fingerprint request: %w", err)
	}

	if result, ok := c.memoGet(fp); ok {
		c.metrics.IncProcessCacheHit()
		result.FromCache = true
		return result, nil
	}

	if c.local != nil {
		if result, found, err := c.local.GetActionResult(ctx, fp); err == nil && found {
			c.metrics.IncProcessCacheHit()
			c.memoSet(fp, result)
			return result, nil
		}
	}

	c.metrics.IncProcessCacheMiss()

	// A remote cache hit is recorded by remotecache.InstrumentedProvider
	// (if the configured remote Provider is wrapped with one); transient
	// remote errors degrade silently to a local spawn rather than failing
	// the request.
	if c.remote != nil {
		if result, found, err := c.remote.GetActionResult(ctx, fp); err == nil && found {
			c.memoSet(fp, result)
			return result, nil
		}
	}

	result, err := c.spawn(ctx, req)
	if err != nil {
		return result, err
	}

	c.memoSet(fp, result)
	c.persist(ctx, fp, req, result)

	return result, nil
}

func (c *CachingRunner) spawn(ctx context.Context, req types.ProcessRequest) (types.ProcessResult, error) {
	result, err := c.inner.Run(ctx, req)
	if err != nil {
		c.metrics.IncProcessSpawnFailure()
		return result, err
	}
	c.metrics.IncProcessSpawnSuccess()
	return result, nil
}

// persist writes result to the tiers cachepolicy.ForScope permits for
// req.CacheScope. per_session never reaches the persistent tiers: it
// already has its one permitted tier (the in-memory memo, populated by
// Run above) and ForScope's PerSession policy defers the storage-tier
// decision to this caller rather than deciding it itself.
func (c *CachingRunner) persist(ctx context.Context, fp string, req types.ProcessRequest, result types.ProcessResult) {
	policy := cachepolicy.ForScope(req.CacheScope, c.sessionID)
	shouldCache := policy.ShouldCache(ctx, result, req.CacheScope)

	if req.CacheScope == types.CacheScopePerSession {
		policy.RecordWrite(shouldCache)
		return
	}

	if !shouldCache {
		policy.RecordWrite(false)
		return
	}

	written := false
	if c.local != nil {
		if err := c.local.PutActionResult(ctx, fp, result); err == nil {
			written = true
		}
	}
	if c.remote != nil {
		_ = c.remote.PutActionResult(ctx, fp, result)
	}
	policy.RecordWrite(written)
}

func (c *CachingRunner) memoGet(fp string) (types.ProcessResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.memo[fp]
	return result, ok
}

func (c *CachingRunner) memoSet(fp string, result types.ProcessResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memo[fp] = result
}
