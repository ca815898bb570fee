// Package metrics provides per-session counters for the engine's node
// graph, process cache, and remote cache.
//
// The Collector accumulates counters across the lifetime of a Runtime. It is
// a leaf package with no internal dependencies, so the engine, scheduler,
// and remote cache packages can all depend on it without a cycle.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters. Returned by
// Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session / query lifecycle
	SessionsOpened   int64
	SessionsClosed   int64
	QueriesStarted   int64
	QueriesSucceeded int64
	QueriesFailed    int64
	QueriesCancelled int64

	// Runtime node graph (component E)
	NodeEvaluations   int64
	NodeMemoHits      int64
	NodeInvalidations int64

	// Process executor (component B)
	ProcessSpawnSuccess int64
	ProcessSpawnFailure int64
	ProcessCacheHits    int64
	ProcessCacheMisses  int64

	// Remote cache (component H)
	RemoteCacheHits   int64
	RemoteCacheMisses int64
	RemoteCachePuts   int64
	RemoteCacheErrors int64

	// Dimensions (informational, set at construction)
	ProcessBackend string
	CacheBackend   string
	RuntimeID      string
}

// Collector accumulates counters for one Runtime. Thread-safe via
// sync.Mutex. All increment methods are nil-receiver safe, so call sites
// that are handed a nil *Collector (no metrics configured) never need a
// guard.
type Collector struct {
	mu sync.Mutex

	sessionsOpened   int64
	sessionsClosed   int64
	queriesStarted   int64
	queriesSucceeded int64
	queriesFailed    int64
	queriesCancelled int64

	nodeEvaluations   int64
	nodeMemoHits      int64
	nodeInvalidations int64

	processSpawnSuccess int64
	processSpawnFailure int64
	processCacheHits    int64
	processCacheMisses  int64

	remoteCacheHits   int64
	remoteCacheMisses int64
	remoteCachePuts   int64
	remoteCacheErrors int64

	processBackend string
	cacheBackend   string
	runtimeID      string
}

// NewCollector creates a Collector with dimension labels. processBackend
// names the process executor's sandbox kind (e.g. "local", "docker");
// cacheBackend names the configured remotecache.Provider (e.g. "local",
// "rpc", "http"); runtimeID is an optional label identifying which Runtime
// the counters belong to, useful when a process hosts more than one.
func NewCollector(processBackend, cacheBackend, runtimeID string) *Collector {
	return &Collector{
		processBackend: processBackend,
		cacheBackend:   cacheBackend,
		runtimeID:      runtimeID,
	}
}

// --- Session / query lifecycle ---

// IncSessionOpened records a Session being opened.
func (c *Collector) IncSessionOpened() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsOpened++
	c.mu.Unlock()
}

// IncSessionClosed records a Session being closed.
func (c *Collector) IncSessionClosed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsClosed++
	c.mu.Unlock()
}

// IncQueryStarted records a RunQuery call beginning evaluation.
func (c *Collector) IncQueryStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesStarted++
	c.mu.Unlock()
}

// IncQuerySucceeded records a query reaching QueryOutcomeSuccess.
func (c *Collector) IncQuerySucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesSucceeded++
	c.mu.Unlock()
}

// IncQueryFailed records a query reaching QueryOutcomeFailed.
func (c *Collector) IncQueryFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesFailed++
	c.mu.Unlock()
}

// IncQueryCancelled records a query reaching QueryOutcomeCancelled.
func (c *Collector) IncQueryCancelled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queriesCancelled++
	c.mu.Unlock()
}

// --- Runtime node graph ---

// IncNodeEvaluation records the scheduler asking the engine to run one
// RuntimeNode, whether or not the result turns out to be memoized.
func (c *Collector) IncNodeEvaluation() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.nodeEvaluations++
	c.mu.Unlock()
}

// IncNodeMemoHit records an Entry returning its already-Completed Value
// instead of recomputing its rule body.
func (c *Collector) IncNodeMemoHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.nodeMemoHits++
	c.mu.Unlock()
}

// IncNodeInvalidation records a NodeID being marked Dirty, typically by a
// Watcher reacting to a filesystem change.
func (c *Collector) IncNodeInvalidation() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.nodeInvalidations++
	c.mu.Unlock()
}

// --- Process executor ---

// IncProcessSpawnSuccess records a process request that ran to completion
// (any exit code; spawn itself succeeded).
func (c *Collector) IncProcessSpawnSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.processSpawnSuccess++
	c.mu.Unlock()
}

// IncProcessSpawnFailure records a process request that failed to spawn at
// all (missing executable, sandbox setup error).
func (c *Collector) IncProcessSpawnFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.processSpawnFailure++
	c.mu.Unlock()
}

// IncProcessCacheHit records a process request satisfied from the
// fingerprint-keyed local process cache without spawning.
func (c *Collector) IncProcessCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.processCacheHits++
	c.mu.Unlock()
}

// IncProcessCacheMiss records a process request not found in the local
// process cache, requiring a spawn (or a remote cache lookup).
func (c *Collector) IncProcessCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.processCacheMisses++
	c.mu.Unlock()
}

// --- Remote cache ---

// IncRemoteCacheHit records a remotecache.Provider GetActionResult/GetBlob
// call returning a found result.
func (c *Collector) IncRemoteCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.remoteCacheHits++
	c.mu.Unlock()
}

// IncRemoteCacheMiss records a remotecache.Provider Get call returning not
// found, with no error.
func (c *Collector) IncRemoteCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.remoteCacheMisses++
	c.mu.Unlock()
}

// IncRemoteCachePut records a successful PutActionResult/PutBlob call.
func (c *Collector) IncRemoteCachePut() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.remoteCachePuts++
	c.mu.Unlock()
}

// IncRemoteCacheError records a remotecache.Provider call returning an
// error (network, decode, server-side failure).
func (c *Collector) IncRemoteCacheError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.remoteCacheErrors++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters. The
// returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SessionsOpened:   c.sessionsOpened,
		SessionsClosed:   c.sessionsClosed,
		QueriesStarted:   c.queriesStarted,
		QueriesSucceeded: c.queriesSucceeded,
		QueriesFailed:    c.queriesFailed,
		QueriesCancelled: c.queriesCancelled,

		NodeEvaluations:   c.nodeEvaluations,
		NodeMemoHits:      c.nodeMemoHits,
		NodeInvalidations: c.nodeInvalidations,

		ProcessSpawnSuccess: c.processSpawnSuccess,
		ProcessSpawnFailure: c.processSpawnFailure,
		ProcessCacheHits:    c.processCacheHits,
		ProcessCacheMisses:  c.processCacheMisses,

		RemoteCacheHits:   c.remoteCacheHits,
		RemoteCacheMisses: c.remoteCacheMisses,
		RemoteCachePuts:   c.remoteCachePuts,
		RemoteCacheErrors: c.remoteCacheErrors,

		ProcessBackend: c.processBackend,
		CacheBackend:   c.cacheBackend,
		RuntimeID:      c.runtimeID,
	}
}
