package types

import (
	"fmt"
	"sort"
	"time"
)

// Platform identifies the OS/architecture a ProcessRequest must run on, so
// that cached ProcessResults never cross platform boundaries (see DESIGN.md
// Open Question decisions).
type Platform struct {
	OS   string
	Arch string
}

// String renders the platform as "os/arch".
func (p Platform) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.Arch)
}

// CacheScope controls when a ProcessResult is eligible to be written to the
// cache tiers, per component B's fingerprint-keyed caching design.
type CacheScope string

const (
	// CacheScopeAlways caches regardless of exit code.
	CacheScopeAlways CacheScope = "always"
	// CacheScopeSuccessfulOnly caches only zero-exit-code results.
	CacheScopeSuccessfulOnly CacheScope = "successful_only"
	// CacheScopePerSession caches only within the originating session; not
	// written to any tier another session's lookups can observe.
	CacheScopePerSession CacheScope = "per_session"
	// CacheScopeNever never writes this result to cache.
	CacheScopeNever CacheScope = "never"
)

// AppendOnlyCache names a persistent directory mounted into the sandbox
// across process invocations, serialized so only one process writes to a
// given name at a time (see process.AcquireAppendCache).
type AppendOnlyCache struct {
	Name string
	// DestPath is the path, relative to the sandbox root, the cache
	// directory is mounted at.
	DestPath string
}

// ProcessRequest fully describes a process to execute inside a sandbox.
type ProcessRequest struct {
	Argv        []string
	Env         map[string]string
	InputDigest Digest
	// OutputFiles and OutputDirectories name the paths, relative to the
	// sandbox root, to capture into the result's OutputDigest after the
	// process exits.
	OutputFiles       []string
	OutputDirectories []string
	AppendOnlyCaches  []AppendOnlyCache
	Platform          Platform
	Timeout           time.Duration
	CacheScope        CacheScope
	// CacheKeySalt lets callers deliberately bust the cache (e.g. "run
	// always") without changing any other field.
	CacheKeySalt string
	Description  string
}

// sortedEnvKeys returns the request's env var names in sorted order, used
// by the fingerprint encoder so two requests built with different map
// iteration orders still fingerprint identically.
func (r ProcessRequest) sortedEnvKeys() []string {
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvPairs returns the request's environment as sorted (key, value) pairs.
func (r ProcessRequest) EnvPairs() [][2]string {
	keys := r.sortedEnvKeys()
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{k, r.Env[k]}
	}
	return out
}

// ProcessResultStatus classifies how a process invocation ended.
type ProcessResultStatus string

const (
	ProcessResultStatusCompleted ProcessResultStatus = "completed"
	ProcessResultStatusTimeout   ProcessResultStatus = "timeout"
	ProcessResultStatusSpawnError ProcessResultStatus = "spawn_error"
)

// ProcessResult is the outcome of executing a ProcessRequest.
type ProcessResult struct {
	Status     ProcessResultStatus
	ExitCode   int
	Stdout     Digest
	Stderr     Digest
	OutputDigest Digest
	Elapsed    time.Duration
	// FromCache is true when the result was served from a cache tier rather
	// than by actually running the process.
	FromCache bool
}
