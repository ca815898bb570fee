package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/justapithecus/forge/remotecache"
)

// Config represents a forge.yaml configuration file: defaults for the
// project root, local digest store, process executor, scheduler
// concurrency, and remote cache pools. All values are optional. No CLI
// flag overrides an individual config value; --config only selects the
// file.
type Config struct {
	Root        string            `yaml:"root"`
	CacheDir    string            `yaml:"cache_dir"`
	Process     ProcessConfig     `yaml:"process"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	RemoteCache RemoteCacheConfig `yaml:"remote_cache"`
}

// ProcessConfig holds process executor defaults.
type ProcessConfig struct {
	// SandboxDir roots per-invocation sandbox directories; empty uses
	// the process temp directory.
	SandboxDir string `yaml:"sandbox_dir"`
	// AppendCacheDir roots named, persistent append-only cache
	// directories shared across invocations.
	AppendCacheDir string   `yaml:"append_cache_dir"`
	Timeout        Duration `yaml:"timeout"`
	// ReaperPath, when set, is the path to a forge-sandboxinit binary
	// that process.Executor starts as the parent of each sandboxed process
	// instead of the requested argv directly (see forge-sandboxinit for
	// which orphaned children it can reap).
	ReaperPath string `yaml:"reaper_path"`
}

// SchedulerConfig holds scheduler.Config defaults.
type SchedulerConfig struct {
	CPUSlots     int `yaml:"cpu_slots"`
	ProcessSlots int `yaml:"process_slots"`
}

// RemoteCacheConfig selects and configures the remote cache adapter.
type RemoteCacheConfig struct {
	// Backend selects the Provider implementation: "local", "rpc", or
	// "http". Empty disables the remote cache.
	Backend string `yaml:"backend"`
	// LocalCacheRoot is the filesystem root for the "local" backend.
	LocalCacheRoot string `yaml:"local_cache_root"`
	// Pool names the pool (below) the "rpc"/"http" backend selects
	// endpoints from.
	Pool string `yaml:"pool"`
	// Pools is keyed by pool name; the key becomes remotecache.Pool.Name.
	Pools map[string]RemoteCachePoolConfig `yaml:"pools"`
}

// RemoteCachePoolConfig is a remote cache pool definition within the
// config file. Name is derived from the map key, not stored in the
// struct, mirroring the teacher's ProxyPoolConfig.
type RemoteCachePoolConfig struct {
	Strategy      remotecache.Strategy `yaml:"strategy"`
	Endpoints     []remotecache.Endpoint `yaml:"endpoints"`
	RecencyWindow *int                   `yaml:"recency_window,omitempty"`
	StickyTTLMs   *int64                 `yaml:"sticky_ttl_ms,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// RemoteCachePools converts the map-keyed pool config into a sorted slice
// of remotecache.Pool. Sorting by name keeps registration order
// deterministic.
func (c *Config) RemoteCachePools() []remotecache.Pool {
	if len(c.RemoteCache.Pools) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.RemoteCache.Pools))
	for name := range c.RemoteCache.Pools {
		names = append(names, name)
	}
	sort.Strings(names)

	pools := make([]remotecache.Pool, 0, len(names))
	for _, name := range names {
		pc := c.RemoteCache.Pools[name]
		var sticky *remotecache.StickyConfig
		if pc.StickyTTLMs != nil {
			sticky = &remotecache.StickyConfig{TTLMs: pc.StickyTTLMs}
		}
		pools = append(pools, remotecache.Pool{
			Name:          name,
			Strategy:      pc.Strategy,
			Endpoints:     pc.Endpoints,
			RecencyWindow: pc.RecencyWindow,
			Sticky:        sticky,
		})
	}
	return pools
}
