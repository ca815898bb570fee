package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/justapithecus/forge/cli/reader"
	"github.com/justapithecus/forge/config"
	"github.com/justapithecus/forge/digest"
	"github.com/justapithecus/forge/internal/stdrules"
	"github.com/justapithecus/forge/metrics"
	"github.com/justapithecus/forge/process"
	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/remotecache"
	"github.com/justapithecus/forge/scheduler"
	"github.com/justapithecus/forge/session"
)

// App bundles the wiring every command needs: the shared Runtime (rule
// registry, compiled-graph cache, process executor, metrics), the
// read-side Reader for list/inspect, and the resolved remote cache pools.
type App struct {
	Config  *config.Config
	Reader  *reader.Reader
	Runtime *session.Runtime
	Metrics *metrics.Collector
}

// NewApp wires an App from a loaded Config. The digest store and local
// action cache are rooted under cfg.CacheDir, sandboxes under
// cfg.Process.SandboxDir, and append-only caches under
// cfg.Process.AppendCacheDir (cfg.CacheDir/append when unset); stdrules is the built-in
// demonstration rule set (real embedders register their own rules
// instead).
func NewApp(cfg *config.Config) (*App, error) {
	reg := registry.New()
	if err := stdrules.Register(reg); err != nil {
		return nil, fmt.Errorf("cmd: registering rules: %w", err)
	}

	store, err := digest.NewLocal(filepath.Join(cfg.CacheDir, "digests"))
	if err != nil {
		return nil, fmt.Errorf("cmd: opening digest store: %w", err)
	}

	appendDir := cfg.Process.AppendCacheDir
	if appendDir == "" {
		appendDir = filepath.Join(cfg.CacheDir, "append")
	}
	caches, err := process.NewCacheManager(appendDir)
	if err != nil {
		return nil, fmt.Errorf("cmd: opening append cache manager: %w", err)
	}

	executor := process.NewExecutor(store, cfg.Process.SandboxDir, caches)
	executor.ReaperPath = cfg.Process.ReaperPath

	schedCfg := scheduler.Config{
		CPUSlots:     cfg.Scheduler.CPUSlots,
		ProcessSlots: cfg.Scheduler.ProcessSlots,
	}

	collector := metrics.NewCollector(executorBackendName(cfg), cfg.RemoteCache.Backend, "forge-cli")

	rt := session.NewRuntime(reg, executor, schedCfg)
	rt.SetMetrics(collector)

	localCache, err := remotecache.NewLocalProvider(store, filepath.Join(cfg.CacheDir, "actions"))
	if err != nil {
		return nil, fmt.Errorf("cmd: opening local action cache: %w", err)
	}
	remoteCache, err := remoteCacheProvider(cfg, store, collector)
	if err != nil {
		return nil, fmt.Errorf("cmd: configuring remote cache: %w", err)
	}
	rt.SetProcessCaches(localCache, remoteCache)

	pools := cfg.RemoteCachePools()

	return &App{
		Config:  cfg,
		Reader:  reader.New(reg, pools),
		Runtime: rt,
		Metrics: collector,
	}, nil
}

func executorBackendName(cfg *config.Config) string {
	if cfg.Process.SandboxDir == "" {
		return "process:tmp"
	}
	return "process:" + cfg.Process.SandboxDir
}

// remoteCacheProvider builds the optional tier-3 process-result cache from
// cfg.RemoteCache.Backend. An empty Backend disables the remote tier
// entirely (nil, nil). A non-nil Provider is wrapped in an
// InstrumentedProvider so remote hit/miss/put/error counters flow into
// collector alongside the tier-1/tier-2 counters CachingRunner reports
// directly.
func remoteCacheProvider(cfg *config.Config, store digest.Store, collector *metrics.Collector) (remotecache.Provider, error) {
	var provider remotecache.Provider

	switch cfg.RemoteCache.Backend {
	case "":
		return nil, nil
	case "local":
		local, err := remotecache.NewLocalProvider(store, cfg.RemoteCache.LocalCacheRoot)
		if err != nil {
			return nil, fmt.Errorf("opening local remote cache at %s: %w", cfg.RemoteCache.LocalCacheRoot, err)
		}
		provider = local
	case "rpc":
		selector, err := remoteCacheSelector(cfg)
		if err != nil {
			return nil, err
		}
		provider = remotecache.NewRPCProvider(selector, cfg.RemoteCache.Pool, 0)
	case "http":
		selector, err := remoteCacheSelector(cfg)
		if err != nil {
			return nil, err
		}
		provider = remotecache.NewHTTPProvider(selector, cfg.RemoteCache.Pool, 0, nil)
	default:
		return nil, fmt.Errorf("unknown remote_cache.backend %q", cfg.RemoteCache.Backend)
	}

	return remotecache.NewInstrumentedProvider(provider, collector), nil
}

// remoteCacheSelector builds a Selector with every configured pool
// registered, for the "rpc" and "http" backends to pick endpoints from.
func remoteCacheSelector(cfg *config.Config) (*remotecache.Selector, error) {
	selector := remotecache.NewSelector()
	for _, pool := range cfg.RemoteCachePools() {
		pool := pool
		if err := selector.RegisterPool(&pool); err != nil {
			return nil, fmt.Errorf("registering remote cache pool %q: %w", pool.Name, err)
		}
	}
	return selector, nil
}
