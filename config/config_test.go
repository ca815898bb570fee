package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/forge/remotecache"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `root: /srv/project
cache_dir: /var/cache/forge

process:
  sandbox_dir: /tmp/forge-sandboxes
  append_cache_dir: /var/cache/forge/append
  timeout: 30s
  reaper_path: /usr/local/bin/forge-sandboxinit

scheduler:
  cpu_slots: 8
  process_slots: 2

remote_cache:
  backend: rpc
  pool: default
  pools:
    default:
      strategy: round_robin
      endpoints:
        - name: primary
          url: cache-1.example.com:9000
          auth_token: token123
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "root", cfg.Root, "/srv/project")
	assertEqual(t, "cache_dir", cfg.CacheDir, "/var/cache/forge")

	assertEqual(t, "process.sandbox_dir", cfg.Process.SandboxDir, "/tmp/forge-sandboxes")
	assertEqual(t, "process.append_cache_dir", cfg.Process.AppendCacheDir, "/var/cache/forge/append")
	if cfg.Process.Timeout.Duration != 30*time.Second {
		t.Errorf("expected process.timeout=30s, got %v", cfg.Process.Timeout.Duration)
	}
	assertEqual(t, "process.reaper_path", cfg.Process.ReaperPath, "/usr/local/bin/forge-sandboxinit")

	if cfg.Scheduler.CPUSlots != 8 {
		t.Errorf("expected scheduler.cpu_slots=8, got %d", cfg.Scheduler.CPUSlots)
	}
	if cfg.Scheduler.ProcessSlots != 2 {
		t.Errorf("expected scheduler.process_slots=2, got %d", cfg.Scheduler.ProcessSlots)
	}

	assertEqual(t, "remote_cache.backend", cfg.RemoteCache.Backend, "rpc")
	assertEqual(t, "remote_cache.pool", cfg.RemoteCache.Pool, "default")

	pool, ok := cfg.RemoteCache.Pools["default"]
	if !ok {
		t.Fatal("expected pool \"default\" to be present")
	}
	if pool.Strategy != remotecache.StrategyRoundRobin {
		t.Errorf("expected strategy=round_robin, got %q", pool.Strategy)
	}
	if len(pool.Endpoints) != 1 || pool.Endpoints[0].Name != "primary" {
		t.Fatalf("expected one endpoint named primary, got %+v", pool.Endpoints)
	}
	if pool.Endpoints[0].AuthToken != "token123" {
		t.Errorf("expected auth_token=token123, got %q", pool.Endpoints[0].AuthToken)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Root != "" {
		t.Errorf("expected empty root, got %q", cfg.Root)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/forge.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_ROOT", "/expanded/root")

	yaml := `root: ${TEST_ROOT}`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "root", cfg.Root, "/expanded/root")
}

func TestRemoteCachePools_Conversion(t *testing.T) {
	cfg := &Config{
		RemoteCache: RemoteCacheConfig{
			Pools: map[string]RemoteCachePoolConfig{
				"beta": {
					Strategy:  remotecache.StrategyRandom,
					Endpoints: []remotecache.Endpoint{{Name: "b", URL: "b.example.com"}},
				},
				"alpha": {
					Strategy:  remotecache.StrategyRoundRobin,
					Endpoints: []remotecache.Endpoint{{Name: "a", URL: "a.example.com"}},
				},
			},
		},
	}

	pools := cfg.RemoteCachePools()
	if len(pools) != 2 {
		t.Fatalf("expected 2 pools, got %d", len(pools))
	}

	// Sorted by name: alpha before beta
	if pools[0].Name != "alpha" {
		t.Errorf("expected first pool name=alpha, got %q", pools[0].Name)
	}
	if pools[1].Name != "beta" {
		t.Errorf("expected second pool name=beta, got %q", pools[1].Name)
	}
	if pools[0].Strategy != remotecache.StrategyRoundRobin {
		t.Errorf("expected alpha strategy=round_robin, got %q", pools[0].Strategy)
	}
}

func TestRemoteCachePools_Empty(t *testing.T) {
	cfg := &Config{}
	pools := cfg.RemoteCachePools()
	if pools != nil {
		t.Errorf("expected nil for empty pools, got %v", pools)
	}
}

func TestRemoteCachePools_WithSticky(t *testing.T) {
	ttl := int64(3600000)
	cfg := &Config{
		RemoteCache: RemoteCacheConfig{
			Pools: map[string]RemoteCachePoolConfig{
				"sticky_pool": {
					Strategy:    remotecache.StrategySticky,
					StickyTTLMs: &ttl,
					Endpoints:   []remotecache.Endpoint{{Name: "a", URL: "a.example.com"}},
				},
			},
		},
	}

	pools := cfg.RemoteCachePools()
	if len(pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(pools))
	}
	if pools[0].Sticky == nil {
		t.Fatal("expected sticky config")
	}
	if pools[0].Sticky.TTLMs == nil || *pools[0].Sticky.TTLMs != 3600000 {
		t.Error("expected sticky TTL=3600000")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `root: /srv/project
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `process:
  sandbox_dir: /tmp/forge
  unknown_field: bad
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	yaml := "process:\n  timeout: 45s"
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Process.Timeout.Duration != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Process.Timeout.Duration)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
