package process

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/forge/digest"
	"github.com/justapithecus/forge/types"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	store, err := digest.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	caches, err := NewCacheManager(filepath.Join(t.TempDir(), "caches"))
	if err != nil {
		t.Fatalf("NewCacheManager failed: %v", err)
	}
	return NewExecutor(store, t.TempDir(), caches)
}

func TestExecutor_RunSimpleEcho(t *testing.T) {
	exec := newTestExecutor(t)

	req := types.ProcessRequest{
		Argv:       []string{"/bin/sh", "-c", "echo hello"},
		Platform:   types.Platform{OS: "linux", Arch: "amd64"},
		CacheScope: types.CacheScopeAlways,
	}

	result, err := exec.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != types.ProcessResultStatusCompleted {
		t.Fatalf("Status = %v, want completed", result.Status)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Stdout.IsZero() {
		t.Error("expected non-zero stdout digest")
	}
}

func TestExecutor_NonZeroExit(t *testing.T) {
	exec := newTestExecutor(t)

	req := types.ProcessRequest{
		Argv:     []string{"/bin/sh", "-c", "exit 3"},
		Platform: types.Platform{OS: "linux", Arch: "amd64"},
	}

	result, err := exec.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	exec := newTestExecutor(t)

	req := types.ProcessRequest{
		Argv:     []string{"/bin/sh", "-c", "sleep 5"},
		Platform: types.Platform{OS: "linux", Arch: "amd64"},
		Timeout:  50 * time.Millisecond,
	}

	result, err := exec.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != types.ProcessResultStatusTimeout {
		t.Errorf("Status = %v, want timeout", result.Status)
	}
}

func TestExecutor_Argv_NoReaperPassesThrough(t *testing.T) {
	exec := newTestExecutor(t)
	req := types.ProcessRequest{Argv: []string{"/bin/true"}}

	got := exec.argv(req)
	if len(got) != 1 || got[0] != "/bin/true" {
		t.Errorf("argv() = %v, want [/bin/true]", got)
	}
}

func TestExecutor_Argv_ReaperPathWrapsRealArgv(t *testing.T) {
	exec := newTestExecutor(t)
	exec.ReaperPath = "/usr/local/bin/forge-sandboxinit"
	req := types.ProcessRequest{Argv: []string{"/bin/echo", "hi"}}

	got := exec.argv(req)
	want := []string{"/usr/local/bin/forge-sandboxinit", "--", "/bin/echo", "hi"}
	if len(got) != len(want) {
		t.Fatalf("argv() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv() = %v, want %v", got, want)
		}
	}
}

func TestExecutor_CapturesOutputFiles(t *testing.T) {
	exec := newTestExecutor(t)

	req := types.ProcessRequest{
		Argv:        []string{"/bin/sh", "-c", "echo data > out.txt"},
		Platform:    types.Platform{OS: "linux", Arch: "amd64"},
		OutputFiles: []string{"out.txt"},
	}

	result, err := exec.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.OutputDigest.IsZero() {
		t.Error("expected non-zero output digest")
	}
}
