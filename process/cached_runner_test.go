package process

import (
	"context"
	"errors"
	"testing"

	"github.com/justapithecus/forge/types"
)

// countingRunner records how many times Run actually spawned, returning
// result for every call.
type countingRunner struct {
	spawns int
	result types.ProcessResult
	err    error
}

func (r *countingRunner) Run(_ context.Context, _ types.ProcessRequest) (types.ProcessResult, error) {
	r.spawns++
	return r.result, r.err
}

// memProvider is an in-memory remotecache.Provider stand-in, keyed by
// fingerprint only (no blob support, unneeded by these tests).
type memProvider struct {
	actions map[string]types.ProcessResult
	puts    int
}

func newMemProvider() *memProvider {
	return &memProvider{actions: make(map[string]types.ProcessResult)}
}

func (p *memProvider) GetActionResult(_ context.Context, fingerprint string) (types.ProcessResult, bool, error) {
	result, ok := p.actions[fingerprint]
	return result, ok, nil
}

func (p *memProvider) PutActionResult(_ context.Context, fingerprint string, result types.ProcessResult) error {
	p.puts++
	p.actions[fingerprint] = result
	return nil
}

func (p *memProvider) GetBlob(_ context.Context, _ types.Digest) ([]byte, bool, error) {
	return nil, false, nil
}

func (p *memProvider) PutBlob(_ context.Context, _ types.Digest, _ []byte) error {
	return nil
}

func testReq(scope types.CacheScope) types.ProcessRequest {
	return types.ProcessRequest{
		Argv:       []string{"echo", "hi"},
		Platform:   types.Platform{OS: "linux", Arch: "amd64"},
		CacheScope: scope,
	}
}

func TestCachingRunner_MemoHitAvoidsSecondSpawn(t *testing.T) {
	inner := &countingRunner{result: types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 0}}
	runner := NewCachingRunner(inner, nil, nil, "sess-1")
	req := testReq(types.CacheScopeAlways)

	if _, err := runner.Run(context.Background(), req); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	result, err := runner.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if inner.spawns != 1 {
		t.Errorf("spawns = %d, want 1 (second run should hit the memo)", inner.spawns)
	}
	if !result.FromCache {
		t.Error("expected FromCache=true on memo hit")
	}
}

func TestCachingRunner_LocalHitAvoidsSpawn(t *testing.T) {
	inner := &countingRunner{result: types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 0}}
	local := newMemProvider()
	req := testReq(types.CacheScopeAlways)

	fp, err := Fingerprint(req)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	local.actions[fp] = types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 0}

	runner := NewCachingRunner(inner, local, nil, "sess-1")
	if _, err := runner.Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inner.spawns != 0 {
		t.Errorf("spawns = %d, want 0 (local action cache should satisfy the request)", inner.spawns)
	}
}

func TestCachingRunner_ScopeNeverBypassesEveryTier(t *testing.T) {
	inner := &countingRunner{result: types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 0}}
	local := newMemProvider()
	runner := NewCachingRunner(inner, local, nil, "sess-1")
	req := testReq(types.CacheScopeNever)

	for i := 0; i < 2; i++ {
		if _, err := runner.Run(context.Background(), req); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}
	if inner.spawns != 2 {
		t.Errorf("spawns = %d, want 2 (never scope must spawn every time)", inner.spawns)
	}
	if len(local.actions) != 0 {
		t.Error("never scope must not write to the local action cache")
	}
}

func TestCachingRunner_PerSessionNeverPersists(t *testing.T) {
	inner := &countingRunner{result: types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 0}}
	local := newMemProvider()
	remote := newMemProvider()
	runner := NewCachingRunner(inner, local, remote, "sess-1")
	req := testReq(types.CacheScopePerSession)

	if _, err := runner.Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(local.actions) != 0 {
		t.Error("per_session scope must not write to the local action cache")
	}
	if len(remote.actions) != 0 {
		t.Error("per_session scope must not write to the remote action cache")
	}

	// A second Run within the same CachingRunner (the same Session) still
	// hits the in-memory memo and does not spawn again.
	if _, err := runner.Run(context.Background(), req); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if inner.spawns != 1 {
		t.Errorf("spawns = %d, want 1 (per_session memo should satisfy the repeat run)", inner.spawns)
	}
}

func TestCachingRunner_SuccessfulOnlyPersistsOnlyOnZeroExit(t *testing.T) {
	local := newMemProvider()

	failing := &countingRunner{result: types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 1}}
	runner := NewCachingRunner(failing, local, nil, "sess-1")
	req := testReq(types.CacheScopeSuccessfulOnly)
	if _, err := runner.Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(local.actions) != 0 {
		t.Error("successful_only scope must not persist a non-zero exit code")
	}

	succeeding := &countingRunner{result: types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 0}}
	runner2 := NewCachingRunner(succeeding, local, nil, "sess-2")
	req2 := testReq(types.CacheScopeSuccessfulOnly)
	req2.CacheKeySalt = "distinct-from-failing-case"
	if _, err := runner2.Run(context.Background(), req2); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(local.actions) != 1 {
		t.Errorf("local action cache entries = %d, want 1 (zero exit code must persist)", len(local.actions))
	}
}

func TestCachingRunner_AlwaysPersistsRegardlessOfExitCode(t *testing.T) {
	local := newMemProvider()
	inner := &countingRunner{result: types.ProcessResult{Status: types.ProcessResultStatusCompleted, ExitCode: 7}}
	runner := NewCachingRunner(inner, local, nil, "sess-1")
	req := testReq(types.CacheScopeAlways)

	if _, err := runner.Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(local.actions) != 1 {
		t.Error("always scope must persist regardless of exit code")
	}
}

func TestCachingRunner_SpawnErrorPropagatesWithoutCaching(t *testing.T) {
	local := newMemProvider()
	inner := &countingRunner{err: errors.New("spawn failed")}
	runner := NewCachingRunner(inner, local, nil, "sess-1")
	req := testReq(types.CacheScopeAlways)

	if _, err := runner.Run(context.Background(), req); err == nil {
		t.Fatal("expected an error from a failing spawn")
	}
	if len(local.actions) != 0 {
		t.Error("a failed spawn must not be cached")
	}
}
