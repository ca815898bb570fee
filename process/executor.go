// Package process implements the sandboxed process executor (component B):
// digest-populated scratch directories, subprocess lifecycle, bounded
// output capture, named append-only caches, and fingerprint-keyed result
// caching.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/justapithecus/forge/digest"
	"github.com/justapithecus/forge/types"
)

// Executor runs ProcessRequests in hermetic sandbox directories populated
// from a digest store. Generalizes the teacher's ExecutorManager (which
// launched exactly one Node executor script) to an arbitrary argv/env
// process, materialized from a content-addressed input tree instead of a
// single script path.
type Executor struct {
	store      digest.Store
	sandboxDir string
	caches     *CacheManager

	// ReaperPath, when set, is the path to a forge-sandboxinit binary.
	// Run starts it as an ordinary child, as the parent of req.Argv,
	// instead of req.Argv directly. Run creates no PID namespace, so the
	// reaper is not PID 1 and orphans of the real process are reparented
	// past it rather than to it.
	ReaperPath string
}

// NewExecutor builds an Executor rooted at sandboxDir (a scratch directory
// under which per-invocation subdirectories are created and destroyed).
func NewExecutor(store digest.Store, sandboxDir string, caches *CacheManager) *Executor {
	return &Executor{store: store, sandboxDir: sandboxDir, caches: caches}
}

// argv returns the argv Run should actually exec: req.Argv unmodified, or
// req.Argv wrapped behind the reaper binary when ReaperPath is set.
func (e *Executor) argv(req types.ProcessRequest) []string {
	if e.ReaperPath == "" {
		return req.Argv
	}
	wrapped := make([]string, 0, len(req.Argv)+2)
	wrapped = append(wrapped, e.ReaperPath, "--")
	wrapped = append(wrapped, req.Argv...)
	return wrapped
}

// Run materializes req's input tree, executes req.Argv, captures output,
// and digests the requested output files/directories.
func (e *Executor) Run(ctx context.Context, req types.ProcessRequest) (types.ProcessResult, error) {
	sandbox, err := os.MkdirTemp(e.sandboxDir, "sandbox-*")
	if err != nil {
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
	}
	defer func() { _ = os.RemoveAll(sandbox) }()

	if !req.InputDigest.IsZero() {
		if err := materialize(ctx, e.store, req.InputDigest, sandbox); err != nil {
			return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
		}
	}

	var releases []func()
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	for _, ac := range req.AppendOnlyCaches {
		dir, release, err := e.caches.Acquire(ctx, ac.Name)
		if err != nil {
			return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
		}
		releases = append(releases, release)
		dest := filepath.Join(sandbox, ac.DestPath)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
		}
		if err := os.Symlink(dir, dest); err != nil {
			return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	argv := e.argv(req)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = sandbox
	cmd.Env = envSlice(req.EnvPairs())
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout := newCapture()
	stderr := newCapture()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindProcessSpawn, "process.Run", err)
	}

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	result := types.ProcessResult{Elapsed: elapsed}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Status = types.ProcessResultStatusTimeout
		return result, nil
	}

	exitCode, spawnErr := exitCodeOf(waitErr)
	if spawnErr != nil {
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindProcessSpawn, "process.Run", spawnErr)
	}
	result.Status = types.ProcessResultStatusCompleted
	result.ExitCode = exitCode

	stdoutDigest, err := stdout.digest(ctx, e.store)
	if err != nil {
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
	}
	result.Stdout = stdoutDigest

	stderrDigest, err := stderr.digest(ctx, e.store)
	if err != nil {
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
	}
	result.Stderr = stderrDigest

	outputDigest, err := captureOutputs(ctx, e.store, sandbox, req.OutputFiles, req.OutputDirectories)
	if err != nil {
		return types.ProcessResult{}, types.NewEngineError(types.ErrorKindSandboxIO, "process.Run", err)
	}
	result.OutputDigest = outputDigest

	return result, nil
}

func exitCodeOf(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus(), nil
		}
		return -1, nil
	}
	return 0, fmt.Errorf("process: wait failed: %w", err)
}

func envSlice(pairs [][2]string) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p[0] + "=" + p[1]
	}
	return out
}

// materialize walks the directory tree addressed by root and writes it
// into destDir.
func materialize(ctx context.Context, store digest.Store, root types.Digest, destDir string) error {
	dir, err := store.LoadDirectory(ctx, root)
	if err != nil {
		return fmt.Errorf("process: materialize %s: %w", root, err)
	}
	for _, f := range dir.Files {
		data, err := store.Load(ctx, f.Digest)
		if err != nil {
			return fmt.Errorf("process: materialize file %s: %w", f.Name, err)
		}
		mode := os.FileMode(0o644)
		if f.IsExecutable {
			mode = 0o755
		}
		if err := os.WriteFile(filepath.Join(destDir, f.Name), data, mode); err != nil {
			return fmt.Errorf("process: write file %s: %w", f.Name, err)
		}
	}
	for _, d := range dir.Dirs {
		sub := filepath.Join(destDir, d.Name)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("process: mkdir %s: %w", d.Name, err)
		}
		if err := materialize(ctx, store, d.Digest, sub); err != nil {
			return err
		}
	}
	return nil
}

// captureOutputs reads the requested output files/directories from sandbox
// and stores them, returning the digest of the synthesized output
// Directory.
func captureOutputs(ctx context.Context, store digest.Store, sandbox string, files, dirs []string) (types.Digest, error) {
	var outDir types.Directory

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(sandbox, rel))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return types.Digest{}, fmt.Errorf("process: read output %s: %w", rel, err)
		}
		d, err := store.Store(ctx, data)
		if err != nil {
			return types.Digest{}, err
		}
		outDir.Files = append(outDir.Files, types.FileNode{Name: rel, Digest: d})
	}

	for _, rel := range dirs {
		d, err := digestTree(ctx, store, filepath.Join(sandbox, rel))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return types.Digest{}, err
		}
		outDir.Dirs = append(outDir.Dirs, types.DirNode{Name: rel, Digest: d})
	}

	return store.StoreDirectory(ctx, outDir)
}

func digestTree(ctx context.Context, store digest.Store, path string) (types.Digest, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return types.Digest{}, err
	}
	var dir types.Directory
	for _, entry := range entries {
		full := filepath.Join(path, entry.Name())
		if entry.IsDir() {
			d, err := digestTree(ctx, store, full)
			if err != nil {
				return types.Digest{}, err
			}
			dir.Dirs = append(dir.Dirs, types.DirNode{Name: entry.Name(), Digest: d})
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return types.Digest{}, err
		}
		info, err := entry.Info()
		if err != nil {
			return types.Digest{}, err
		}
		d, err := store.Store(ctx, data)
		if err != nil {
			return types.Digest{}, err
		}
		dir.Files = append(dir.Files, types.FileNode{
			Name:         entry.Name(),
			Digest:       d,
			IsExecutable: info.Mode()&0o111 != 0,
		})
	}
	return store.StoreDirectory(ctx, dir)
}
