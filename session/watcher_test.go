package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/forge/types"
)

// fakeInvalidator collects invalidated NodeIDs for assertions, standing in
// for a Runtime in tests.
type fakeInvalidator struct {
	mu  sync.Mutex
	ids map[types.NodeID]int
}

func newFakeInvalidator() *fakeInvalidator {
	return &fakeInvalidator{ids: make(map[types.NodeID]int)}
}

func (f *fakeInvalidator) Invalidate(id types.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[id]++
}

func (f *fakeInvalidator) count(id types.NodeID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}

// waitFor polls cond until it returns true or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcher_WriteInvalidatesFileEntry(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logFile, []byte("first\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	inv := newFakeInvalidator()
	w, err := NewWatcher(dir, inv, nil)
	must(t, err)
	defer func() { _ = w.Close() }()

	go w.Run()

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0o644)
	must(t, err)
	_, _ = f.WriteString("second\n")
	f.Close()

	fileID := FileNodeID(logFile)
	if !waitFor(t, 2*time.Second, func() bool { return inv.count(fileID) > 0 }) {
		t.Fatalf("file entry %s was never invalidated", fileID)
	}
}

func TestWatcher_CreateInvalidatesParentDirectoryEntry(t *testing.T) {
	dir := t.TempDir()

	inv := newFakeInvalidator()
	w, err := NewWatcher(dir, inv, nil)
	must(t, err)
	defer func() { _ = w.Close() }()

	go w.Run()

	newFile := filepath.Join(dir, "new.log")
	must(t, os.WriteFile(newFile, []byte("hello\n"), 0o644))

	dirID := DirectoryNodeID(dir)
	if !waitFor(t, 2*time.Second, func() bool { return inv.count(dirID) > 0 }) {
		t.Fatalf("directory entry %s was never invalidated", dirID)
	}
}

func TestWatcher_NewSubdirectoryIsWatchedAutomatically(t *testing.T) {
	dir := t.TempDir()

	inv := newFakeInvalidator()
	w, err := NewWatcher(dir, inv, nil)
	must(t, err)
	defer func() { _ = w.Close() }()

	go w.Run()

	sub := filepath.Join(dir, "sub")
	must(t, os.Mkdir(sub, 0o755))

	// Give the watcher a moment to pick up and add the new subdirectory
	// before writing into it.
	if !waitFor(t, 2*time.Second, func() bool { return inv.count(DirectoryNodeID(dir)) > 0 }) {
		t.Fatalf("parent directory entry for %s was never invalidated", dir)
	}

	nested := filepath.Join(sub, "nested.log")
	must(t, os.WriteFile(nested, []byte("x\n"), 0o644))

	fileID := FileNodeID(nested)
	if !waitFor(t, 2*time.Second, func() bool { return inv.count(fileID) > 0 }) {
		t.Fatalf("nested file entry %s was never invalidated; new subdirectory not auto-watched", fileID)
	}
}
