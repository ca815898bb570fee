package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/justapithecus/forge/types"
)

// Leaf output types for the two kinds of filesystem Entry the watcher
// invalidates. Spec names these only informally ("the leaf 'file' and
// 'directory listing' Entries"); forge fixes their Rule/Output identity
// here so FileNodeID/DirectoryNodeID give a stable NodeID per path without
// needing a registered rule body -- these are intrinsics of the engine's
// filesystem view, not ordinary rules.
const (
	fileOutput      types.Type = "forge/session.FileContent"
	directoryOutput types.Type = "forge/session.DirectoryListing"
)

// FileNodeID derives the NodeID of the leaf file-content Entry for path.
// The path is folded into the RuleID itself because these leaf Entries
// are identified against an empty ParamSet: NodeID derivation hashes the
// Rule, the Output and the live Params, and with no Params the RuleID is
// what keeps two different paths on different NodeIDs.
func FileNodeID(path string) types.NodeID {
	instance := types.RuleInstance{Rule: types.RuleID("builtin.read_file:" + path), Output: fileOutput}
	empty, _ := types.NewParamSet()
	return types.NewNodeID(instance, empty)
}

// DirectoryNodeID derives the NodeID of the leaf directory-listing Entry
// for path, the same way FileNodeID does for file content.
func DirectoryNodeID(path string) types.NodeID {
	instance := types.RuleInstance{Rule: types.RuleID("builtin.list_directory:" + path), Output: directoryOutput}
	empty, _ := types.NewParamSet()
	return types.NewNodeID(instance, empty)
}

// Invalidator is the subset of Runtime a Watcher needs: marking a single
// NodeID Dirty. Narrowed to an interface so watcher tests don't need a
// full Runtime.
type Invalidator interface {
	Invalidate(id types.NodeID)
}

// Watcher observes a project root and invalidates the leaf file/directory
// Entries affected by each change, so the next Session to demand them
// recomputes rather than reusing a stale Completed value. Directly
// adapted from the teacher's fsnotify-based tail ingester (internal/
// ingester/tail/ingester.go): the same watch-parent-directories-for-
// creation plus per-event dispatch loop, generalized from "read new lines
// appended to a tailed file" to "invalidate the Entry a changed path
// backs."
//
// The Watcher applies each invalidation to the Runtime's shared graph as
// soon as its event arrives and does not know which Sessions are open. It
// does not hold changes back until running Sessions close, so a Query in
// an already open Session that demands an invalidated Entry afterwards
// recomputes it.
type Watcher struct {
	root string
	inv  Invalidator
	log  *slog.Logger

	fs *fsnotify.Watcher

	mu      sync.Mutex
	closed  bool
	watched map[string]bool
}

// NewWatcher opens an fsnotify watcher rooted at root, recursively adding
// every directory beneath it.
func NewWatcher(root string, inv Invalidator, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session: open filesystem watcher: %w", err)
	}

	w := &Watcher{root: root, inv: inv, log: logger, fs: fs, watched: make(map[string]bool)}
	if err := w.addTree(root); err != nil {
		_ = fs.Close()
		return nil, err
	}
	return w, nil
}

// addTree walks dir and adds it plus every subdirectory to the fsnotify
// watch list, mirroring watchDirsForPatterns' parent-directory watching
// habit but recursively, since forge watches a whole project root rather
// than a fixed set of glob patterns.
func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.log.Warn("session: watch walk error", "path", path, "error", err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			w.log.Warn("session: failed to watch directory", "dir", path, "error", err)
			return nil
		}
		w.mu.Lock()
		w.watched[path] = true
		w.mu.Unlock()
		return nil
	})
}

// Run processes filesystem events until ctx-equivalent Close is called.
// Call it in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("session: watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.inv.Invalidate(FileNodeID(event.Name))
	w.inv.Invalidate(DirectoryNodeID(filepath.Dir(event.Name)))

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			already := w.watched[event.Name]
			w.mu.Unlock()
			if !already {
				if err := w.addTree(event.Name); err != nil {
					w.log.Warn("session: failed to watch new directory", "dir", event.Name, "error", err)
				}
			}
		}
	}
}

// Close stops the watcher and releases its underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return w.fs.Close()
}
