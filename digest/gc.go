package digest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/forge/types"
)

// GCConfig controls a Local store's garbage collection pass.
type GCConfig struct {
	// LiveRoots are the digests reachable from live action-cache entries
	// and named session output sets; everything else is eligible for
	// collection.
	LiveRoots []types.Digest
	// LoadDirectory resolves a directory digest to its entries so GC can
	// walk a live tree rather than just its root blob. Supply the store's
	// own LoadDirectory.
	LoadDirectory func(d types.Digest) (types.Directory, error)
	// GracePeriod delays unlinking a tombstoned blob so a reader that
	// already resolved a path before the sweep started has time to finish
	// reading it, instead of racing a concurrent delete.
	GracePeriod time.Duration
}

// GCStats summarizes one Sweep.
type GCStats struct {
	Tombstoned int
	Unlinked   int
	Bytes      int64
}

// Sweep marks every blob under root not reachable from cfg.LiveRoots as a
// tombstone (renamed with a ".tombstone-<unix>" suffix) and unlinks
// tombstones older than cfg.GracePeriod from a prior sweep. Two-phase
// tombstone-then-unlink keeps a concurrent reader that opened a file
// before this sweep started safe: the rename doesn't invalidate its
// already-open file descriptor, and the unlink only removes entries old
// enough that no such reader should still be in flight.
func (s *Local) Sweep(cfg GCConfig) (GCStats, error) {
	live, err := s.reachable(cfg)
	if err != nil {
		return GCStats{}, err
	}

	var stats GCStats
	blobsDir := filepath.Join(s.root, "blobs")
	now := time.Now()

	err = filepath.WalkDir(blobsDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		name := filepath.Base(path)
		if isTombstone(name) {
			ts, ok := tombstoneTime(name)
			if ok && now.Sub(ts) > cfg.GracePeriod {
				info, statErr := os.Stat(path)
				if statErr == nil {
					if err := os.Remove(path); err == nil {
						stats.Unlinked++
						stats.Bytes += info.Size()
					}
				}
			}
			return nil
		}
		if live[name] {
			return nil
		}
		tombstonePath := fmt.Sprintf("%s.tombstone-%d", path, now.Unix())
		if err := os.Rename(path, tombstonePath); err == nil {
			stats.Tombstoned++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("digest: gc sweep: %w", err)
	}
	return stats, nil
}

func (s *Local) reachable(cfg GCConfig) (map[string]bool, error) {
	live := make(map[string]bool)
	var walk func(d types.Digest) error
	walk = func(d types.Digest) error {
		hexHash := fmt.Sprintf("%x", d.Hash)
		if live[hexHash] {
			return nil
		}
		live[hexHash] = true

		if cfg.LoadDirectory == nil {
			return nil
		}
		dir, err := cfg.LoadDirectory(d)
		if err != nil {
			// Not every live digest is a directory; a blob leaf simply
			// fails to parse as one, which is expected, not an error.
			return nil
		}
		for _, f := range dir.Files {
			live[fmt.Sprintf("%x", f.Digest.Hash)] = true
		}
		for _, sub := range dir.Dirs {
			if err := walk(sub.Digest); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range cfg.LiveRoots {
		if err := walk(root); err != nil {
			return nil, err
		}
	}
	return live, nil
}

const tombstoneMarker = ".tombstone-"

func isTombstone(name string) bool {
	return strings.Contains(name, tombstoneMarker)
}

func tombstoneTime(name string) (time.Time, bool) {
	idx := strings.LastIndex(name, tombstoneMarker)
	if idx < 0 {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(name[idx+len(tombstoneMarker):], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
