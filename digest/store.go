// Package digest implements the content-addressed store (component A): a
// local on-disk blob/directory store with atomic writes, optional remote
// backends, and mark-and-sweep garbage collection.
package digest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/justapithecus/forge/types"
)

// Store is the interface the rest of the engine programs against; Local
// satisfies it directly and Tiered composes Local with a Remote backend.
type Store interface {
	// Has reports whether d is present locally (no network round trip).
	Has(d types.Digest) bool
	// Load reads the content addressed by d. Returns types.ErrDigestNotFound
	// if absent from every configured tier.
	Load(ctx context.Context, d types.Digest) ([]byte, error)
	// Store writes data, returning its Digest.
	Store(ctx context.Context, data []byte) (types.Digest, error)
	// LoadDirectory reads and parses the Directory addressed by d.
	LoadDirectory(ctx context.Context, d types.Digest) (types.Directory, error)
	// StoreDirectory writes dir's canonical form, returning its Digest.
	StoreDirectory(ctx context.Context, dir types.Directory) (types.Digest, error)
}

// Local is a filesystem-backed content-addressed store. Blobs are
// partitioned by the first two hex characters of their hash to keep any
// one directory from accumulating too many entries, the same sharding
// convention git and bazel-remote use.
type Local struct {
	root string

	mu sync.Mutex
}

// NewLocal opens (creating if needed) a Local store rooted at root.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("digest: init local store: %w", err)
	}
	return &Local{root: root}, nil
}

func (s *Local) blobPath(d types.Digest) string {
	hexHash := fmt.Sprintf("%x", d.Hash)
	return filepath.Join(s.root, "blobs", hexHash[:2], hexHash)
}

// Has reports whether d's blob file exists locally.
func (s *Local) Has(d types.Digest) bool {
	_, err := os.Stat(s.blobPath(d))
	return err == nil
}

// Load reads the blob addressed by d.
func (s *Local) Load(_ context.Context, d types.Digest) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrDigestNotFound
		}
		return nil, fmt.Errorf("digest: load %s: %w", d, err)
	}
	return data, nil
}

// Store writes data under its digest, idempotently: an existing blob with
// the same digest is left untouched rather than rewritten.
func (s *Local) Store(_ context.Context, data []byte) (types.Digest, error) {
	d := types.DigestOf(data)
	path := s.blobPath(d)
	if _, err := os.Stat(path); err == nil {
		return d, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.Digest{}, fmt.Errorf("digest: store %s: %w", d, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return types.Digest{}, fmt.Errorf("digest: store %s: %w", d, err)
	}
	return d, nil
}

// LoadDirectory loads and parses the Directory addressed by d.
func (s *Local) LoadDirectory(ctx context.Context, d types.Digest) (types.Directory, error) {
	data, err := s.Load(ctx, d)
	if err != nil {
		return types.Directory{}, err
	}
	return parseDirectory(data)
}

// StoreDirectory canonicalizes dir and stores its serialized form.
func (s *Local) StoreDirectory(ctx context.Context, dir types.Directory) (types.Digest, error) {
	return s.Store(ctx, dir.Sorted().CanonicalBytes())
}

// writeAtomic writes data to a temp file in the same directory as path and
// renames it into place, so a concurrent reader never observes a
// partially-written blob -- the same discipline the teacher's
// lode.LodeClient applies (chunks committed, then renamed into place)
// before any reader can see a dataset segment.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// CopyInto materializes blob d into w, for callers that want to stream
// rather than buffer (e.g. sandbox population of large files).
func CopyInto(ctx context.Context, s Store, d types.Digest, w io.Writer) error {
	data, err := s.Load(ctx, d)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
