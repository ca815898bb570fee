package digest

import (
	"context"
	"fmt"

	"github.com/justapithecus/forge/types"
)

// Remote is the narrow interface a remote backend (S3Remote, RPCRemote)
// satisfies: byte-level get/put keyed by digest, with no directory-tree
// awareness -- Tiered builds directory semantics on top by storing the
// canonical serialized form like any other blob.
type Remote interface {
	Get(ctx context.Context, d types.Digest) ([]byte, error)
	Put(ctx context.Context, d types.Digest, data []byte) error
}

// Tiered composes a Local store (authoritative for Has/fast paths) with an
// optional Remote backend consulted on local misses and populated on local
// writes, so a warm local cache never pays network cost and a cold one
// still finds content another machine already produced.
type Tiered struct {
	local  *Local
	remote Remote
}

// NewTiered wraps local with remote. remote may be nil, in which case
// Tiered behaves exactly like local alone.
func NewTiered(local *Local, remote Remote) *Tiered {
	return &Tiered{local: local, remote: remote}
}

// Has reports local presence only; remote presence requires a round trip
// callers make explicitly via Load.
func (t *Tiered) Has(d types.Digest) bool {
	return t.local.Has(d)
}

// Load tries the local tier first, falling back to remote and writing
// through to local on a remote hit.
func (t *Tiered) Load(ctx context.Context, d types.Digest) ([]byte, error) {
	data, err := t.local.Load(ctx, d)
	if err == nil {
		return data, nil
	}
	if err != types.ErrDigestNotFound || t.remote == nil {
		return nil, err
	}

	data, rerr := t.remote.Get(ctx, d)
	if rerr != nil {
		return nil, rerr
	}
	if _, werr := t.local.Store(ctx, data); werr != nil {
		return nil, fmt.Errorf("digest: write-through after remote hit: %w", werr)
	}
	return data, nil
}

// Store writes to local, then (if configured) asynchronously best-effort
// pushes to remote. Remote push failures never fail the call -- a cache
// miss on another machine is a perf hit, not a correctness issue.
func (t *Tiered) Store(ctx context.Context, data []byte) (types.Digest, error) {
	d, err := t.local.Store(ctx, data)
	if err != nil {
		return types.Digest{}, err
	}
	if t.remote != nil {
		go func() {
			_ = t.remote.Put(context.Background(), d, data)
		}()
	}
	return d, nil
}

// LoadDirectory loads and parses the Directory addressed by d.
func (t *Tiered) LoadDirectory(ctx context.Context, d types.Digest) (types.Directory, error) {
	data, err := t.Load(ctx, d)
	if err != nil {
		return types.Directory{}, err
	}
	return parseDirectory(data)
}

// StoreDirectory canonicalizes dir and stores its serialized form.
func (t *Tiered) StoreDirectory(ctx context.Context, dir types.Directory) (types.Digest, error) {
	return t.Store(ctx, dir.Sorted().CanonicalBytes())
}

var _ Store = (*Tiered)(nil)
var _ Store = (*Local)(nil)
