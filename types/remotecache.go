package types

import "fmt"

// CacheProviderKind is the transport a remote cache endpoint uses.
type CacheProviderKind string

const (
	CacheProviderLocal CacheProviderKind = "local"
	CacheProviderRPC   CacheProviderKind = "rpc"
	CacheProviderHTTP  CacheProviderKind = "http_cache"
)

// CacheSelectStrategy is the endpoint selection strategy for a pool of
// remote cache endpoints, generalized from the teacher's proxy rotation
// strategies (round_robin/random/sticky) to cache endpoint routing.
type CacheSelectStrategy string

const (
	CacheSelectRoundRobin CacheSelectStrategy = "round_robin"
	CacheSelectRandom     CacheSelectStrategy = "random"
	CacheSelectSticky     CacheSelectStrategy = "sticky"
)

// CacheEndpoint is one dialable remote cache backend (e.g. one region's S3
// bucket, or one RPC cache server).
type CacheEndpoint struct {
	Kind CacheProviderKind
	// Address is a kind-specific dial target: an S3 bucket URL, an RPC
	// host:port, or an HTTP base URL.
	Address string
	// AuthToken is the bearer token used to authenticate, or empty if the
	// endpoint needs none. May be supplied directly or via AuthTokenFile.
	AuthToken string
	// AuthTokenFile, if set, names a file whose contents are the bearer
	// token. No code in this module reads CacheEndpoint's token fields; the
	// cache providers read remotecache.Endpoint, where a non-empty AuthToken
	// takes precedence over AuthTokenFile.
	AuthTokenFile string
}

// Validate validates a cache endpoint's required fields.
func (e *CacheEndpoint) Validate() error {
	switch e.Kind {
	case CacheProviderLocal, CacheProviderRPC, CacheProviderHTTP:
	default:
		return fmt.Errorf("types: invalid cache provider kind %q", e.Kind)
	}
	if e.Kind != CacheProviderLocal && e.Address == "" {
		return fmt.Errorf("types: cache endpoint of kind %q requires an address", e.Kind)
	}
	return nil
}

// CacheSticky configures sticky endpoint affinity for a pool, keyed by
// action fingerprint rather than the teacher's job/domain/origin scopes --
// there is exactly one natural sticky key in this domain.
type CacheSticky struct {
	TTLMs int64
}

// CachePool is a named, load-balanced set of remote cache endpoints.
type CachePool struct {
	Name      string
	Strategy  CacheSelectStrategy
	Endpoints []CacheEndpoint
	Sticky    *CacheSticky
}

// Validate validates a cache pool per the same hard rules the teacher
// applied to proxy pools: a name, a known strategy, at least one endpoint,
// and (if sticky) a sane sticky config.
func (p *CachePool) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("types: cache pool name is required")
	}
	switch p.Strategy {
	case CacheSelectRoundRobin, CacheSelectRandom, CacheSelectSticky:
	default:
		return fmt.Errorf("types: invalid cache pool strategy %q", p.Strategy)
	}
	if len(p.Endpoints) == 0 {
		return fmt.Errorf("types: cache pool %q must have at least one endpoint", p.Name)
	}
	for i := range p.Endpoints {
		if err := p.Endpoints[i].Validate(); err != nil {
			return fmt.Errorf("types: cache pool %q endpoint[%d]: %w", p.Name, i, err)
		}
	}
	if p.Sticky != nil && p.Sticky.TTLMs <= 0 {
		return fmt.Errorf("types: cache pool %q sticky TTL must be positive", p.Name)
	}
	return nil
}
