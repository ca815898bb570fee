package remotecache

import (
	"context"

	"github.com/justapithecus/forge/metrics"
	"github.com/justapithecus/forge/types"
)

// InstrumentedProvider wraps a Provider and records hit/miss/put/error
// counters on a metrics.Collector. Directly adapted from
// lode.InstrumentedSink, which wraps a policy.Sink the same way to record
// write success/failure: here the decorated calls are cache lookups and
// writes instead of storage writes.
type InstrumentedProvider struct {
	inner     Provider
	collector *metrics.Collector
}

// NewInstrumentedProvider wraps inner with metrics instrumentation.
func NewInstrumentedProvider(inner Provider, collector *metrics.Collector) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner, collector: collector}
}

// GetActionResult delegates to the inner Provider and records a hit, a
// miss, or an error.
func (p *InstrumentedProvider) GetActionResult(ctx context.Context, fingerprint string) (types.ProcessResult, bool, error) {
	result, found, err := p.inner.GetActionResult(ctx, fingerprint)
	switch {
	case err != nil:
		p.collector.IncRemoteCacheError()
	case found:
		p.collector.IncRemoteCacheHit()
	default:
		p.collector.IncRemoteCacheMiss()
	}
	return result, found, err
}

// PutActionResult delegates to the inner Provider and records a put or an
// error.
func (p *InstrumentedProvider) PutActionResult(ctx context.Context, fingerprint string, result types.ProcessResult) error {
	err := p.inner.PutActionResult(ctx, fingerprint, result)
	if err != nil {
		p.collector.IncRemoteCacheError()
	} else {
		p.collector.IncRemoteCachePut()
	}
	return err
}

// GetBlob delegates to the inner Provider and records a hit, a miss, or
// an error.
func (p *InstrumentedProvider) GetBlob(ctx context.Context, d types.Digest) ([]byte, bool, error) {
	data, found, err := p.inner.GetBlob(ctx, d)
	switch {
	case err != nil:
		p.collector.IncRemoteCacheError()
	case found:
		p.collector.IncRemoteCacheHit()
	default:
		p.collector.IncRemoteCacheMiss()
	}
	return data, found, err
}

// PutBlob delegates to the inner Provider and records a put or an error.
func (p *InstrumentedProvider) PutBlob(ctx context.Context, d types.Digest, data []byte) error {
	err := p.inner.PutBlob(ctx, d, data)
	if err != nil {
		p.collector.IncRemoteCacheError()
	} else {
		p.collector.IncRemoteCachePut()
	}
	return err
}

// Verify InstrumentedProvider implements Provider.
var _ Provider = (*InstrumentedProvider)(nil)
