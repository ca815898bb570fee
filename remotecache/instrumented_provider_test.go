package remotecache

import (
	"context"
	"errors"
	"testing"

	"github.com/justapithecus/forge/metrics"
	"github.com/justapithecus/forge/types"
)

// stubProvider is a test double whose return values are set directly by
// the test, and whose call counts are recorded for assertions.
type stubProvider struct {
	actionResult types.ProcessResult
	actionFound  bool
	actionErr    error
	blobData     []byte
	blobFound    bool
	blobErr      error
	putErr       error

	getActionCalls int
	putActionCalls int
	getBlobCalls   int
	putBlobCalls   int
}

func (s *stubProvider) GetActionResult(_ context.Context, _ string) (types.ProcessResult, bool, error) {
	s.getActionCalls++
	return s.actionResult, s.actionFound, s.actionErr
}

func (s *stubProvider) PutActionResult(_ context.Context, _ string, _ types.ProcessResult) error {
	s.putActionCalls++
	return s.putErr
}

func (s *stubProvider) GetBlob(_ context.Context, _ types.Digest) ([]byte, bool, error) {
	s.getBlobCalls++
	return s.blobData, s.blobFound, s.blobErr
}

func (s *stubProvider) PutBlob(_ context.Context, _ types.Digest, _ []byte) error {
	s.putBlobCalls++
	return s.putErr
}

func TestInstrumentedProvider_GetActionResultHit(t *testing.T) {
	inner := &stubProvider{actionFound: true}
	collector := metrics.NewCollector("local", "local", "rt-001")
	p := NewInstrumentedProvider(inner, collector)

	_, found, err := p.GetActionResult(context.Background(), "abc")
	if err != nil || !found {
		t.Fatalf("GetActionResult() = (_, %v, %v), want (_, true, nil)", found, err)
	}

	snap := collector.Snapshot()
	if snap.RemoteCacheHits != 1 {
		t.Errorf("RemoteCacheHits = %d, want 1", snap.RemoteCacheHits)
	}
	if snap.RemoteCacheMisses != 0 || snap.RemoteCacheErrors != 0 {
		t.Errorf("unexpected misses/errors: %+v", snap)
	}
	if inner.getActionCalls != 1 {
		t.Errorf("inner.getActionCalls = %d, want 1", inner.getActionCalls)
	}
}

func TestInstrumentedProvider_GetActionResultMiss(t *testing.T) {
	inner := &stubProvider{actionFound: false}
	collector := metrics.NewCollector("local", "local", "rt-001")
	p := NewInstrumentedProvider(inner, collector)

	_, found, err := p.GetActionResult(context.Background(), "abc")
	if err != nil || found {
		t.Fatalf("GetActionResult() = (_, %v, %v), want (_, false, nil)", found, err)
	}

	snap := collector.Snapshot()
	if snap.RemoteCacheMisses != 1 {
		t.Errorf("RemoteCacheMisses = %d, want 1", snap.RemoteCacheMisses)
	}
	if snap.RemoteCacheHits != 0 || snap.RemoteCacheErrors != 0 {
		t.Errorf("unexpected hits/errors: %+v", snap)
	}
}

func TestInstrumentedProvider_GetActionResultError(t *testing.T) {
	wantErr := errors.New("connection refused")
	inner := &stubProvider{actionErr: wantErr}
	collector := metrics.NewCollector("local", "local", "rt-001")
	p := NewInstrumentedProvider(inner, collector)

	_, _, err := p.GetActionResult(context.Background(), "abc")
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetActionResult() err = %v, want %v", err, wantErr)
	}

	snap := collector.Snapshot()
	if snap.RemoteCacheErrors != 1 {
		t.Errorf("RemoteCacheErrors = %d, want 1", snap.RemoteCacheErrors)
	}
	if snap.RemoteCacheHits != 0 || snap.RemoteCacheMisses != 0 {
		t.Errorf("unexpected hits/misses: %+v", snap)
	}
}

func TestInstrumentedProvider_PutActionResultSuccessAndFailure(t *testing.T) {
	inner := &stubProvider{}
	collector := metrics.NewCollector("local", "local", "rt-001")
	p := NewInstrumentedProvider(inner, collector)

	if err := p.PutActionResult(context.Background(), "abc", types.ProcessResult{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inner.putErr = errors.New("disk full")
	if err := p.PutActionResult(context.Background(), "def", types.ProcessResult{}); err == nil {
		t.Fatal("expected error")
	}

	snap := collector.Snapshot()
	if snap.RemoteCachePuts != 1 {
		t.Errorf("RemoteCachePuts = %d, want 1", snap.RemoteCachePuts)
	}
	if snap.RemoteCacheErrors != 1 {
		t.Errorf("RemoteCacheErrors = %d, want 1", snap.RemoteCacheErrors)
	}
}

func TestInstrumentedProvider_GetBlobAndPutBlob(t *testing.T) {
	inner := &stubProvider{blobFound: true, blobData: []byte("hello")}
	collector := metrics.NewCollector("local", "local", "rt-001")
	p := NewInstrumentedProvider(inner, collector)

	data, found, err := p.GetBlob(context.Background(), types.Digest{})
	if err != nil || !found || string(data) != "hello" {
		t.Fatalf("GetBlob() = (%q, %v, %v)", data, found, err)
	}

	if err := p.PutBlob(context.Background(), types.Digest{}, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := collector.Snapshot()
	if snap.RemoteCacheHits != 1 {
		t.Errorf("RemoteCacheHits = %d, want 1", snap.RemoteCacheHits)
	}
	if snap.RemoteCachePuts != 1 {
		t.Errorf("RemoteCachePuts = %d, want 1", snap.RemoteCachePuts)
	}
}
