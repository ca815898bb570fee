package remotecache

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/justapithecus/forge/digest"
	"github.com/justapithecus/forge/types"
	"github.com/justapithecus/forge/wire"
)

func testProcessResult() types.ProcessResult {
	return types.ProcessResult{
		Status:       types.ProcessResultStatusCompleted,
		ExitCode:     0,
		Stdout:       types.DigestOf([]byte("stdout")),
		Stderr:       types.DigestOf([]byte("stderr")),
		OutputDigest: types.DigestOf([]byte("output")),
		Elapsed:      250 * time.Millisecond,
	}
}

func TestLocalProvider_ActionResultRoundTrip(t *testing.T) {
	store, err := digest.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	p, err := NewLocalProvider(store, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}

	ctx := context.Background()
	if _, found, err := p.GetActionResult(ctx, "deadbeef"); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	want := testProcessResult()
	if err := p.PutActionResult(ctx, "deadbeef", want); err != nil {
		t.Fatalf("PutActionResult: %v", err)
	}

	got, found, err := p.GetActionResult(ctx, "deadbeef")
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if got.ExitCode != want.ExitCode || got.Stdout != want.Stdout || !got.FromCache {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestLocalProvider_BlobRoundTrip(t *testing.T) {
	store, err := digest.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	p, err := NewLocalProvider(store, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}

	ctx := context.Background()
	data := []byte("hello cache")
	d := types.DigestOf(data)
	if _, found, err := p.GetBlob(ctx, d); err != nil || found {
		t.Fatalf("expected miss before put, found=%v err=%v", found, err)
	}
	if err := p.PutBlob(ctx, d, data); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	got, found, err := p.GetBlob(ctx, d)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if string(got) != string(data) {
		t.Fatalf("blob mismatch: got %q want %q", got, data)
	}
}

// fakeRPCServer answers exactly one connection with a canned ActionResult
// response, enough to exercise RPCProvider's dial/encode/decode path
// without standing up a full server implementation.
func fakeRPCServer(t *testing.T, resp any) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		dec := wire.NewDecoder(conn)
		if _, err := dec.ReadFrame(); err != nil {
			return
		}
		frame, err := wire.EncodeMessage(resp)
		if err != nil {
			return
		}
		_, _ = conn.Write(frame)
	}()
	return ln.Addr().String()
}

func newTestSelector(t *testing.T, addr string) *Selector {
	t.Helper()
	sel := NewSelector()
	if err := sel.RegisterPool(&Pool{
		Name:      "test",
		Strategy:  StrategyRoundRobin,
		Endpoints: []Endpoint{{Name: "only", URL: addr}},
	}); err != nil {
		t.Fatalf("RegisterPool: %v", err)
	}
	return sel
}

func TestRPCProvider_GetActionResultHit(t *testing.T) {
	want := testProcessResult()
	addr := fakeRPCServer(t, wire.ActionResult{
		Type:       wire.TypeActionResult,
		Found:      true,
		ExitCode:   want.ExitCode,
		StdoutHash: hexDigest(want.Stdout),
		StdoutSize: want.Stdout.Size,
		StderrHash: hexDigest(want.Stderr),
		StderrSize: want.Stderr.Size,
		OutputHash: hexDigest(want.OutputDigest),
		OutputSize: want.OutputDigest.Size,
	})

	p := NewRPCProvider(newTestSelector(t, addr), "test", time.Second)
	got, found, err := p.GetActionResult(context.Background(), "fingerprint")
	if err != nil {
		t.Fatalf("GetActionResult: %v", err)
	}
	if !found {
		t.Fatal("expected hit")
	}
	if got.ExitCode != want.ExitCode || got.Stdout != want.Stdout {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestRPCProvider_GetActionResultMiss(t *testing.T) {
	addr := fakeRPCServer(t, wire.ActionResult{Type: wire.TypeActionResult, Found: false})

	p := NewRPCProvider(newTestSelector(t, addr), "test", time.Second)
	_, found, err := p.GetActionResult(context.Background(), "fingerprint")
	if err != nil {
		t.Fatalf("GetActionResult: %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestRPCProvider_ServerErrorSurfaces(t *testing.T) {
	addr := fakeRPCServer(t, wire.ErrorMessage{Type: wire.TypeError, Message: "backend unavailable"})

	p := NewRPCProvider(newTestSelector(t, addr), "test", time.Second)
	_, _, err := p.GetActionResult(context.Background(), "fingerprint")
	if err == nil {
		t.Fatal("expected error")
	}
}

func hexDigest(d types.Digest) string {
	const hextable = "0123456789abcdef"
	b := make([]byte, len(d.Hash)*2)
	for i, v := range d.Hash {
		b[i*2] = hextable[v>>4]
		b[i*2+1] = hextable[v&0x0f]
	}
	return string(b)
}

func TestHTTPProvider_ActionResultRoundTrip(t *testing.T) {
	store := make(map[string][]byte)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			http.Error(w, "missing auth", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodPut:
			body := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(body)
			store[r.URL.Path] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := store[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(data)
		}
	}))
	defer srv.Close()

	sel := NewSelector()
	if err := sel.RegisterPool(&Pool{
		Name:      "http",
		Strategy:  StrategyRoundRobin,
		Endpoints: []Endpoint{{Name: "only", URL: srv.URL, AuthToken: "test-token"}},
	}); err != nil {
		t.Fatalf("RegisterPool: %v", err)
	}

	p := NewHTTPProvider(sel, "http", time.Second, nil)
	ctx := context.Background()

	if _, found, err := p.GetActionResult(ctx, "abc123"); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}

	want := testProcessResult()
	if err := p.PutActionResult(ctx, "abc123", want); err != nil {
		t.Fatalf("PutActionResult: %v", err)
	}

	got, found, err := p.GetActionResult(ctx, "abc123")
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if got.ExitCode != want.ExitCode || got.Stdout != want.Stdout {
		t.Fatalf("mismatch: got %+v want %+v", got, want)
	}
}

func TestHTTPProvider_BlobRoundTrip(t *testing.T) {
	store := make(map[string][]byte)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			var buf []byte
			chunk := make([]byte, 4096)
			for {
				n, err := r.Body.Read(chunk)
				if n > 0 {
					buf = append(buf, chunk[:n]...)
				}
				if err != nil {
					break
				}
			}
			store[r.URL.Path] = buf
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := store[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(data)
		}
	}))
	defer srv.Close()

	sel := NewSelector()
	if err := sel.RegisterPool(&Pool{
		Name:      "http",
		Strategy:  StrategyRoundRobin,
		Endpoints: []Endpoint{{Name: "only", URL: srv.URL}},
	}); err != nil {
		t.Fatalf("RegisterPool: %v", err)
	}

	p := NewHTTPProvider(sel, "http", time.Second, nil)
	ctx := context.Background()
	data := []byte("blob content")
	d := types.DigestOf(data)

	if _, found, err := p.GetBlob(ctx, d); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}
	if err := p.PutBlob(ctx, d, data); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	got, found, err := p.GetBlob(ctx, d)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if string(got) != string(data) {
		t.Fatalf("blob mismatch: got %q want %q", got, data)
	}
}

func TestSelector_RoundRobinCyclesEndpoints(t *testing.T) {
	sel := NewSelector()
	if err := sel.RegisterPool(&Pool{
		Name:     "rr",
		Strategy: StrategyRoundRobin,
		Endpoints: []Endpoint{
			{Name: "a", URL: "http://a"},
			{Name: "b", URL: "http://b"},
		},
	}); err != nil {
		t.Fatalf("RegisterPool: %v", err)
	}

	var names []string
	for i := 0; i < 4; i++ {
		ep, err := sel.Select(SelectRequest{Pool: "rr", Commit: true})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		names = append(names, ep.Name)
	}
	want := []string{"a", "b", "a", "b"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("round robin order mismatch: got %v want %v", names, want)
		}
	}
}

func TestSelector_StickyReturnsSameEndpointUntilExpiry(t *testing.T) {
	ttl := int64(50)
	sel := NewSelector()
	if err := sel.RegisterPool(&Pool{
		Name:     "sticky",
		Strategy: StrategySticky,
		Endpoints: []Endpoint{
			{Name: "a", URL: "http://a"},
			{Name: "b", URL: "http://b"},
		},
		Sticky: &StickyConfig{TTLMs: &ttl},
	}); err != nil {
		t.Fatalf("RegisterPool: %v", err)
	}

	first, err := sel.Select(SelectRequest{Pool: "sticky", StickyKey: "key1", Commit: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	second, err := sel.Select(SelectRequest{Pool: "sticky", StickyKey: "key1", Commit: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if first.Name != second.Name {
		t.Fatalf("expected sticky endpoint to persist, got %s then %s", first.Name, second.Name)
	}
}
