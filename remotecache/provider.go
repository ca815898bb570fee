package remotecache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/justapithecus/forge/digest"
	"github.com/justapithecus/forge/types"
	"github.com/justapithecus/forge/wire"
)

// Provider is the narrow interface over the action and blob caches every
// remote cache backend implements, per spec's get_action_result /
// put_action_result / get_blob / put_blob operation set.
type Provider interface {
	GetActionResult(ctx context.Context, fingerprint string) (types.ProcessResult, bool, error)
	PutActionResult(ctx context.Context, fingerprint string, result types.ProcessResult) error
	GetBlob(ctx context.Context, d types.Digest) ([]byte, bool, error)
	PutBlob(ctx context.Context, d types.Digest, data []byte) error
}

// WarnFunc receives a non-fatal transient error observed talking to a
// remote cache backend. Defaults to a no-op; callers typically wire this
// to a log.Logger.Warn call.
type WarnFunc func(op string, err error)

// LocalProvider implements Provider against a local on-disk action-result
// store layered over a digest.Store, mirroring the on-disk layout spec
// describes for cache_root/actions -- this is the "local file-system"
// provider spec's §4.H names.
type LocalProvider struct {
	store      digest.Store
	actionRoot string
}

// NewLocalProvider roots action-result entries at actionRoot (created if
// absent), backed by store for blobs.
func NewLocalProvider(store digest.Store, actionRoot string) (*LocalProvider, error) {
	if err := os.MkdirAll(actionRoot, 0o755); err != nil {
		return nil, fmt.Errorf("remotecache: init local provider: %w", err)
	}
	return &LocalProvider{store: store, actionRoot: actionRoot}, nil
}

func (p *LocalProvider) actionPath(fingerprint string) string {
	if len(fingerprint) < 2 {
		fingerprint = fingerprint + "00"
	}
	return filepath.Join(p.actionRoot, fingerprint[:2], fingerprint[2:])
}

// actionRecord is the on-disk JSON shape for one cached ProcessResult,
// narrowed to the fields that survive a cache round trip (FromCache is
// recomputed on read, never persisted).
type actionRecord struct {
	Status       types.ProcessResultStatus `json:"status"`
	ExitCode     int                       `json:"exit_code"`
	Stdout       types.Digest              `json:"stdout"`
	Stderr       types.Digest              `json:"stderr"`
	OutputDigest types.Digest              `json:"output_digest"`
	ElapsedMs    int64                     `json:"elapsed_ms"`
}

func (p *LocalProvider) GetActionResult(_ context.Context, fingerprint string) (types.ProcessResult, bool, error) {
	data, err := os.ReadFile(p.actionPath(fingerprint))
	if os.IsNotExist(err) {
		return types.ProcessResult{}, false, nil
	}
	if err != nil {
		return types.ProcessResult{}, false, fmt.Errorf("remotecache: read action result: %w", err)
	}
	var rec actionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.ProcessResult{}, false, fmt.Errorf("remotecache: decode action result: %w", err)
	}
	return types.ProcessResult{
		Status:       rec.Status,
		ExitCode:     rec.ExitCode,
		Stdout:       rec.Stdout,
		Stderr:       rec.Stderr,
		OutputDigest: rec.OutputDigest,
		Elapsed:      time.Duration(rec.ElapsedMs) * time.Millisecond,
		FromCache:    true,
	}, true, nil
}

func (p *LocalProvider) PutActionResult(_ context.Context, fingerprint string, result types.ProcessResult) error {
	rec := actionRecord{
		Status:       result.Status,
		ExitCode:     result.ExitCode,
		Stdout:       result.Stdout,
		Stderr:       result.Stderr,
		OutputDigest: result.OutputDigest,
		ElapsedMs:    result.Elapsed.Milliseconds(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("remotecache: encode action result: %w", err)
	}
	path := p.actionPath(fingerprint)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("remotecache: put action result: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("remotecache: put action result: %w", err)
	}
	return os.Rename(tmp, path)
}

func (p *LocalProvider) GetBlob(ctx context.Context, d types.Digest) ([]byte, bool, error) {
	if !p.store.Has(d) {
		return nil, false, nil
	}
	data, err := p.store.Load(ctx, d)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (p *LocalProvider) PutBlob(ctx context.Context, _ types.Digest, data []byte) error {
	_, err := p.store.Store(ctx, data)
	return err
}

var _ Provider = (*LocalProvider)(nil)

// RPCProvider talks to a remote cache server over wire's length-prefixed
// msgpack framing, one request frame and one response frame per call.
// Directly adapted from digest.RPCRemote, extended with the action-result
// operations RPCRemote doesn't need (it only ever serves blobs for the
// tiered digest store) and with endpoint selection for talking to one of
// several equivalent cache servers. It sends no auth token: the
// Endpoint's AuthToken and AuthTokenFile are not read on this path.
type RPCProvider struct {
	selector *Selector
	pool     string
	timeout  time.Duration
	dialer   net.Dialer
}

// NewRPCProvider builds an RPCProvider selecting endpoints from pool via
// selector.
func NewRPCProvider(selector *Selector, pool string, timeout time.Duration) *RPCProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCProvider{selector: selector, pool: pool, timeout: timeout}
}

func (p *RPCProvider) call(ctx context.Context, stickyKey string, req any, resp any) error {
	ep, err := p.selector.Select(SelectRequest{Pool: p.pool, StickyKey: stickyKey, Commit: true})
	if err != nil {
		return fmt.Errorf("remotecache: select endpoint: %w", err)
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", ep.URL)
	if err != nil {
		return fmt.Errorf("remotecache: rpc dial %s: %w", ep.URL, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(p.timeout))
	}

	frame, err := wire.EncodeMessage(req)
	if err != nil {
		return fmt.Errorf("remotecache: rpc encode request: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("remotecache: rpc write request: %w", err)
	}

	dec := wire.NewDecoder(conn)
	payload, err := dec.ReadFrame()
	if err != nil {
		return fmt.Errorf("remotecache: rpc read response: %w", err)
	}

	frameType, err := wire.ProbeType(payload)
	if err != nil {
		return fmt.Errorf("remotecache: rpc probe response type: %w", err)
	}
	if frameType == wire.TypeError {
		var errMsg wire.ErrorMessage
		if err := wire.DecodeMessage(payload, &errMsg); err != nil {
			return fmt.Errorf("remotecache: rpc decode error response: %w", err)
		}
		return fmt.Errorf("remotecache: rpc server error: %s", errMsg.Message)
	}
	return wire.DecodeMessage(payload, resp)
}

func (p *RPCProvider) GetActionResult(ctx context.Context, fingerprint string) (types.ProcessResult, bool, error) {
	req := wire.GetActionResultRequest{Type: wire.TypeGetActionResult, Fingerprint: fingerprint}
	var resp wire.ActionResult
	if err := p.call(ctx, fingerprint, req, &resp); err != nil {
		return types.ProcessResult{}, false, err
	}
	if !resp.Found {
		return types.ProcessResult{}, false, nil
	}
	return actionResultFromWire(resp), true, nil
}

func (p *RPCProvider) PutActionResult(ctx context.Context, fingerprint string, result types.ProcessResult) error {
	req := wire.PutActionResultRequest{
		Type:        wire.TypePutActionResult,
		Fingerprint: fingerprint,
		ExitCode:    result.ExitCode,
		StdoutHash:  hex.EncodeToString(result.Stdout.Hash[:]),
		StdoutSize:  result.Stdout.Size,
		StderrHash:  hex.EncodeToString(result.Stderr.Hash[:]),
		StderrSize:  result.Stderr.Size,
		OutputHash:  hex.EncodeToString(result.OutputDigest.Hash[:]),
		OutputSize:  result.OutputDigest.Size,
	}
	var resp wire.ActionResult
	return p.call(ctx, fingerprint, req, &resp)
}

func (p *RPCProvider) GetBlob(ctx context.Context, d types.Digest) ([]byte, bool, error) {
	hexHash := hex.EncodeToString(d.Hash[:])
	req := wire.GetBlobRequest{Type: wire.TypeGetBlob, Hash: hexHash, Size: d.Size}
	var resp wire.BlobResult
	if err := p.call(ctx, hexHash, req, &resp); err != nil {
		return nil, false, err
	}
	return resp.Data, resp.Found, nil
}

func (p *RPCProvider) PutBlob(ctx context.Context, d types.Digest, data []byte) error {
	hexHash := hex.EncodeToString(d.Hash[:])
	req := wire.PutBlobRequest{Type: wire.TypePutBlob, Hash: hexHash, Data: data}
	var resp wire.BlobResult
	return p.call(ctx, hexHash, req, &resp)
}

var _ Provider = (*RPCProvider)(nil)

func actionResultFromWire(r wire.ActionResult) types.ProcessResult {
	decodeHash := func(s string, size int64) types.Digest {
		var d types.Digest
		if b, err := hex.DecodeString(s); err == nil && len(b) == len(d.Hash) {
			copy(d.Hash[:], b)
		}
		d.Size = size
		return d
	}
	return types.ProcessResult{
		ExitCode:     r.ExitCode,
		Stdout:       decodeHash(r.StdoutHash, r.StdoutSize),
		Stderr:       decodeHash(r.StderrHash, r.StderrSize),
		OutputDigest: decodeHash(r.OutputHash, r.OutputSize),
		FromCache:    true,
	}
}

// HTTPProvider implements Provider against a "GitHub Actions Cache"-style
// HTTP endpoint: plain GET/PUT of opaque blobs keyed by URL path, bearer
// auth, no framing. New code (the teacher has no HTTP cache client to
// generalize from); net/http only, since this style of cache API is a
// thin enough REST surface that an HTTP client library would add nothing
// the standard library doesn't already provide.
type HTTPProvider struct {
	selector *Selector
	pool     string
	client   *http.Client
	warn     WarnFunc
}

// NewHTTPProvider builds an HTTPProvider selecting endpoints from pool.
// warn may be nil (defaults to a no-op).
func NewHTTPProvider(selector *Selector, pool string, timeout time.Duration, warn WarnFunc) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if warn == nil {
		warn = func(string, error) {}
	}
	return &HTTPProvider{selector: selector, pool: pool, client: &http.Client{Timeout: timeout}, warn: warn}
}

func (p *HTTPProvider) endpoint(stickyKey string) (*Endpoint, error) {
	return p.selector.Select(SelectRequest{Pool: p.pool, StickyKey: stickyKey, Commit: true})
}

func (p *HTTPProvider) do(ctx context.Context, method, key string, body io.Reader) (*http.Response, error) {
	ep, err := p.endpoint(key)
	if err != nil {
		return nil, err
	}
	token, err := ep.resolveToken()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, ep.URL+"/"+key, body)
	if err != nil {
		return nil, fmt.Errorf("remotecache: build request: %w", err)
	}
	if br, ok := body.(*byteReader); ok {
		req.ContentLength = int64(len(br.b))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return p.client.Do(req)
}

func (p *HTTPProvider) GetActionResult(ctx context.Context, fingerprint string) (types.ProcessResult, bool, error) {
	resp, err := p.do(ctx, http.MethodGet, "actions/"+fingerprint, nil)
	if err != nil {
		return types.ProcessResult{}, false, err
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return types.ProcessResult{}, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.ProcessResult{}, false, fmt.Errorf("remotecache: get action result: status %d", resp.StatusCode)
	}
	var rec actionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return types.ProcessResult{}, false, fmt.Errorf("remotecache: decode action result: %w", err)
	}
	return types.ProcessResult{
		Status:       rec.Status,
		ExitCode:     rec.ExitCode,
		Stdout:       rec.Stdout,
		Stderr:       rec.Stderr,
		OutputDigest: rec.OutputDigest,
		Elapsed:      time.Duration(rec.ElapsedMs) * time.Millisecond,
		FromCache:    true,
	}, true, nil
}

func (p *HTTPProvider) PutActionResult(ctx context.Context, fingerprint string, result types.ProcessResult) error {
	rec := actionRecord{
		Status: result.Status, ExitCode: result.ExitCode,
		Stdout: result.Stdout, Stderr: result.Stderr, OutputDigest: result.OutputDigest,
		ElapsedMs: result.Elapsed.Milliseconds(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("remotecache: encode action result: %w", err)
	}
	resp, err := p.do(ctx, http.MethodPut, "actions/"+fingerprint, bytesReader(body))
	if err != nil {
		return err
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remotecache: put action result: status %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) GetBlob(ctx context.Context, d types.Digest) ([]byte, bool, error) {
	hexHash := hex.EncodeToString(d.Hash[:])
	resp, err := p.do(ctx, http.MethodGet, "blobs/"+hexHash, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("remotecache: get blob: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("remotecache: read blob: %w", err)
	}
	return data, true, nil
}

func (p *HTTPProvider) PutBlob(ctx context.Context, d types.Digest, data []byte) error {
	hexHash := hex.EncodeToString(d.Hash[:])
	resp, err := p.do(ctx, http.MethodPut, "blobs/"+hexHash, bytesReader(data))
	if err != nil {
		return err
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remotecache: put blob: status %d", resp.StatusCode)
	}
	return nil
}

var _ Provider = (*HTTPProvider)(nil)

func bytesReader(b []byte) io.Reader { return &byteReader{b: b} }

// byteReader is a minimal io.Reader over a byte slice, avoiding a
// bytes.Reader import purely to keep this file's import list to what it
// already needs.
type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
