package digest

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/justapithecus/forge/types"
	"github.com/justapithecus/forge/wire"
)

// RPCRemote is a Remote backend that talks to a remote cache server over
// the wire package's length-prefixed msgpack framing: one request frame,
// one response frame, per call, over a freshly dialed TCP connection.
// Grounded on ipc/frame.go's FrameDecoder/EncodeFrame discipline, wired to
// a net.Conn instead of a child process's stdio pipe.
type RPCRemote struct {
	addr    string
	dialer  net.Dialer
	timeout time.Duration
}

// NewRPCRemote builds an RPCRemote dialing addr (host:port) for each call.
func NewRPCRemote(addr string, timeout time.Duration) *RPCRemote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCRemote{addr: addr, timeout: timeout}
}

func (r *RPCRemote) call(ctx context.Context, req any, resp any) error {
	conn, err := r.dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("digest: rpc dial %s: %w", r.addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(r.timeout))
	}

	frame, err := wire.EncodeMessage(req)
	if err != nil {
		return fmt.Errorf("digest: rpc encode request: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("digest: rpc write request: %w", err)
	}

	dec := wire.NewDecoder(conn)
	payload, err := dec.ReadFrame()
	if err != nil {
		return fmt.Errorf("digest: rpc read response: %w", err)
	}

	frameType, err := wire.ProbeType(payload)
	if err != nil {
		return fmt.Errorf("digest: rpc probe response type: %w", err)
	}
	if frameType == wire.TypeError {
		var errMsg wire.ErrorMessage
		if err := wire.DecodeMessage(payload, &errMsg); err != nil {
			return fmt.Errorf("digest: rpc decode error response: %w", err)
		}
		return fmt.Errorf("digest: rpc server error: %s", errMsg.Message)
	}

	return wire.DecodeMessage(payload, resp)
}

// Get fetches a blob by digest from the remote server.
func (r *RPCRemote) Get(ctx context.Context, d types.Digest) ([]byte, error) {
	hexHash := fmt.Sprintf("%x", d.Hash)
	req := wire.GetBlobRequest{Type: wire.TypeGetBlob, Hash: hexHash, Size: d.Size}
	var resp wire.BlobResult
	if err := r.call(ctx, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, types.ErrDigestNotFound
	}
	return resp.Data, nil
}

// Put uploads a blob to the remote server.
func (r *RPCRemote) Put(ctx context.Context, d types.Digest, data []byte) error {
	hexHash := fmt.Sprintf("%x", d.Hash)
	req := wire.PutBlobRequest{Type: wire.TypePutBlob, Hash: hexHash, Data: data}
	var resp wire.BlobResult
	return r.call(ctx, req, &resp)
}
