// Package wire implements the length-prefixed msgpack frame format shared
// by the digest store's RPC backend and the remote cache adapter: every
// frame is a 4-byte big-endian payload length followed by a msgpack-encoded
// map, discriminated by a "type" field probed without a full unmarshal.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - LengthPrefixSize).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Frame type discriminants for the remote cache RPC wire protocol.
const (
	TypeGetBlob          = "get_blob"
	TypePutBlob          = "put_blob"
	TypeBlobResult       = "blob_result"
	TypeGetActionResult  = "get_action_result"
	TypePutActionResult  = "put_action_result"
	TypeActionResult     = "action_result"
	TypeError            = "error"
)

// ErrorKind classifies frame decoding errors.
type ErrorKind int

const (
	// ErrorPartial indicates a truncated or incomplete frame.
	ErrorPartial ErrorKind = iota
	// ErrorTooLarge indicates a frame exceeding MaxFrameSize.
	ErrorTooLarge
	// ErrorDecode indicates a msgpack decoding error.
	ErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether e should terminate the connection (partial reads
// and oversized frames cannot be recovered mid-stream).
func (e *FrameError) IsFatal() bool {
	return e.Kind == ErrorPartial || e.Kind == ErrorTooLarge
}

// IsFatalFrameError reports whether err is a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe.IsFatal()
	}
	return false
}

// Decoder decodes length-prefixed msgpack frames from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder wraps r (with a bufio.Reader if it isn't already buffered, to
// avoid a syscall per frame on pipe-backed readers).
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{reader: br}
}

// ReadFrame reads one frame, returning its raw (still msgpack-encoded)
// payload. Returns io.EOF on a clean stream end, or a fatal *FrameError on
// a truncated read or oversized frame.
func (d *Decoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: ErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{Kind: ErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize)}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: ErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// ProbeType extracts the "type" field from a msgpack-encoded map without
// fully unmarshaling the payload, so dispatch doesn't pay for a second full
// decode.
func ProbeType(payload []byte) (string, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return "", err
	}
	for range n {
		key, err := dec.DecodeString()
		if err != nil {
			return "", err
		}
		if key == "type" {
			return dec.DecodeString()
		}
		if err := dec.Skip(); err != nil {
			return "", err
		}
	}
	return "", errors.New("wire: frame missing type field")
}

// Encode wraps payload with its 4-byte big-endian length prefix.
func Encode(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// EncodeMessage msgpack-marshals v and wraps it as a frame.
func EncodeMessage(v any) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode message: %w", err)
	}
	return Encode(payload), nil
}

// DecodeMessage msgpack-unmarshals payload into v, wrapping decode errors
// as a non-fatal *FrameError of kind ErrorDecode.
func DecodeMessage(payload []byte, v any) error {
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return &FrameError{Kind: ErrorDecode, Msg: "failed to decode message", Err: err}
	}
	return nil
}
