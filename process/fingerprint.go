package process

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/justapithecus/forge/types"
	"github.com/vmihailenco/msgpack/v5"
)

// canonicalRequest is the subset of a ProcessRequest that participates in
// fingerprinting, in a field order fixed by struct declaration (msgpack's
// map encoder preserves Go struct field order, unlike encoding/json, which
// only guarantees that order when MarshalJSON isn't customized -- the
// teacher's choice of msgpack for wire framing gives us this for free
// rather than requiring a hand-rolled canonical-map encoder).
type canonicalRequest struct {
	Argv              []string     `msgpack:"argv"`
	Env               [][2]string  `msgpack:"env"`
	InputDigest       string       `msgpack:"input_digest"`
	OutputFiles       []string     `msgpack:"output_files"`
	OutputDirectories []string     `msgpack:"output_directories"`
	Platform          string       `msgpack:"platform"`
	TimeoutNanos      int64        `msgpack:"timeout_ns"`
	CacheScope        types.CacheScope `msgpack:"cache_scope"`
	CacheKeySalt      string       `msgpack:"cache_key_salt"`
}

// Fingerprint computes the stable cache key for req: a sha256 hash over a
// canonical msgpack encoding of every field that affects the process's
// observable behavior.
func Fingerprint(req types.ProcessRequest) (string, error) {
	canon := canonicalRequest{
		Argv:              req.Argv,
		Env:               req.EnvPairs(),
		InputDigest:       req.InputDigest.String(),
		OutputFiles:       append([]string(nil), req.OutputFiles...),
		OutputDirectories: append([]string(nil), req.OutputDirectories...),
		Platform:          req.Platform.String(),
		TimeoutNanos:      int64(req.Timeout),
		CacheScope:        req.CacheScope,
		CacheKeySalt:      req.CacheKeySalt,
	}

	payload, err := msgpack.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("process: fingerprint encode: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
