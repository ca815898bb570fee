// Package types defines the core domain types shared across the engine:
// the type system used for rule selection, digests and process requests,
// session/query identity, and the typed error taxonomy.
package types

// Version is the canonical engine version, referenced by the wire frame
// header and by cache-key namespacing so that entries written by
// incompatible versions never collide.
const Version = "0.1.0"
