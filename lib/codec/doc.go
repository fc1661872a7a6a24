// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Cordon's standard CBOR encoding configuration.
//
// Cordon uses two serialization formats with a clear boundary:
//
//   - CBOR for everything that crosses a trust boundary or is signed:
//     credentials, handshake payloads, request/response envelopes,
//     enrollment messages, admin socket traffic, and on-disk state.
//   - JSON (with comments) for things humans edit and read: policy
//     documents and CLI --json output.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Cordon package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — a hard requirement for credentials, where the issuer's
// signature covers the encoded payload and any encoder variance would
// break verification.
//
// For buffer-oriented operations (credentials, files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. Wire
//     protocol types use integer keys (`cbor:"N,keyasint"`) for
//     compactness; on-disk state files use string keys.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: admin socket protocol
//     types that the CLI also renders as --json output.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract — doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
