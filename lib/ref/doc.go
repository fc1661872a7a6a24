// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable reference types for
// the names that flow through Cordon: peer identifiers, peer names,
// and request methods.
//
// All constructors validate their inputs and return errors for invalid
// values. Once constructed, a ref is immutable — accessor methods
// return the stored string at zero allocation cost. The zero value of
// every type is invalid; use IsZero to check.
//
//   - [PeerID] is the cryptographic identifier of an identity:
//     "cdn1" followed by the base58 encoding of the truncated BLAKE3
//     hash of the identity's public key. lib/identity derives these;
//     ref validates and carries them.
//   - [PeerName] is a human-assigned routing name for a peer
//     (e.g., "sensor/alpha"), used in resolver tables and config.
//   - [Method] names an operation a peer exposes
//     (e.g., "sensor/read"). Policy documents key on method patterns.
//
// All three serialize as their canonical string form via
// encoding.TextMarshaler, in both JSON and CBOR.
package ref
