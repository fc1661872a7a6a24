// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the byte-level protocol between Cordon peers:
// the outer frame format and the envelope types carried inside frames.
//
// A connection is a sequence of frames. Each frame is a 1-byte kind,
// a 4-byte big-endian payload length, and the payload, capped at 16
// MiB. The first three frames on a fresh connection are the secure
// channel handshake (HandshakeHello, HandshakeHello, HandshakeConfirm
// as plaintext CBOR); every frame after that carries AEAD ciphertext
// whose plaintext is a CBOR Request or Response envelope.
//
// Envelope types use integer-keyed CBOR (Core Deterministic Encoding,
// lib/codec) so encodings are compact and byte-stable. This package
// has no cryptography and no I/O beyond frame reads and writes; the
// handshake state machine and the encryption live in transport.
package wire
