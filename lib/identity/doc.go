// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity implements Cordon's cryptographic identities.
//
// An identity is an Ed25519 keypair. The public half travels as an
// [Identity]: the public key plus its derived [ref.PeerID] — "cdn1"
// followed by the base58 encoding of the truncated BLAKE3 hash of the
// key. The private half is a [PrivateIdentity], which keeps the
// 32-byte Ed25519 seed in mmap-protected memory (lib/secret) and
// reconstructs the signing key only for the duration of each Sign
// call.
//
// Construction paths:
//
//   - [Generate] -- fresh identity from crypto/rand
//   - [FromSeed] -- deterministic, for restores and tests
//   - [FromMnemonic] -- restore from a BIP-39 phrase (24 words)
//   - [Load] / [LoadOrGenerate] -- node state directory persistence
//
// [Store] is an append-only registry of identities observed from
// peers. First write wins; a second public key under an existing peer
// ID is rejected, since two keys hashing to one fingerprint can only
// mean forgery (or a broken hash).
//
// Verification never panics: [VerifySignature] and [Identity.Verify]
// return false for malformed keys or signatures of any length.
package identity
