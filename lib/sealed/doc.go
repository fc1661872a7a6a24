// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for Cordon
// secret material. It wraps filippo.io/age for the specific
// operations Cordon needs: generate x25519 keypairs, encrypt to
// public-key recipients or a passphrase, and decrypt.
//
// Ciphertext is base64-encoded so it can travel in text files and
// terminals. Callers pass plaintext []byte to [Encrypt] and receive a
// base64 string; [Decrypt] accepts a base64 string and returns
// plaintext. Private keys, passphrases, and decrypted plaintext are
// carried in [secret.Buffer] values backed by mmap memory outside the
// Go heap (locked against swap, excluded from core dumps, zeroed on
// Close).
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair in a secret.Buffer
//   - [Encrypt] / [Decrypt] -- x25519 recipient sealing
//   - [EncryptWithPassphrase] / [DecryptWithPassphrase] -- scrypt
//     passphrase sealing
//   - [ParsePublicKey] / [ParsePrivateKey] -- key validation
//
// Used by lib/identity (sealed identity export/import) and the
// authority CLI (sealing enrollment codes for out-of-band delivery to
// operators).
//
// Depends on lib/secret for secure memory allocation.
package sealed
