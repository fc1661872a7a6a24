// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/cordon-foundation/cordon/lib/ref"
)

// Identity is the public half of a Cordon identity: an Ed25519 public
// key and the peer ID derived from it. Identities are immutable after
// construction; the zero value is invalid (use IsZero).
type Identity struct {
	publicKey ed25519.PublicKey
	peerID    ref.PeerID
}

// FromPublicKey builds an Identity from a raw Ed25519 public key,
// deriving the peer ID. The key bytes are copied; the caller keeps
// ownership of publicKey.
func FromPublicKey(publicKey ed25519.PublicKey) (Identity, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return Identity{}, fmt.Errorf("identity: public key has %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	peerID, err := ref.PeerIDFromFingerprint(Fingerprint(publicKey))
	if err != nil {
		return Identity{}, fmt.Errorf("identity: deriving peer ID: %w", err)
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, publicKey)
	return Identity{publicKey: key, peerID: peerID}, nil
}

// Fingerprint returns the raw fingerprint of a public key: its BLAKE3
// hash truncated to ref.FingerprintSize bytes.
func Fingerprint(publicKey ed25519.PublicKey) []byte {
	sum := blake3.Sum256(publicKey)
	return sum[:ref.FingerprintSize]
}

// PublicKey returns a copy of the Ed25519 public key.
func (id Identity) PublicKey() ed25519.PublicKey {
	key := make(ed25519.PublicKey, len(id.publicKey))
	copy(key, id.publicKey)
	return key
}

// PeerID returns the identity's derived peer ID.
func (id Identity) PeerID() ref.PeerID { return id.peerID }

// IsZero reports whether the Identity is the zero value.
func (id Identity) IsZero() bool { return len(id.publicKey) == 0 }

// Equal reports whether two identities carry the same public key.
func (id Identity) Equal(other Identity) bool {
	return bytes.Equal(id.publicKey, other.publicKey)
}

// Verify reports whether signature is a valid Ed25519 signature of
// message under this identity's public key. Never panics; returns
// false for a zero identity or malformed signature.
func (id Identity) Verify(message, signature []byte) bool {
	return VerifySignature(id.publicKey, message, signature)
}

// VerifySignature reports whether signature is a valid Ed25519
// signature of message under publicKey. Unlike ed25519.Verify, it
// never panics: a key or signature of the wrong length returns false.
func VerifySignature(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}
