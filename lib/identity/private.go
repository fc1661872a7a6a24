// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/secret"
)

// SeedSize is the length in bytes of an identity seed (the Ed25519
// seed from which the full keypair is derived).
const SeedSize = ed25519.SeedSize

// PrivateIdentity is the private half of a Cordon identity. The seed
// lives in mmap-protected memory; the full signing key exists only
// transiently inside Sign. Call Close when the identity is no longer
// needed to zero and release the seed.
type PrivateIdentity struct {
	identity Identity
	seed     *secret.Buffer
}

// Generate creates a fresh identity from crypto/rand.
func Generate() (*PrivateIdentity, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: reading entropy: %w", err)
	}
	return FromSeed(seed)
}

// FromSeed constructs the identity determined by a 32-byte Ed25519
// seed. The seed is moved into protected memory and the caller's
// slice is zeroed, whether or not construction succeeds.
func FromSeed(seed []byte) (*PrivateIdentity, error) {
	if len(seed) != SeedSize {
		secret.Zero(seed)
		return nil, fmt.Errorf("identity: seed has %d bytes, want %d", len(seed), SeedSize)
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	public, err := FromPublicKey(privateKey.Public().(ed25519.PublicKey))
	secret.Zero(privateKey)
	if err != nil {
		secret.Zero(seed)
		return nil, err
	}

	buffer, err := secret.NewFromBytes(seed)
	if err != nil {
		return nil, fmt.Errorf("identity: protecting seed: %w", err)
	}

	return &PrivateIdentity{identity: public, seed: buffer}, nil
}

// Sign returns the Ed25519 signature of message. The signing key is
// reconstructed from the protected seed for the duration of the call
// and zeroed before returning.
func (p *PrivateIdentity) Sign(message []byte) []byte {
	privateKey := ed25519.NewKeyFromSeed(p.seed.Bytes())
	signature := ed25519.Sign(privateKey, message)
	secret.Zero(privateKey)
	return signature
}

// Public returns the public half of the identity.
func (p *PrivateIdentity) Public() Identity { return p.identity }

// PeerID returns the identity's peer ID.
func (p *PrivateIdentity) PeerID() ref.PeerID { return p.identity.PeerID() }

// Close zeros and releases the protected seed. The identity must not
// be used after Close. Idempotent.
func (p *PrivateIdentity) Close() error { return p.seed.Close() }
