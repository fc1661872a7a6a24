// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// peerIDPrefix marks the current identifier scheme. A future hash
	// or encoding change bumps the prefix so both forms can coexist.
	peerIDPrefix = "cdn1"

	// FingerprintSize is the length in bytes of the raw fingerprint
	// carried inside a PeerID: the truncated BLAKE3 hash of the
	// identity's public key.
	FingerprintSize = 16
)

// PeerID is the cryptographic identifier of a Cordon identity:
// "cdn1" followed by the base58 encoding of the 16-byte truncated
// BLAKE3 hash of the identity's Ed25519 public key.
//
// PeerID is an immutable value type, comparable with == and usable as
// a map key. The zero value is not valid; use IsZero to check.
type PeerID struct {
	id string
}

// ParsePeerID validates and wraps a raw peer ID string. Returns an
// error if the prefix is wrong or the remainder is not base58 text
// decoding to exactly FingerprintSize bytes.
func ParsePeerID(raw string) (PeerID, error) {
	if len(raw) <= len(peerIDPrefix) || raw[:len(peerIDPrefix)] != peerIDPrefix {
		return PeerID{}, fmt.Errorf("invalid peer ID %q: missing %q prefix", raw, peerIDPrefix)
	}
	decoded, err := base58.Decode(raw[len(peerIDPrefix):])
	if err != nil {
		return PeerID{}, fmt.Errorf("invalid peer ID %q: %w", raw, err)
	}
	if len(decoded) != FingerprintSize {
		return PeerID{}, fmt.Errorf("invalid peer ID %q: fingerprint is %d bytes, want %d", raw, len(decoded), FingerprintSize)
	}
	return PeerID{id: raw}, nil
}

// PeerIDFromFingerprint constructs a PeerID from a raw fingerprint.
// The fingerprint must be exactly FingerprintSize bytes; lib/identity
// produces it by hashing the public key with BLAKE3 and truncating.
func PeerIDFromFingerprint(fingerprint []byte) (PeerID, error) {
	if len(fingerprint) != FingerprintSize {
		return PeerID{}, fmt.Errorf("fingerprint is %d bytes, want %d", len(fingerprint), FingerprintSize)
	}
	return PeerID{id: peerIDPrefix + base58.Encode(fingerprint)}, nil
}

// String returns the full identifier (e.g., "cdn1EkZyjvAtcbPjLm4FHnCyYeE5").
func (p PeerID) String() string { return p.id }

// IsZero reports whether the PeerID is the zero value (uninitialized).
func (p PeerID) IsZero() bool { return p.id == "" }

// Short returns a truncated form for log output: the prefix plus the
// first eight base58 characters. Collisions are acceptable in logs;
// never use Short for comparison or storage.
func (p PeerID) Short() string {
	const shortLength = len(peerIDPrefix) + 8
	if len(p.id) <= shortLength {
		return p.id
	}
	return p.id[:shortLength]
}

// Fingerprint returns the raw fingerprint bytes decoded from the
// identifier. Panics if called on a zero-value PeerID.
func (p PeerID) Fingerprint() []byte {
	if p.id == "" {
		panic("PeerID.Fingerprint called on zero value")
	}
	decoded, err := base58.Decode(p.id[len(peerIDPrefix):])
	if err != nil {
		// PeerID was validated at construction — this is unreachable.
		panic(fmt.Sprintf("PeerID.Fingerprint: internal error decoding %q: %v", p.id, err))
	}
	return decoded
}

// MarshalText implements encoding.TextMarshaler for JSON and CBOR
// serialization.
func (p PeerID) MarshalText() ([]byte, error) {
	if p.id == "" {
		return []byte{}, nil
	}
	return []byte(p.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// identifier format. An empty input produces the zero value.
func (p *PeerID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = PeerID{}
		return nil
	}
	parsed, err := ParsePeerID(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
