// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// PeerName is a human-assigned routing name for a peer, such as
// "sensor/alpha" or "control-plane". Names are hierarchical paths
// using only lowercase letters, digits, and the symbols . _ = - /.
//
// A PeerName says nothing about trust: the binding between a name and
// a cryptographic PeerID lives in the resolver configuration and is
// confirmed during the channel handshake. Names exist so that config
// files and CLI invocations do not have to carry fingerprints.
//
// PeerName is an immutable value type. The zero value is not valid;
// use IsZero to check.
type PeerName struct {
	name string
}

// NewPeerName creates a validated PeerName.
func NewPeerName(raw string) (PeerName, error) {
	if raw == "" {
		return PeerName{}, fmt.Errorf("invalid peer name: name is empty")
	}
	if len(raw) > maxPeerNameLength {
		return PeerName{}, fmt.Errorf("invalid peer name %q: %d characters, maximum is %d", raw, len(raw), maxPeerNameLength)
	}
	if err := validatePath(raw, "peer name"); err != nil {
		return PeerName{}, fmt.Errorf("invalid peer name: %w", err)
	}
	return PeerName{name: raw}, nil
}

// MustPeerName is like NewPeerName but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustPeerName(raw string) PeerName {
	n, err := NewPeerName(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustPeerName(%q): %v", raw, err))
	}
	return n
}

// String returns the peer name (e.g., "sensor/alpha").
func (n PeerName) String() string { return n.name }

// IsZero reports whether the PeerName is the zero value (uninitialized).
func (n PeerName) IsZero() bool { return n.name == "" }

// MarshalText implements encoding.TextMarshaler for JSON and CBOR
// serialization.
func (n PeerName) MarshalText() ([]byte, error) {
	if n.name == "" {
		return []byte{}, nil
	}
	return []byte(n.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// name. An empty input produces the zero value.
func (n *PeerName) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*n = PeerName{}
		return nil
	}
	parsed, err := NewPeerName(string(data))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
