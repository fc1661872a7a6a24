// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cordon-foundation/cordon/lib/ref"
)

// ErrFingerprintMismatch is returned by Store.Add when a peer ID is
// already bound to a different public key. Two distinct keys hashing
// to the same fingerprint means forgery (or a broken hash), so the
// store refuses the binding rather than overwriting.
var ErrFingerprintMismatch = errors.New("identity: peer ID already bound to a different key")

// Store is an append-only registry of identities observed from peers:
// handshake counterparties, credential issuers, enrollment subjects.
// First write wins; there is no deletion. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byPeer map[ref.PeerID]Identity
}

// NewStore returns an empty identity store.
func NewStore() *Store {
	return &Store{byPeer: make(map[ref.PeerID]Identity)}
}

// Add records an identity. Re-adding the same identity is a no-op.
// Adding a different public key under an existing peer ID returns
// ErrFingerprintMismatch.
func (s *Store) Add(id Identity) error {
	if id.IsZero() {
		return fmt.Errorf("identity: cannot store zero identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byPeer[id.PeerID()]
	if !ok {
		s.byPeer[id.PeerID()] = id
		return nil
	}
	if !existing.Equal(id) {
		return fmt.Errorf("%w: %s", ErrFingerprintMismatch, id.PeerID())
	}
	return nil
}

// Lookup returns the identity bound to a peer ID, if known.
func (s *Store) Lookup(peer ref.PeerID) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPeer[peer]
	return id, ok
}

// Len returns the number of identities in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPeer)
}
