// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/cordon-foundation/cordon/lib/ref"
)

// ErrPeerUnreachable is returned when a peer name cannot be resolved
// to an endpoint. Dispatch surfaces it per request; an unreachable
// peer is never fatal to the caller's own node.
var ErrPeerUnreachable = errors.New("transport: peer unreachable")

// Endpoint is where a named peer can be dialed.
type Endpoint struct {
	// Address is the dialable "host:port".
	Address string

	// Key optionally pins the peer's Ed25519 identity key. When set,
	// the dialer refuses a handshake that proves any other identity,
	// even a correctly signed one. Endpoints loaded from config pin
	// the key; nil accepts whichever identity the handshake proves.
	Key ed25519.PublicKey
}

// Resolver maps peer names to endpoints.
type Resolver interface {
	Resolve(ctx context.Context, peer ref.PeerName) (Endpoint, error)
}

// StaticResolver resolves from a fixed table, typically the peer list
// in the node's config file.
type StaticResolver struct {
	endpoints map[ref.PeerName]Endpoint
}

// NewStaticResolver copies the given table. Later mutation of the
// argument does not affect the resolver.
func NewStaticResolver(endpoints map[ref.PeerName]Endpoint) *StaticResolver {
	copied := make(map[ref.PeerName]Endpoint, len(endpoints))
	for peer, endpoint := range endpoints {
		copied[peer] = endpoint
	}
	return &StaticResolver{endpoints: copied}
}

// Resolve returns the endpoint for peer, or ErrPeerUnreachable when
// the table has no entry.
func (r *StaticResolver) Resolve(_ context.Context, peer ref.PeerName) (Endpoint, error) {
	endpoint, ok := r.endpoints[peer]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: no endpoint for %s", ErrPeerUnreachable, peer)
	}
	return endpoint, nil
}
