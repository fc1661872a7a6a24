// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport establishes and runs secure channels between
// Cordon nodes.
//
// A channel starts as a raw TCP connection ([TCPDialer], [TCPListener])
// and becomes a [SecureChannel] through the three-message [Handshake]:
// mutual identity proof (Ed25519 signatures over a BLAKE3 transcript),
// X25519 key agreement, and a confirmation MAC. Credential chains ride
// in the handshake; their validation outcome is snapshotted into the
// channel's [Session] at establishment. A peer whose chain fails
// validation still gets a channel — identity proven, no attributes —
// because enrollment itself has to happen over exactly such a
// semi-trusted session.
//
// Established channels seal every frame with ChaCha20-Poly1305 under
// per-direction keys and counter nonces: frames arrive exactly in
// order or the channel dies. [Registry] tracks the one live channel
// per peer, superseding on re-handshake and sweeping idle sessions.
// [Resolver] turns configured peer names into dialable endpoints,
// optionally pinning the expected identity key.
//
// The package moves bytes and proves identities; what requests mean
// and whether policy allows them is the node package's business.
package transport
