// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"
	"time"

	"github.com/cordon-foundation/cordon/lib/ref"
)

// Registry tracks the live secure channel per peer. A peer has at
// most one channel: registering a new one supersedes and closes any
// prior channel for the same peer, so a reconnecting peer never
// leaves a stale session holding its slot.
type Registry struct {
	mu       sync.Mutex
	channels map[ref.PeerID]*SecureChannel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[ref.PeerID]*SecureChannel)}
}

// Register installs the channel as its peer's current session,
// closing whatever it supersedes.
func (r *Registry) Register(channel *SecureChannel) {
	peer := channel.Session().PeerID()

	r.mu.Lock()
	prior := r.channels[peer]
	r.channels[peer] = channel
	r.mu.Unlock()

	if prior != nil && prior != channel {
		prior.Close()
	}
}

// Lookup returns the current channel for a peer.
func (r *Registry) Lookup(peer ref.PeerID) (*SecureChannel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	channel, ok := r.channels[peer]
	return channel, ok
}

// Remove drops the channel from the registry if it is still the
// current one for its peer. A channel that was already superseded is
// left alone, so a late Remove from a dying session loop cannot evict
// its replacement.
func (r *Registry) Remove(channel *SecureChannel) {
	peer := channel.Session().PeerID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channels[peer] == channel {
		delete(r.channels, peer)
	}
}

// Snapshot returns the current channels. The slice is the caller's;
// the channels are shared.
func (r *Registry) Snapshot() []*SecureChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make([]*SecureChannel, 0, len(r.channels))
	for _, channel := range r.channels {
		channels = append(channels, channel)
	}
	return channels
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// SweepIdle closes and removes every channel whose last activity is
// longer than timeout before now. It returns how many were closed.
func (r *Registry) SweepIdle(now time.Time, timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}

	var idle []*SecureChannel
	r.mu.Lock()
	for peer, channel := range r.channels {
		if now.Sub(channel.LastActivity()) > timeout {
			delete(r.channels, peer)
			idle = append(idle, channel)
		}
	}
	r.mu.Unlock()

	for _, channel := range idle {
		channel.Close()
	}
	return len(idle)
}

// CloseAll closes and drops every channel. Used at daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := make([]*SecureChannel, 0, len(r.channels))
	for peer, channel := range r.channels {
		delete(r.channels, peer)
		channels = append(channels, channel)
	}
	r.mu.Unlock()

	for _, channel := range channels {
		channel.Close()
	}
}
