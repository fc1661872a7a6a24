// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"sort"
	"time"

	"github.com/cordon-foundation/cordon/lib/adminsock"
	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/version"
	"github.com/cordon-foundation/cordon/transport"
)

// Admin socket actions served by cordon-node.
const (
	actionStatus   = "status"
	actionWhoami   = "whoami"
	actionSessions = "sessions"
)

type statusResult struct {
	PeerID        string `cbor:"peer_id"`
	Version       string `cbor:"version"`
	UptimeSeconds int64  `cbor:"uptime_seconds"`
	Sessions      int    `cbor:"sessions"`
	Enrolled      bool   `cbor:"enrolled"`
}

type whoamiResult struct {
	PeerID             string `cbor:"peer_id"`
	Version            string `cbor:"version"`
	Enrolled           bool   `cbor:"enrolled"`
	CredentialNotAfter int64  `cbor:"credential_not_after,omitempty"`
	UptimeSeconds      int64  `cbor:"uptime_seconds"`
}

type sessionEntry struct {
	PeerID        string `cbor:"peer_id"`
	Trusted       bool   `cbor:"trusted"`
	EstablishedAt int64  `cbor:"established_at"`
	IdleSeconds   int64  `cbor:"idle_seconds"`
}

type sessionsResult struct {
	Sessions []sessionEntry `cbor:"sessions"`
}

// adminService serves the node's local operator surface over the
// owner-only unix socket.
type adminService struct {
	self     ref.PeerID
	inbound  *transport.Registry
	outbound *transport.Registry
	clock    clock.Clock
	started  time.Time
	enrolled bool

	// notAfter is the validity end of the presented credential, unix
	// seconds. Zero when the node runs identity-only.
	notAfter int64
}

func newAdminService(self ref.PeerID, inbound, outbound *transport.Registry, chain [][]byte, clk clock.Clock) *adminService {
	svc := &adminService{
		self:     self,
		inbound:  inbound,
		outbound: outbound,
		clock:    clk,
		started:  clk.Now(),
		enrolled: len(chain) > 0,
	}
	if len(chain) > 0 {
		if cred, err := credential.Decode(chain[0]); err == nil {
			svc.notAfter = cred.NotAfter
		}
	}
	return svc
}

func (s *adminService) registerActions(server *adminsock.Server) {
	server.Handle(actionStatus, s.handleStatus)
	server.Handle(actionWhoami, s.handleWhoami)
	server.Handle(actionSessions, s.handleSessions)
}

func (s *adminService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return &statusResult{
		PeerID:        s.self.String(),
		Version:       version.Info(),
		UptimeSeconds: s.uptimeSeconds(),
		Sessions:      s.inbound.Len() + s.outbound.Len(),
		Enrolled:      s.enrolled,
	}, nil
}

func (s *adminService) handleWhoami(ctx context.Context, raw []byte) (any, error) {
	return &whoamiResult{
		PeerID:             s.self.String(),
		Version:            version.Info(),
		Enrolled:           s.enrolled,
		CredentialNotAfter: s.notAfter,
		UptimeSeconds:      s.uptimeSeconds(),
	}, nil
}

// handleSessions lists live sessions from both registries: inbound
// sessions the dispatcher accepted and outbound sessions the client
// holds open.
func (s *adminService) handleSessions(ctx context.Context, raw []byte) (any, error) {
	now := s.clock.Now()
	channels := append(s.inbound.Snapshot(), s.outbound.Snapshot()...)

	entries := make([]sessionEntry, 0, len(channels))
	for _, channel := range channels {
		session := channel.Session()
		idle := now.Sub(channel.LastActivity())
		if idle < 0 {
			idle = 0
		}
		entries = append(entries, sessionEntry{
			PeerID:        session.PeerID().String(),
			Trusted:       session.Trusted(),
			EstablishedAt: session.EstablishedAt.Unix(),
			IdleSeconds:   int64(idle / time.Second),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EstablishedAt != entries[j].EstablishedAt {
			return entries[i].EstablishedAt < entries[j].EstablishedAt
		}
		return entries[i].PeerID < entries[j].PeerID
	})
	return &sessionsResult{Sessions: entries}, nil
}

func (s *adminService) uptimeSeconds() int64 {
	return int64(s.clock.Now().Sub(s.started) / time.Second)
}
