// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/transport"
)

// Methods served by the built-in status service.
var (
	// MethodPing echoes the request payload back unchanged.
	MethodPing = ref.MustMethod("status/ping")

	// MethodInfo reports the responding node's identity and runtime
	// state.
	MethodInfo = ref.MustMethod("status/info")
)

// InfoResponse is the status/info response body.
type InfoResponse struct {
	// PeerID is the responding node's peer ID.
	PeerID ref.PeerID `cbor:"1,keyasint"`

	// Version is the responding binary's build version.
	Version string `cbor:"2,keyasint"`

	// UptimeSeconds counts from service construction.
	UptimeSeconds int64 `cbor:"3,keyasint"`

	// Sessions is the responder's live session count.
	Sessions int `cbor:"4,keyasint"`
}

// StatusService serves the liveness and introspection methods every
// cordon node carries. Whether a given peer may call them is a policy
// question like any other; the service itself answers anyone the
// dispatcher lets through.
type StatusService struct {
	version  string
	registry *transport.Registry
	clock    clock.Clock
	started  int64
}

// NewStatusService creates a status service reporting the given build
// version. The registry supplies the live session count; nil reports
// zero sessions.
func NewStatusService(version string, registry *transport.Registry, clk clock.Clock) *StatusService {
	if clk == nil {
		clk = clock.Real()
	}
	return &StatusService{
		version:  version,
		registry: registry,
		clock:    clk,
		started:  clk.Now().Unix(),
	}
}

// Register installs the status methods on the router.
func (s *StatusService) Register(router *Router) {
	router.Handle(MethodPing, s.handlePing)
	router.Handle(MethodInfo, s.handleInfo)
}

func (s *StatusService) handlePing(ctx context.Context, call *Call) ([]byte, error) {
	return call.Payload, nil
}

func (s *StatusService) handleInfo(ctx context.Context, call *Call) ([]byte, error) {
	sessions := 0
	if s.registry != nil {
		sessions = s.registry.Len()
	}
	return codec.Marshal(InfoResponse{
		PeerID:        call.Session.Local,
		Version:       s.version,
		UptimeSeconds: s.clock.Now().Unix() - s.started,
		Sessions:      sessions,
	})
}
