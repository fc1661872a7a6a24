// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/metrics"
	"github.com/cordon-foundation/cordon/lib/netutil"
	"github.com/cordon-foundation/cordon/lib/policy"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/wire"
	"github.com/cordon-foundation/cordon/transport"
)

// maxErrorDetail caps the diagnostic text a HandlerError response
// carries to the peer. The full error always goes to the local log.
const maxErrorDetail = 256

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Identity answers inbound handshakes. Required.
	Identity *identity.PrivateIdentity

	// Chain is the local credential chain presented to connecting
	// peers.
	Chain [][]byte

	// Trust validates peer chains at handshake time.
	Trust credential.TrustedIssuers

	// Router maps methods to handlers. Required.
	Router *Router

	// Policies authorizes every routed request. Required.
	Policies *policy.Set

	// Registry tracks live sessions. Defaults to a private registry.
	Registry *transport.Registry

	// IdleTimeout tears a session down after this long without
	// traffic. Zero disables idle teardown.
	IdleTimeout time.Duration

	// HandshakeTimeout bounds the responder handshake. Defaults to
	// transport.DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Clock drives credential expiry checks and handshake deadlines.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives session and audit events. Defaults to discard.
	Logger *slog.Logger

	// Metrics records handshakes, sessions, decisions, and request
	// statuses. Nil disables recording.
	Metrics *metrics.Metrics
}

// Dispatcher serves requests from established secure channel sessions.
// One Dispatcher serves any number of sessions concurrently; each
// session gets its own worker loop, and responses within a session are
// written in request order.
type Dispatcher struct {
	identity         *identity.PrivateIdentity
	chain            [][]byte
	trust            credential.TrustedIssuers
	router           *Router
	policies         *policy.Set
	registry         *transport.Registry
	idleTimeout      time.Duration
	handshakeTimeout time.Duration
	clock            clock.Clock
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

// NewDispatcher creates a dispatcher. Panics on missing required
// configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Identity == nil {
		panic("node.Dispatcher: Identity is required")
	}
	if cfg.Router == nil {
		panic("node.Dispatcher: Router is required")
	}
	if cfg.Policies == nil {
		panic("node.Dispatcher: Policies is required")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = transport.NewRegistry()
	}
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = transport.DefaultHandshakeTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		identity:         cfg.Identity,
		chain:            cfg.Chain,
		trust:            cfg.Trust,
		router:           cfg.Router,
		policies:         cfg.Policies,
		registry:         registry,
		idleTimeout:      cfg.IdleTimeout,
		handshakeTimeout: handshakeTimeout,
		clock:            clk,
		logger:           logger,
		metrics:          cfg.Metrics,
	}
}

// Registry exposes the session registry for idle sweeps and admin
// listings.
func (d *Dispatcher) Registry() *transport.Registry { return d.registry }

// HandleConn runs the responder handshake on conn and, once the
// session is established, serves its requests until it ends. Intended
// as the handler for transport.TCPListener.Serve; HandleConn owns conn
// either way.
func (d *Dispatcher) HandleConn(ctx context.Context, conn net.Conn) {
	channel, err := d.respond(ctx, conn)
	if err != nil {
		if ctx.Err() == nil {
			if netutil.IsExpectedCloseError(err) {
				// Port probes connect and drop without a hello.
				d.logger.Debug("connection dropped during handshake", "remote", conn.RemoteAddr())
			} else {
				d.logger.Warn("handshake failed", "remote", conn.RemoteAddr(), "error", err)
			}
			d.metrics.HandshakeFailed()
		}
		conn.Close()
		return
	}
	d.metrics.HandshakeEstablished()
	d.ServeChannel(ctx, channel)
}

// respond drives the responder side of the handshake over conn.
func (d *Dispatcher) respond(ctx context.Context, conn net.Conn) (*transport.SecureChannel, error) {
	handshake, err := transport.NewResponder(transport.HandshakeConfig{
		Identity: d.identity,
		Chain:    d.chain,
		Trust:    d.trust,
		Clock:    d.clock,
		Timeout:  d.handshakeTimeout,
	})
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// The conn deadline uses wall time regardless of the configured
	// clock; the handshake state machine enforces its own deadline on
	// the clock.
	conn.SetDeadline(time.Now().Add(d.handshakeTimeout))

	for handshake.State() != transport.HandshakeEstablished {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("reading handshake frame: %w", err)
		}
		reply, err := handshake.Handle(frame)
		if err != nil {
			return nil, err
		}
		if reply != nil {
			if err := wire.WriteFrame(conn, *reply); err != nil {
				return nil, fmt.Errorf("writing handshake frame: %w", err)
			}
		}
	}
	conn.SetDeadline(time.Time{})
	return handshake.Channel(conn)
}

// ServeChannel registers channel and serves its request loop until the
// peer disconnects, the session idles out, or ctx is cancelled.
// ServeChannel owns channel and closes it on return.
func (d *Dispatcher) ServeChannel(ctx context.Context, channel *transport.SecureChannel) {
	d.registry.Register(channel)
	d.metrics.SessionsActive(d.registry.Len())
	defer func() {
		d.registry.Remove(channel)
		channel.Close()
		d.metrics.SessionsActive(d.registry.Len())
	}()

	stop := context.AfterFunc(ctx, func() { channel.Close() })
	defer stop()

	session := channel.Session()
	logger := d.logger.With("peer", session.PeerID(), "session_id", session.ID)
	logger.Info("session established", "trusted", session.Trusted())

	for {
		if d.idleTimeout > 0 {
			channel.SetReadDeadline(time.Now().Add(d.idleTimeout))
		}
		kind, payload, err := channel.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrChannelClosed):
				logger.Info("session closed")
			case isTimeout(err):
				logger.Info("session idle, closing")
			case netutil.IsExpectedCloseError(err):
				logger.Info("peer disconnected")
			default:
				logger.Warn("session read failed", "error", err)
			}
			return
		}
		if kind != wire.FrameRequest {
			logger.Debug("discarding unexpected frame", "kind", kind)
			continue
		}

		var request wire.Request
		if err := codec.Unmarshal(payload, &request); err != nil {
			logger.Warn("malformed request envelope, closing session", "error", err)
			return
		}
		if request.Version != wire.ProtocolVersion || request.SessionID != session.ID {
			logger.Warn("request envelope does not match session, closing session",
				"version", request.Version,
				"envelope_session_id", request.SessionID,
			)
			return
		}

		response := d.HandleInbound(ctx, request, session)
		encoded, err := codec.Marshal(response)
		if err != nil {
			logger.Error("encoding response", "error", err)
			return
		}
		if err := channel.WriteFrame(wire.FrameResponse, encoded); err != nil {
			if !errors.Is(err, transport.ErrChannelClosed) {
				logger.Warn("writing response", "error", err)
			}
			return
		}
	}
}

// HandleInbound dispatches one decoded request envelope on behalf of
// session and returns the response envelope.
func (d *Dispatcher) HandleInbound(ctx context.Context, request wire.Request, session transport.Session) wire.Response {
	response := d.dispatch(ctx, request, session)
	d.metrics.Request(response.Status.String())
	return response
}

func (d *Dispatcher) dispatch(ctx context.Context, request wire.Request, session transport.Session) wire.Response {
	response := wire.Response{
		SessionID:     session.ID,
		CorrelationID: request.CorrelationID,
	}

	// Routing precedes authorization: there is nothing to authorize
	// against an undefined method.
	route, ok := d.router.lookup(request.Method)
	if !ok {
		response.Status = wire.StatusMethodNotFound
		response.Payload = []byte(fmt.Sprintf("unknown method %q", request.Method))
		return response
	}

	verdict, reason := d.authorize(request.Method, route, session)
	d.metrics.Decision(verdict.Decision.String())
	if verdict.Decision != policy.Allow {
		// The response carries no payload: the caller learns the
		// decision, not the reason. The reason goes to the audit log
		// alone.
		d.logger.Warn("request denied",
			"peer", session.PeerID(),
			"method", request.Method,
			"policy", verdict.DeniedBy,
			"reason", reason,
			"correlation_id", request.CorrelationID,
		)
		response.Status = wire.StatusDenied
		return response
	}

	result, err := route.handler(ctx, &Call{
		Session: session,
		Method:  request.Method,
		Payload: request.Payload,
	})
	if err != nil {
		d.logger.Warn("handler failed",
			"peer", session.PeerID(),
			"method", request.Method,
			"error", err,
		)
		response.Status = wire.StatusHandlerError
		response.Payload = []byte(truncate(err.Error(), maxErrorDetail))
		return response
	}

	response.Status = wire.StatusOk
	response.Payload = result
	return response
}

// authorize snapshots the session's subject attributes and evaluates
// policy for the method. The returned reason is for the audit log
// only.
func (d *Dispatcher) authorize(method ref.Method, rt route, session transport.Session) (policy.Verdict, string) {
	subject := policy.Attributes{}
	switch {
	case session.TrustError != nil:
		// Semi-trusted session: the peer proved its identity but
		// presented no usable chain. Only identity-derived facts are
		// available to policy.
	case session.Attributes.ExpiredAt(d.clock.Now()):
		// The credential was inside its window at handshake time but
		// has since run out. The session stays up; its requests are
		// denied until the peer re-handshakes with a fresh chain.
		return policy.Verdict{Decision: policy.Deny}, "credential expired"
	default:
		for key, value := range session.Attributes.Map() {
			subject[key] = value
		}
		subject["issuer"] = session.Attributes.Issuer().String()
	}
	// The proven identity always wins over a credential claim named
	// "id".
	subject["id"] = session.PeerID().String()

	resource := policy.Attributes{}
	for key, value := range rt.labels {
		resource[key] = value
	}
	resource["method"] = method.String()

	verdict := d.policies.Decide(method, subject, resource)
	switch {
	case verdict.Decision == policy.Allow:
		return verdict, ""
	case verdict.Matched == 0:
		return verdict, "no policy covers method"
	default:
		return verdict, "policy denied"
	}
}

// truncate caps s at limit bytes.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// isTimeout reports whether err is a network timeout, as produced by
// an expired read deadline.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
