// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/wire"
	"github.com/cordon-foundation/cordon/transport"
)

// DefaultCallTimeout bounds one round trip when the caller's context
// carries no earlier deadline.
const DefaultCallTimeout = 30 * time.Second

// Typed call failures. A *StatusError satisfies errors.Is for the
// sentinel matching its status.
var (
	// ErrDenied means policy at the peer rejected the request.
	ErrDenied = errors.New("node: request denied")

	// ErrMethodNotFound means the peer has no handler for the method.
	ErrMethodNotFound = errors.New("node: method not found")

	// ErrHandlerFailed means the peer's handler returned an error.
	ErrHandlerFailed = errors.New("node: handler failed")
)

// errSessionDead marks a call that failed because its cached session
// was torn down underneath it. Call retries such failures once on a
// fresh handshake.
var errSessionDead = errors.New("session dead")

// StatusError is a non-Ok response surfaced as an error. Message is
// the peer's diagnostic payload; always empty for denials.
type StatusError struct {
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("node: request %s", e.Status)
	}
	return fmt.Sprintf("node: request %s: %s", e.Status, e.Message)
}

// Is matches the sentinel for the carried status.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrDenied:
		return e.Status == wire.StatusDenied
	case ErrMethodNotFound:
		return e.Status == wire.StatusMethodNotFound
	case ErrHandlerFailed:
		return e.Status == wire.StatusHandlerError
	}
	return false
}

// Dialer opens connections to resolved endpoint addresses.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Identity proves who the caller is during handshakes. Required.
	Identity *identity.PrivateIdentity

	// Chain is the credential chain presented to every peer. A client
	// that has not enrolled yet passes nil and gets semi-trusted
	// sessions.
	Chain [][]byte

	// Trust validates the peer's chain.
	Trust credential.TrustedIssuers

	// Resolver maps peer names to transport endpoints. Required.
	Resolver transport.Resolver

	// Dialer opens the underlying connection. Defaults to a plain TCP
	// dialer.
	Dialer Dialer

	// Registry tracks established sessions for idle sweeps. Defaults
	// to a private registry.
	Registry *transport.Registry

	// HandshakeTimeout bounds each handshake. Defaults to
	// transport.DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// CallTimeout bounds one round trip when the caller's context has
	// no earlier deadline. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// Clock drives handshake deadlines. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives session events. Defaults to discard.
	Logger *slog.Logger
}

// Client calls methods on remote peers over cached secure channel
// sessions. Safe for concurrent use; one session carries any number of
// in-flight calls, matched to responses by correlation ID.
type Client struct {
	id               *identity.PrivateIdentity
	trust            credential.TrustedIssuers
	resolver         transport.Resolver
	dialer           Dialer
	registry         *transport.Registry
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	clock            clock.Clock
	logger           *slog.Logger

	correlation atomic.Uint64

	mu         sync.Mutex
	chain      [][]byte
	sessions   map[ref.PeerName]*clientSession
	connecting map[ref.PeerName]chan struct{}
}

// NewClient creates a client. Panics on missing required
// configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Identity == nil {
		panic("node.Client: Identity is required")
	}
	if cfg.Resolver == nil {
		panic("node.Client: Resolver is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &transport.TCPDialer{}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = transport.NewRegistry()
	}
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = transport.DefaultHandshakeTimeout
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		id:               cfg.Identity,
		trust:            cfg.Trust,
		resolver:         cfg.Resolver,
		dialer:           dialer,
		registry:         registry,
		handshakeTimeout: handshakeTimeout,
		callTimeout:      callTimeout,
		clock:            clk,
		logger:           logger,
		chain:            cfg.Chain,
		sessions:         make(map[ref.PeerName]*clientSession),
		connecting:       make(map[ref.PeerName]chan struct{}),
	}
}

// SetChain replaces the credential chain presented in future
// handshakes, e.g. after enrollment completes. Existing sessions keep
// the chain they were established with until they are re-established.
func (c *Client) SetChain(chain [][]byte) {
	c.mu.Lock()
	c.chain = chain
	c.mu.Unlock()
}

// Registry exposes the session registry for idle sweeps.
func (c *Client) Registry() *transport.Registry { return c.registry }

// Call sends one request to peer and waits for the matching response.
//
// An established session is reused across calls. A session found dead
// (idle-swept, peer restarted) is replaced by one re-handshake before
// the call fails. Non-Ok responses surface as *StatusError; resolution
// and connection failures wrap transport.ErrPeerUnreachable.
func (c *Client) Call(ctx context.Context, peer ref.PeerName, method ref.Method, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		session, err := c.session(ctx, peer)
		if err != nil {
			return nil, err
		}
		result, err := c.roundTrip(ctx, session, method, payload)
		if errors.Is(err, errSessionDead) {
			c.forget(peer, session)
			lastErr = err
			continue
		}
		return result, err
	}
	return nil, fmt.Errorf("node: calling %s on %s: %w", method, peer, lastErr)
}

// Close tears down every cached session.
func (c *Client) Close() error {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[ref.PeerName]*clientSession)
	c.mu.Unlock()
	for _, session := range sessions {
		session.channel.Close()
	}
	return nil
}

// session returns a live cached session for peer, or establishes one.
// Only one handshake per peer runs at a time: racing calls wait for
// the in-flight one and share its session.
func (c *Client) session(ctx context.Context, peer ref.PeerName) (*clientSession, error) {
	c.mu.Lock()
	for {
		if cached := c.sessions[peer]; cached != nil && cached.alive() {
			c.mu.Unlock()
			return cached, nil
		}
		inflight := c.connecting[peer]
		if inflight == nil {
			break
		}
		c.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
	}
	done := make(chan struct{})
	c.connecting[peer] = done
	c.mu.Unlock()

	session, err := c.connect(ctx, peer)

	var prior *clientSession
	c.mu.Lock()
	delete(c.connecting, peer)
	close(done)
	if err == nil {
		prior = c.sessions[peer]
		c.sessions[peer] = session
	}
	c.mu.Unlock()
	if prior != nil {
		prior.channel.Close()
	}
	return session, err
}

// connect resolves, dials, and handshakes as initiator.
func (c *Client) connect(ctx context.Context, peer ref.PeerName) (*clientSession, error) {
	endpoint, err := c.resolver.Resolve(ctx, peer)
	if err != nil {
		if errors.Is(err, transport.ErrPeerUnreachable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resolving %s: %v", transport.ErrPeerUnreachable, peer, err)
	}
	conn, err := c.dialer.DialContext(ctx, endpoint.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s at %s: %v", transport.ErrPeerUnreachable, peer, endpoint.Address, err)
	}

	channel, err := c.initiate(ctx, conn, endpoint)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("node: handshake with %s: %w", peer, err)
	}

	c.registry.Register(channel)
	session := channel.Session()
	c.logger.Debug("session established",
		"peer", peer,
		"peer_id", session.PeerID(),
		"session_id", session.ID,
		"trusted", session.Trusted(),
	)
	return newClientSession(channel, c.logger, func() {
		c.registry.Remove(channel)
	}), nil
}

// initiate drives the initiator handshake over conn.
func (c *Client) initiate(ctx context.Context, conn net.Conn, endpoint transport.Endpoint) (*transport.SecureChannel, error) {
	c.mu.Lock()
	chain := c.chain
	c.mu.Unlock()

	handshake, err := transport.NewInitiator(transport.HandshakeConfig{
		Identity:    c.id,
		Chain:       chain,
		Trust:       c.trust,
		ExpectedKey: endpoint.Key,
		Clock:       c.clock,
		Timeout:     c.handshakeTimeout,
	})
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// The conn deadline uses wall time regardless of the configured
	// clock; the handshake state machine enforces its own deadline on
	// the clock.
	conn.SetDeadline(time.Now().Add(c.handshakeTimeout))

	frame, err := handshake.Start()
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(conn, frame); err != nil {
		return nil, fmt.Errorf("writing handshake frame: %w", err)
	}

	for handshake.State() != transport.HandshakeEstablished {
		inbound, err := wire.ReadFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("reading handshake frame: %w", err)
		}
		reply, err := handshake.Handle(inbound)
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

// roundTrip sends one request on session and waits for its response.
func (c *Client) roundTrip(ctx context.Context, session *clientSession, method ref.Method, payload []byte) ([]byte, error) {
	correlationID := c.correlation.Add(1)
	waiter, err := session.register(correlationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSessionDead, err)
	}
	defer session.unregister(correlationID)

	request := wire.Request{
		Version:       wire.ProtocolVersion,
		SessionID:     session.channel.Session().ID,
		CorrelationID: correlationID,
		Method:        method,
		Payload:       payload,
	}
	encoded, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("node: encoding request: %w", err)
	}
	if err := session.channel.WriteFrame(wire.FrameRequest, encoded); err != nil {
		if errors.Is(err, transport.ErrChannelClosed) {
			return nil, fmt.Errorf("%w: %v", errSessionDead, err)
		}
		return nil, fmt.Errorf("node: sending request: %w", err)
	}

	select {
	case response := <-waiter:
		return decodeResult(response)
	case <-session.done:
		return nil, fmt.Errorf("%w: %v", errSessionDead, session.failure())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// forget drops session from the cache if it is still the cached entry,
// then closes it.
func (c *Client) forget(peer ref.PeerName, session *clientSession) {
	c.mu.Lock()
	if c.sessions[peer] == session {
		delete(c.sessions, peer)
	}
	c.mu.Unlock()
	session.channel.Close()
}

// decodeResult maps a response envelope to the caller's result.
func decodeResult(response wire.Response) ([]byte, error) {
	switch response.Status {
	case wire.StatusOk:
		return response.Payload, nil
	case wire.StatusDenied, wire.StatusMethodNotFound, wire.StatusHandlerError:
		return nil, &StatusError{Status: response.Status, Message: string(response.Payload)}
	default:
		return nil, fmt.Errorf("node: response carried unknown status %s", response.Status)
	}
}

// clientSession is one cached secure channel plus the demux that
// matches responses to waiting calls by correlation ID.
type clientSession struct {
	channel *transport.SecureChannel

	mu      sync.Mutex
	pending map[uint64]chan wire.Response
	readErr error

	// done is closed when the read loop exits; readErr is set first.
	done chan struct{}
}

func newClientSession(channel *transport.SecureChannel, logger *slog.Logger, onExit func()) *clientSession {
	s := &clientSession{
		channel: channel,
		pending: make(map[uint64]chan wire.Response),
		done:    make(chan struct{}),
	}
	go s.readLoop(logger, onExit)
	return s
}

// readLoop routes inbound responses to their waiting calls. It exits
// on the first read or decode failure; waiters observe the exit
// through done.
func (s *clientSession) readLoop(logger *slog.Logger, onExit func()) {
	fail := func(err error) {
		s.mu.Lock()
		s.readErr = err
		s.mu.Unlock()
		close(s.done)
		s.channel.Close()
		onExit()
	}

	for {
		kind, payload, err := s.channel.ReadFrame()
		if err != nil {
			fail(err)
			return
		}
		if kind != wire.FrameResponse {
			logger.Debug("discarding unexpected frame", "kind", kind)
			continue
		}
		var response wire.Response
		if err := codec.Unmarshal(payload, &response); err != nil {
			logger.Warn("malformed response envelope, closing session", "error", err)
			fail(fmt.Errorf("malformed response envelope: %w", err))
			return
		}

		s.mu.Lock()
		waiter, ok := s.pending[response.CorrelationID]
		if ok {
			delete(s.pending, response.CorrelationID)
		}
		s.mu.Unlock()
		if !ok {
			// The call gave up (context cancelled) before its
			// response arrived.
			logger.Debug("response for no waiting call", "correlation_id", response.CorrelationID)
			continue
		}
		waiter <- response
	}
}

// register installs a waiter for correlationID. Fails if the read loop
// has already exited.
func (s *clientSession) register(correlationID uint64) (chan wire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	waiter := make(chan wire.Response, 1)
	s.pending[correlationID] = waiter
	return waiter, nil
}

func (s *clientSession) unregister(correlationID uint64) {
	s.mu.Lock()
	delete(s.pending, correlationID)
	s.mu.Unlock()
}

// alive reports whether the read loop is still running.
func (s *clientSession) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// failure returns the read loop's terminal error.
func (s *clientSession) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}
