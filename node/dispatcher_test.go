// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/policy"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/testutil"
	"github.com/cordon-foundation/cordon/lib/wire"
	"github.com/cordon-foundation/cordon/transport"
)

var testStart = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func testSigner(t *testing.T, value byte) *identity.PrivateIdentity {
	t.Helper()
	signer, err := identity.FromSeed(bytes.Repeat([]byte{value}, identity.SeedSize))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	t.Cleanup(func() { signer.Close() })
	return signer
}

// issueChain issues a one-link chain about subject, signed by issuer.
func issueChain(t *testing.T, issuer *identity.PrivateIdentity, subject ref.PeerID, attrs []credential.Attribute, notBefore, notAfter time.Time) [][]byte {
	t.Helper()
	cred, err := credential.Issue(issuer, subject, attrs, notBefore, notAfter)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	chain, err := credential.EncodeChain(cred)
	if err != nil {
		t.Fatalf("EncodeChain: %v", err)
	}
	return chain
}

func mustPolicy(t *testing.T, name, resource, rule string) policy.Policy {
	t.Helper()
	p, err := policy.NewPolicy(name, resource, rule)
	if err != nil {
		t.Fatalf("NewPolicy(%q): %v", name, err)
	}
	return p
}

func echoHandler(ctx context.Context, call *Call) ([]byte, error) {
	return call.Payload, nil
}

// dispatchFixture holds the identities around a dispatcher, all on a
// fake clock, for driving HandleInbound with fabricated sessions.
type dispatchFixture struct {
	clock     *clock.FakeClock
	authority *identity.PrivateIdentity
	server    *identity.PrivateIdentity
	client    *identity.PrivateIdentity
	trust     credential.TrustedIssuers
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	authority := testSigner(t, 0xA0)
	return &dispatchFixture{
		clock:     clock.Fake(testStart),
		authority: authority,
		server:    testSigner(t, 0xB1),
		client:    testSigner(t, 0xB2),
		trust:     credential.NewTrustedIssuers(authority.PeerID()),
	}
}

func (f *dispatchFixture) build(t *testing.T, router *Router, policies ...policy.Policy) *Dispatcher {
	t.Helper()
	set, err := policy.NewSet(policies...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return NewDispatcher(DispatcherConfig{
		Identity: f.server,
		Trust:    f.trust,
		Router:   router,
		Policies: set,
		Clock:    f.clock,
	})
}

// trustedSession fabricates the session an inbound handshake from the
// fixture's client would have produced, carrying the given verified
// attributes in a window around testStart.
func (f *dispatchFixture) trustedSession(t *testing.T, attrs ...credential.Attribute) transport.Session {
	t.Helper()
	chain := issueChain(t, f.authority, f.client.PeerID(), attrs, testStart.Add(-time.Minute), testStart.Add(time.Hour))
	verified, err := credential.ValidateChain(chain, f.trust, testStart)
	if err != nil {
		t.Fatalf("ValidateChain: %v", err)
	}
	return transport.Session{
		ID:            41,
		Local:         f.server.PeerID(),
		Peer:          f.client.Public(),
		Attributes:    verified,
		EstablishedAt: testStart,
	}
}

// semiTrustedSession fabricates a session whose peer proved its
// identity but presented no usable chain.
func (f *dispatchFixture) semiTrustedSession() transport.Session {
	return transport.Session{
		ID:            41,
		Local:         f.server.PeerID(),
		Peer:          f.client.Public(),
		TrustError:    credential.ErrUntrustedIssuer,
		EstablishedAt: testStart,
	}
}

func inboundRequest(session transport.Session, method ref.Method, payload []byte) wire.Request {
	return wire.Request{
		Version:       wire.ProtocolVersion,
		SessionID:     session.ID,
		CorrelationID: 9,
		Method:        method,
		Payload:       payload,
	}
}

func TestDispatchAllows(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	d := f.build(t, router, mustPolicy(t, "admins", "**", `subject.role == "admin"`))
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "admin"})

	request := inboundRequest(session, testMethod(t, "data/read"), []byte("sector 7"))
	response := d.HandleInbound(context.Background(), request, session)

	if response.Status != wire.StatusOk {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusOk)
	}
	if string(response.Payload) != "sector 7" {
		t.Errorf("payload: got %q, want %q", response.Payload, "sector 7")
	}
	if response.SessionID != session.ID {
		t.Errorf("session id: got %d, want %d", response.SessionID, session.ID)
	}
	if response.CorrelationID != request.CorrelationID {
		t.Errorf("correlation id: got %d, want %d", response.CorrelationID, request.CorrelationID)
	}
}

func TestDispatchUnknownMethodSkipsPolicy(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	// The deny-everything policy must not run: an undefined method is
	// not found, not denied.
	d := f.build(t, NewRouter(), mustPolicy(t, "wall", "**", "false"))
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "admin"})

	request := inboundRequest(session, testMethod(t, "data/read"), nil)
	response := d.HandleInbound(context.Background(), request, session)

	if response.Status != wire.StatusMethodNotFound {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusMethodNotFound)
	}
	if !strings.Contains(string(response.Payload), "data/read") {
		t.Errorf("payload %q does not name the missing method", response.Payload)
	}
}

func TestDispatchDeniedResponseHasNoPayload(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	d := f.build(t, router, mustPolicy(t, "admins", "**", `subject.role == "admin"`))
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "guest"})

	request := inboundRequest(session, testMethod(t, "data/read"), []byte("sector 7"))
	response := d.HandleInbound(context.Background(), request, session)

	if response.Status != wire.StatusDenied {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusDenied)
	}
	if len(response.Payload) != 0 {
		t.Errorf("denied response carries payload %q", response.Payload)
	}
}

func TestDispatchNoMatchingPolicyDenies(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	d := f.build(t, router)
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "admin"})

	response := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "data/read"), nil), session)

	if response.Status != wire.StatusDenied {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusDenied)
	}
}

func TestDispatchExpiredCredentialDenied(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	// The rule alone would allow anything; only expiry can deny.
	d := f.build(t, router, mustPolicy(t, "open", "**", "true"))
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "admin"})
	request := inboundRequest(session, testMethod(t, "data/read"), nil)

	before := d.HandleInbound(context.Background(), request, session)
	if before.Status != wire.StatusOk {
		t.Fatalf("before expiry: got %s, want %s", before.Status, wire.StatusOk)
	}

	f.clock.Advance(2 * time.Hour)

	after := d.HandleInbound(context.Background(), request, session)
	if after.Status != wire.StatusDenied {
		t.Fatalf("after expiry: got %s, want %s", after.Status, wire.StatusDenied)
	}
	if len(after.Payload) != 0 {
		t.Errorf("denied response carries payload %q", after.Payload)
	}
}

func TestDispatchSemiTrustedSubjectIsIdentityOnly(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.Handle(testMethod(t, "status/ping"), echoHandler)
	router.Handle(testMethod(t, "data/read"), echoHandler)
	d := f.build(t, router,
		mustPolicy(t, "known-peer", "status/*", fmt.Sprintf("subject.id == %q", f.client.PeerID())),
		mustPolicy(t, "admins", "data/*", `subject.role == "admin"`),
	)
	session := f.semiTrustedSession()

	ping := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "status/ping"), nil), session)
	if ping.Status != wire.StatusOk {
		t.Errorf("identity-only policy: got %s, want %s", ping.Status, wire.StatusOk)
	}

	read := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "data/read"), nil), session)
	if read.Status != wire.StatusDenied {
		t.Errorf("attribute policy without a chain: got %s, want %s", read.Status, wire.StatusDenied)
	}
}

func TestDispatchProvenIdentityOverridesClaimedID(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	d := f.build(t, router, mustPolicy(t, "self", "**", fmt.Sprintf("subject.id == %q", f.client.PeerID())))
	// The credential claims a different id; the handshake-proven
	// identity must win.
	session := f.trustedSession(t, credential.Attribute{Key: "id", Value: "cdn1impostor"})

	response := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "data/read"), nil), session)

	if response.Status != wire.StatusOk {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusOk)
	}
}

func TestDispatchIssuerAttribute(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	d := f.build(t, router, mustPolicy(t, "by-issuer", "**", fmt.Sprintf("subject.issuer == %q", f.authority.PeerID())))
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "guest"})

	response := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "data/read"), nil), session)

	if response.Status != wire.StatusOk {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusOk)
	}
}

func TestDispatchResourceLabels(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	router := NewRouter()
	router.HandleWithLabels(testMethod(t, "data/read"), map[string]string{"action": "read"}, echoHandler)
	router.Handle(testMethod(t, "data/purge"), echoHandler)
	d := f.build(t, router, mustPolicy(t, "readers", "**", `resource.action == "read"`))
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "guest"})

	read := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "data/read"), nil), session)
	if read.Status != wire.StatusOk {
		t.Errorf("labeled method: got %s, want %s", read.Status, wire.StatusOk)
	}

	purge := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "data/purge"), nil), session)
	if purge.Status != wire.StatusDenied {
		t.Errorf("unlabeled method: got %s, want %s", purge.Status, wire.StatusDenied)
	}
}

func TestDispatchHandlerErrorTruncated(t *testing.T) {
	t.Parallel()
	f := newDispatchFixture(t)
	detail := strings.Repeat("x", maxErrorDetail+100)
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), func(ctx context.Context, call *Call) ([]byte, error) {
		return nil, errors.New(detail)
	})
	d := f.build(t, router, mustPolicy(t, "open", "**", "true"))
	session := f.trustedSession(t, credential.Attribute{Key: "role", Value: "admin"})

	response := d.HandleInbound(context.Background(), inboundRequest(session, testMethod(t, "data/read"), nil), session)

	if response.Status != wire.StatusHandlerError {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusHandlerError)
	}
	if len(response.Payload) != maxErrorDetail {
		t.Errorf("payload length: got %d, want %d", len(response.Payload), maxErrorDetail)
	}
	if string(response.Payload) != detail[:maxErrorDetail] {
		t.Errorf("payload is not a prefix of the handler error")
	}
}

// pipeFixture is a dispatcher reachable over net.Pipe, with chains
// valid around the wall clock so real handshakes succeed.
type pipeFixture struct {
	d           *Dispatcher
	authority   *identity.PrivateIdentity
	server      *identity.PrivateIdentity
	client      *identity.PrivateIdentity
	trust       credential.TrustedIssuers
	clientChain [][]byte
}

func newPipeFixture(t *testing.T, router *Router, idle time.Duration, policies ...policy.Policy) *pipeFixture {
	t.Helper()
	authority := testSigner(t, 0xA0)
	server := testSigner(t, 0xB1)
	client := testSigner(t, 0xB2)
	trust := credential.NewTrustedIssuers(authority.PeerID())
	set, err := policy.NewSet(policies...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	now := time.Now()
	d := NewDispatcher(DispatcherConfig{
		Identity:    server,
		Chain:       issueChain(t, authority, server.PeerID(), []credential.Attribute{{Key: "role", Value: "server"}}, now.Add(-time.Minute), now.Add(time.Hour)),
		Trust:       trust,
		Router:      router,
		Policies:    set,
		IdleTimeout: idle,
	})
	return &pipeFixture{
		d:           d,
		authority:   authority,
		server:      server,
		client:      client,
		trust:       trust,
		clientChain: issueChain(t, authority, client.PeerID(), []credential.Attribute{{Key: "role", Value: "admin"}}, now.Add(-time.Minute), now.Add(time.Hour)),
	}
}

// dial hands one pipe end to HandleConn and completes the initiator
// handshake over the other, returning the client's channel.
func (f *pipeFixture) dial(t *testing.T, ctx context.Context) *transport.SecureChannel {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go f.d.HandleConn(ctx, serverConn)

	handshake, err := transport.NewInitiator(transport.HandshakeConfig{
		Identity: f.client,
		Chain:    f.clientChain,
		Trust:    f.trust,
	})
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	frame, err := handshake.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := wire.WriteFrame(clientConn, frame); err != nil {
		t.Fatalf("writing hello: %v", err)
	}
	for handshake.State() != transport.HandshakeEstablished {
		inbound, err := wire.ReadFrame(clientConn)
		if err != nil {
			t.Fatalf("reading handshake frame: %v", err)
		}
		reply, err := handshake.Handle(inbound)
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if reply != nil {
			if err := wire.WriteFrame(clientConn, *reply); err != nil {
				t.Fatalf("writing handshake frame: %v", err)
			}
		}
	}
	channel, err := handshake.Channel(clientConn)
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	t.Cleanup(func() { channel.Close() })
	return channel
}

// callOverChannel sends one request frame and reads the response frame.
func callOverChannel(t *testing.T, channel *transport.SecureChannel, request wire.Request) wire.Response {
	t.Helper()
	encoded, err := codec.Marshal(request)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := channel.WriteFrame(wire.FrameRequest, encoded); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	kind, payload, err := channel.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if kind != wire.FrameResponse {
		t.Fatalf("frame kind: got %#x, want %#x", kind, wire.FrameResponse)
	}
	var response wire.Response
	if err := codec.Unmarshal(payload, &response); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return response
}

func TestHandleConnServesRequests(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newPipeFixture(t, router, 0, mustPolicy(t, "admins", "**", `subject.role == "admin"`))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := f.dial(t, ctx)
	testutil.Eventually(t, time.Second, func() bool { return f.d.Registry().Len() == 1 }, "session registered")

	response := callOverChannel(t, channel, wire.Request{
		Version:       wire.ProtocolVersion,
		SessionID:     channel.Session().ID,
		CorrelationID: 1,
		Method:        testMethod(t, "data/read"),
		Payload:       []byte("sector 7"),
	})
	if response.Status != wire.StatusOk {
		t.Fatalf("status: got %s, want %s", response.Status, wire.StatusOk)
	}
	if string(response.Payload) != "sector 7" {
		t.Errorf("payload: got %q, want %q", response.Payload, "sector 7")
	}
	if response.CorrelationID != 1 {
		t.Errorf("correlation id: got %d, want 1", response.CorrelationID)
	}

	channel.Close()
	testutil.Eventually(t, time.Second, func() bool { return f.d.Registry().Len() == 0 }, "session removed")
}

func TestHandleConnDiscardsNonRequestFrames(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newPipeFixture(t, router, 0, mustPolicy(t, "open", "**", "true"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := f.dial(t, ctx)

	// A response frame from the peer is not a request; the session
	// must survive it.
	if err := channel.WriteFrame(wire.FrameResponse, []byte("stray")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	response := callOverChannel(t, channel, wire.Request{
		Version:       wire.ProtocolVersion,
		SessionID:     channel.Session().ID,
		CorrelationID: 2,
		Method:        testMethod(t, "data/read"),
		Payload:       []byte("still here"),
	})
	if response.Status != wire.StatusOk {
		t.Fatalf("status after stray frame: got %s, want %s", response.Status, wire.StatusOk)
	}
}

func TestHandleConnMalformedEnvelopeClosesSession(t *testing.T) {
	t.Parallel()
	f := newPipeFixture(t, NewRouter(), 0, mustPolicy(t, "open", "**", "true"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := f.dial(t, ctx)

	if err := channel.WriteFrame(wire.FrameRequest, []byte{0xff, 0xff}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, _, err := channel.ReadFrame(); !errors.Is(err, transport.ErrChannelClosed) {
		t.Fatalf("after malformed request: got %v, want %v", err, transport.ErrChannelClosed)
	}
	if n := f.d.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d sessions after teardown", n)
	}
}

func TestHandleConnEnvelopeMismatchClosesSession(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(request *wire.Request)
	}{
		{"wrong protocol version", func(r *wire.Request) { r.Version = 99 }},
		{"wrong session id", func(r *wire.Request) { r.SessionID++ }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := NewRouter()
			router.Handle(testMethod(t, "data/read"), echoHandler)
			f := newPipeFixture(t, router, 0, mustPolicy(t, "open", "**", "true"))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			channel := f.dial(t, ctx)

			request := wire.Request{
				Version:       wire.ProtocolVersion,
				SessionID:     channel.Session().ID,
				CorrelationID: 1,
				Method:        testMethod(t, "data/read"),
			}
			tt.mutate(&request)
			encoded, err := codec.Marshal(request)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if err := channel.WriteFrame(wire.FrameRequest, encoded); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}
			if _, _, err := channel.ReadFrame(); !errors.Is(err, transport.ErrChannelClosed) {
				t.Fatalf("after mismatched envelope: got %v, want %v", err, transport.ErrChannelClosed)
			}
		})
	}
}

func TestHandleConnIdleTimeout(t *testing.T) {
	t.Parallel()
	f := newPipeFixture(t, NewRouter(), 50*time.Millisecond, mustPolicy(t, "open", "**", "true"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := f.dial(t, ctx)

	if _, _, err := channel.ReadFrame(); !errors.Is(err, transport.ErrChannelClosed) {
		t.Fatalf("idle session: got %v, want %v", err, transport.ErrChannelClosed)
	}
	if n := f.d.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d sessions after idle close", n)
	}
}

func TestHandleConnBadHandshakeClosesConn(t *testing.T) {
	t.Parallel()
	f := newPipeFixture(t, NewRouter(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	done := make(chan struct{})
	go func() {
		f.d.HandleConn(ctx, serverConn)
		close(done)
	}()

	// A request frame before any handshake is not a valid opening.
	if err := wire.WriteFrame(clientConn, wire.Frame{Kind: wire.FrameRequest, Payload: []byte("x")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	testutil.RequireClosed(t, done, time.Second, "dispatcher abandons the connection")
	if _, err := wire.ReadFrame(clientConn); err == nil {
		t.Error("connection still open after handshake failure")
	}
	if n := f.d.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d sessions after failed handshake", n)
	}
}
