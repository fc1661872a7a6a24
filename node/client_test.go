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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/policy"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/testutil"
	"github.com/cordon-foundation/cordon/transport"
)

// countingDialer wraps the TCP dialer and counts dials, so tests can
// assert session reuse.
type countingDialer struct {
	tcp   transport.TCPDialer
	dials atomic.Int64
}

func (d *countingDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	d.dials.Add(1)
	return d.tcp.DialContext(ctx, address)
}

// clientFixture is a dispatcher listening on a loopback TCP port plus
// a client resolved and pinned to it.
type clientFixture struct {
	authority *identity.PrivateIdentity
	server    *identity.PrivateIdentity
	clientID  *identity.PrivateIdentity
	trust     credential.TrustedIssuers
	address   string
	peer      ref.PeerName
	d         *Dispatcher
	dialer    *countingDialer
	client    *Client
}

func newClientFixture(t *testing.T, router *Router, policies ...policy.Policy) *clientFixture {
	t.Helper()
	authority := testSigner(t, 0xA0)
	server := testSigner(t, 0xB1)
	clientID := testSigner(t, 0xB2)
	trust := credential.NewTrustedIssuers(authority.PeerID())
	set, err := policy.NewSet(policies...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	now := time.Now()
	d := NewDispatcher(DispatcherConfig{
		Identity: server,
		Chain:    issueChain(t, authority, server.PeerID(), []credential.Attribute{{Key: "role", Value: "server"}}, now.Add(-time.Minute), now.Add(time.Hour)),
		Trust:    trust,
		Router:   router,
		Policies: set,
	})

	listener, err := transport.NewTCPListener(transport.TCPListenerConfig{Address: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go listener.Serve(ctx, func(conn net.Conn) { d.HandleConn(ctx, conn) })

	peer, err := ref.NewPeerName("relay/primary")
	if err != nil {
		t.Fatalf("NewPeerName: %v", err)
	}
	dialer := &countingDialer{}
	client := NewClient(ClientConfig{
		Identity: clientID,
		Chain:    issueChain(t, authority, clientID.PeerID(), []credential.Attribute{{Key: "role", Value: "admin"}}, now.Add(-time.Minute), now.Add(time.Hour)),
		Trust:    trust,
		Resolver: transport.NewStaticResolver(map[ref.PeerName]transport.Endpoint{
			peer: {Address: listener.Address(), Key: server.Public().PublicKey()},
		}),
		Dialer: dialer,
	})
	t.Cleanup(func() { client.Close() })

	return &clientFixture{
		authority: authority,
		server:    server,
		clientID:  clientID,
		trust:     trust,
		address:   listener.Address(),
		peer:      peer,
		d:         d,
		dialer:    dialer,
		client:    client,
	}
}

func TestClientCallRoundTrip(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newClientFixture(t, router, mustPolicy(t, "admins", "**", `subject.role == "admin"`))

	result, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), []byte("sector 7"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(result) != "sector 7" {
		t.Errorf("result: got %q, want %q", result, "sector 7")
	}
	if n := f.dialer.dials.Load(); n != 1 {
		t.Errorf("dials: got %d, want 1", n)
	}
}

func TestClientReusesSession(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newClientFixture(t, router, mustPolicy(t, "open", "**", "true"))

	for i := 0; i < 3; i++ {
		if _, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), nil); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := f.dialer.dials.Load(); n != 1 {
		t.Errorf("dials: got %d, want 1", n)
	}
}

func TestClientRedialsAfterServerClose(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newClientFixture(t, router, mustPolicy(t, "open", "**", "true"))

	if _, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), nil); err != nil {
		t.Fatalf("first call: %v", err)
	}

	f.d.Registry().CloseAll()
	testutil.Eventually(t, time.Second, func() bool { return f.client.Registry().Len() == 0 }, "client session drained")

	result, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), []byte("again"))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(result) != "again" {
		t.Errorf("result: got %q, want %q", result, "again")
	}
	if n := f.dialer.dials.Load(); n != 2 {
		t.Errorf("dials: got %d, want 2", n)
	}
}

func TestClientMethodNotFound(t *testing.T) {
	t.Parallel()
	f := newClientFixture(t, NewRouter(), mustPolicy(t, "open", "**", "true"))

	_, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), nil)
	if !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("got %v, want %v", err, ErrMethodNotFound)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error %v does not carry a StatusError", err)
	}
	if !strings.Contains(statusErr.Message, "data/read") {
		t.Errorf("message %q does not name the method", statusErr.Message)
	}
}

func TestClientDenied(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newClientFixture(t, router, mustPolicy(t, "superusers", "**", `subject.role == "superuser"`))

	_, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), nil)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("got %v, want %v", err, ErrDenied)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error %v does not carry a StatusError", err)
	}
	if statusErr.Message != "" {
		t.Errorf("denial carried a reason %q over the wire", statusErr.Message)
	}
}

func TestClientHandlerError(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), func(ctx context.Context, call *Call) ([]byte, error) {
		return nil, errors.New("tank is empty")
	})
	f := newClientFixture(t, router, mustPolicy(t, "open", "**", "true"))

	_, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), nil)
	if !errors.Is(err, ErrHandlerFailed) {
		t.Fatalf("got %v, want %v", err, ErrHandlerFailed)
	}
	if !strings.Contains(err.Error(), "tank is empty") {
		t.Errorf("error %v does not carry the handler's message", err)
	}
}

func TestClientUnknownPeerUnreachable(t *testing.T) {
	t.Parallel()
	f := newClientFixture(t, NewRouter(), mustPolicy(t, "open", "**", "true"))

	ghost, err := ref.NewPeerName("relay/ghost")
	if err != nil {
		t.Fatalf("NewPeerName: %v", err)
	}
	_, err = f.client.Call(context.Background(), ghost, testMethod(t, "data/read"), nil)
	if !errors.Is(err, transport.ErrPeerUnreachable) {
		t.Fatalf("got %v, want %v", err, transport.ErrPeerUnreachable)
	}
	if n := f.dialer.dials.Load(); n != 0 {
		t.Errorf("dials: got %d, want 0", n)
	}
}

func TestClientPinnedKeyMismatch(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newClientFixture(t, router, mustPolicy(t, "open", "**", "true"))

	// This resolver pins the authority's key for the server's
	// endpoint, so the handshake proves the wrong identity.
	wrong := NewClient(ClientConfig{
		Identity: f.clientID,
		Trust:    f.trust,
		Resolver: transport.NewStaticResolver(map[ref.PeerName]transport.Endpoint{
			f.peer: {Address: f.address, Key: f.authority.Public().PublicKey()},
		}),
	})
	t.Cleanup(func() { wrong.Close() })

	_, err := wrong.Call(context.Background(), f.peer, testMethod(t, "data/read"), nil)
	if !errors.Is(err, transport.ErrHandshakeFailed) {
		t.Fatalf("got %v, want %v", err, transport.ErrHandshakeFailed)
	}
}

func TestClientCallTimeout(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/stall"), func(ctx context.Context, call *Call) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newClientFixture(t, router, mustPolicy(t, "open", "**", "true"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.client.Call(ctx, f.peer, testMethod(t, "data/stall"), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestClientSetChainAppliesToNextHandshake(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newClientFixture(t, router, mustPolicy(t, "admins", "**", `subject.role == "admin"`))

	// A client that starts unenrolled: its handshake succeeds but the
	// session is semi-trusted, so the attribute policy denies it.
	memberID := testSigner(t, 0xB3)
	dialer := &countingDialer{}
	member := NewClient(ClientConfig{
		Identity: memberID,
		Trust:    f.trust,
		Resolver: transport.NewStaticResolver(map[ref.PeerName]transport.Endpoint{
			f.peer: {Address: f.address, Key: f.server.Public().PublicKey()},
		}),
		Dialer: dialer,
	})
	t.Cleanup(func() { member.Close() })

	if _, err := member.Call(context.Background(), f.peer, testMethod(t, "data/read"), nil); !errors.Is(err, ErrDenied) {
		t.Fatalf("unenrolled call: got %v, want %v", err, ErrDenied)
	}

	now := time.Now()
	member.SetChain(issueChain(t, f.authority, memberID.PeerID(), []credential.Attribute{{Key: "role", Value: "admin"}}, now.Add(-time.Minute), now.Add(time.Hour)))
	// The cached session still carries no attributes; drop it so the
	// next call handshakes with the new chain.
	member.Registry().CloseAll()

	result, err := member.Call(context.Background(), f.peer, testMethod(t, "data/read"), []byte("enrolled"))
	if err != nil {
		t.Fatalf("enrolled call: %v", err)
	}
	if string(result) != "enrolled" {
		t.Errorf("result: got %q, want %q", result, "enrolled")
	}
	if n := dialer.dials.Load(); n != 2 {
		t.Errorf("dials: got %d, want 2", n)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	t.Parallel()
	router := NewRouter()
	router.Handle(testMethod(t, "data/read"), echoHandler)
	f := newClientFixture(t, router, mustPolicy(t, "open", "**", "true"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("call %d", i))
			result, err := f.client.Call(context.Background(), f.peer, testMethod(t, "data/read"), payload)
			if err != nil {
				errs[i] = err
				return
			}
			if !bytes.Equal(result, payload) {
				errs[i] = fmt.Errorf("payload: got %q, want %q", result, payload)
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
	if n := f.dialer.dials.Load(); n != 1 {
		t.Errorf("dials: got %d, want 1", n)
	}
}
