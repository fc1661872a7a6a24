// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test wires the full stack together in one
// process: an authority with a SQLite trust store and a serving node,
// each behind a real TCP listener and dispatcher, with clients
// enrolling and calling over loopback. Everything runs on the wall
// clock; scenarios that need an expired credential mint one with a
// window already in the past.
package integration_test

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cordon-foundation/cordon/lib/authority"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/policy"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/node"
	"github.com/cordon-foundation/cordon/transport"
)

// Methods the serving node mounts for these tests.
var (
	methodEcho = ref.MustMethod("work/echo")
	methodWipe = ref.MustMethod("admin/wipe")
)

func testSigner(t *testing.T, value byte) *identity.PrivateIdentity {
	t.Helper()
	signer, err := identity.FromSeed(bytes.Repeat([]byte{value}, identity.SeedSize))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	t.Cleanup(func() { signer.Close() })
	return signer
}

type policySpec struct {
	name, resource, rule string
}

func policySet(t *testing.T, specs ...policySpec) *policy.Set {
	t.Helper()
	policies := make([]policy.Policy, 0, len(specs))
	for _, spec := range specs {
		p, err := policy.NewPolicy(spec.name, spec.resource, spec.rule)
		if err != nil {
			t.Fatalf("NewPolicy(%q): %v", spec.name, err)
		}
		policies = append(policies, p)
	}
	set, err := policy.NewSet(policies...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return set
}

// targetPolicies is the serving node's default gate for these tests:
// echo for workers, wipe for superadmins only.
func targetPolicies(t *testing.T) *policy.Set {
	return policySet(t,
		policySpec{"worker-echo", "work/echo", `subject.role == "worker"`},
		policySpec{"superadmin-wipe", "admin/wipe", `subject.role == "superadmin"`},
	)
}

// authorityPolicies mirrors the authority daemon's default set.
func authorityPolicies(t *testing.T) *policy.Set {
	return policySet(t,
		policySpec{"open-enrollment", "authority/enroll", "true"},
		policySpec{"operator-lookup", "authority/lookup", `subject.role == "operator"`},
		policySpec{"operator-revoke", "authority/revoke", `subject.role == "operator"`},
	)
}

// stack is a running authority plus one serving node, reachable by
// name through a shared resolver.
type stack struct {
	auth       *authority.Authority
	authSigner *identity.PrivateIdentity

	targetSigner   *identity.PrivateIdentity
	targetRegistry *transport.Registry
	targetAddress  string

	authorityName ref.PeerName
	targetName    ref.PeerName
	resolver      *transport.StaticResolver
}

// startStack boots both listeners. The serving node answers
// work/echo and admin/wipe under the given policy set.
func startStack(t *testing.T, policies *policy.Set) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	authSigner := testSigner(t, 0xA1)
	store, err := authority.OpenSQLiteStore(authority.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "trust.db"),
	})
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	auth, err := authority.New(authority.Config{
		Identity: authSigner,
		Store:    store,
		Validity: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	authRouter := node.NewRouter()
	auth.Register(authRouter)
	authAddress := serveNode(t, ctx, node.DispatcherConfig{
		Identity: authSigner,
		Trust:    auth.TrustedIssuers(),
		Router:   authRouter,
		Policies: authorityPolicies(t),
	})

	targetSigner := testSigner(t, 0xB1)
	targetRegistry := transport.NewRegistry()
	targetRouter := node.NewRouter()
	targetRouter.Handle(methodEcho, func(ctx context.Context, call *node.Call) ([]byte, error) {
		return call.Payload, nil
	})
	targetRouter.Handle(methodWipe, func(ctx context.Context, call *node.Call) ([]byte, error) {
		return []byte("wiped"), nil
	})
	targetAddress := serveNode(t, ctx, node.DispatcherConfig{
		Identity: targetSigner,
		Trust:    auth.TrustedIssuers(),
		Router:   targetRouter,
		Policies: policies,
		Registry: targetRegistry,
	})

	authorityName := ref.MustPeerName("authority/main")
	targetName := ref.MustPeerName("node/target")
	resolver := transport.NewStaticResolver(map[ref.PeerName]transport.Endpoint{
		authorityName: {Address: authAddress, Key: authSigner.Public().PublicKey()},
		targetName:    {Address: targetAddress, Key: targetSigner.Public().PublicKey()},
	})

	return &stack{
		auth:           auth,
		authSigner:     authSigner,
		targetSigner:   targetSigner,
		targetRegistry: targetRegistry,
		targetAddress:  targetAddress,
		authorityName:  authorityName,
		targetName:     targetName,
		resolver:       resolver,
	}
}

// serveNode starts a dispatcher behind a loopback listener and
// returns the bound address.
func serveNode(t *testing.T, ctx context.Context, cfg node.DispatcherConfig) string {
	t.Helper()
	dispatcher := node.NewDispatcher(cfg)
	listener, err := transport.NewTCPListener(transport.TCPListenerConfig{
		Address: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go listener.Serve(ctx, func(conn net.Conn) {
		dispatcher.HandleConn(ctx, conn)
	})
	return listener.Address()
}

// client builds a caller. A nil chain gives identity-only sessions.
func (s *stack) client(t *testing.T, signer *identity.PrivateIdentity, chain [][]byte) *node.Client {
	t.Helper()
	client := node.NewClient(node.ClientConfig{
		Identity: signer,
		Chain:    chain,
		Trust:    s.auth.TrustedIssuers(),
		Resolver: s.resolver,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func (s *stack) mintCode(t *testing.T, attrs ...credential.Attribute) string {
	t.Helper()
	code, err := s.auth.Codes().IssueCode(attrs, time.Hour)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	return code.Secret
}

// enroll runs the full first-boot flow for signer: mint a code, open
// an identity-only session to the authority, redeem, verify, persist.
func (s *stack) enroll(t *testing.T, signer *identity.PrivateIdentity, attrs ...credential.Attribute) [][]byte {
	t.Helper()
	chain, err := authority.EnsureCredential(t.Context(), authority.EnrollmentConfig{
		Client:    s.client(t, signer, nil),
		Authority: s.authorityName,
		Issuer:    s.auth.PeerID(),
		Subject:   signer.PeerID(),
		Code:      s.mintCode(t, attrs...),
		Path:      filepath.Join(t.TempDir(), "node.credential"),
	})
	if err != nil {
		t.Fatalf("EnsureCredential: %v", err)
	}
	return chain
}

// chainFor issues a credential directly with an arbitrary validity
// window, standing in for an earlier enrollment.
func (s *stack) chainFor(t *testing.T, subject ref.PeerID, notBefore, notAfter time.Time, attrs ...credential.Attribute) [][]byte {
	t.Helper()
	cred, err := credential.Issue(s.authSigner, subject, attrs, notBefore, notAfter)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	chain, err := credential.EncodeChain(cred)
	if err != nil {
		t.Fatalf("EncodeChain: %v", err)
	}
	return chain
}

// operatorChain is a live operator credential for subject.
func (s *stack) operatorChain(t *testing.T, subject ref.PeerID) [][]byte {
	now := time.Now()
	return s.chainFor(t, subject, now.Add(-time.Minute), now.Add(time.Hour),
		credential.Attribute{Key: "role", Value: "operator"})
}

func lookupPayload(t *testing.T, subject ref.PeerID) []byte {
	t.Helper()
	body, err := codec.Marshal(authority.LookupRequest{Subject: subject})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return body
}

func revokePayload(t *testing.T, subject ref.PeerID) []byte {
	t.Helper()
	body, err := codec.Marshal(authority.RevokeRequest{Subject: subject})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return body
}
