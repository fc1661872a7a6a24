// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority_test

import (
	"context"
	"errors"
	"net"
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

// serviceFixture runs a complete authority node: an Authority mounted
// on a dispatcher behind a loopback TCP listener. Tests talk to it
// exactly the way a production node does. The wall clock is used
// throughout; credential windows are wide enough that test duration
// never matters.
type serviceFixture struct {
	auth     *authority.Authority
	signer   *identity.PrivateIdentity
	peer     ref.PeerName
	resolver *transport.StaticResolver
}

// servicePolicies gates the authority's methods: enrollment is open
// to any session with a channel (the code is the gate), lookup and
// revoke require an operator credential.
func servicePolicies(t *testing.T) *policy.Set {
	t.Helper()
	var policies []policy.Policy
	for _, spec := range []struct {
		name, resource, rule string
	}{
		{"open-enrollment", "authority/enroll", "true"},
		{"operator-lookup", "authority/lookup", `subject.role == "operator"`},
		{"operator-revoke", "authority/revoke", `subject.role == "operator"`},
	} {
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

func startAuthorityNode(t *testing.T) *serviceFixture {
	t.Helper()
	signer := testSigner(t, 0xA1)
	auth, err := authority.New(authority.Config{
		Identity: signer,
		Store:    authority.NewMemoryStore(),
		Validity: time.Hour,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	router := node.NewRouter()
	auth.Register(router)

	dispatcher := node.NewDispatcher(node.DispatcherConfig{
		Identity: signer,
		Trust:    auth.TrustedIssuers(),
		Router:   router,
		Policies: servicePolicies(t),
	})

	listener, err := transport.NewTCPListener(transport.TCPListenerConfig{
		Address: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("NewTCPListener: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		listener.Close()
	})
	go listener.Serve(ctx, func(conn net.Conn) {
		dispatcher.HandleConn(ctx, conn)
	})

	peer := ref.MustPeerName("authority/main")
	resolver := transport.NewStaticResolver(map[ref.PeerName]transport.Endpoint{
		peer: {
			Address: listener.Address(),
			Key:     signer.Public().PublicKey(),
		},
	})

	return &serviceFixture{
		auth:     auth,
		signer:   signer,
		peer:     peer,
		resolver: resolver,
	}
}

// nodeClient builds a client for a caller identity. A nil chain gives
// identity-only sessions, the state every candidate starts in.
func (f *serviceFixture) nodeClient(t *testing.T, signer *identity.PrivateIdentity, chain [][]byte) *node.Client {
	t.Helper()
	client := node.NewClient(node.ClientConfig{
		Identity: signer,
		Chain:    chain,
		Trust:    f.auth.TrustedIssuers(),
		Resolver: f.resolver,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

// operatorChain issues an operator credential directly, standing in
// for an operator who enrolled earlier.
func (f *serviceFixture) operatorChain(t *testing.T, subject ref.PeerID) [][]byte {
	t.Helper()
	now := time.Now()
	cred, err := credential.Issue(f.signer, subject,
		[]credential.Attribute{{Key: "role", Value: "operator"}},
		now.Add(-time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	chain, err := credential.EncodeChain(cred)
	if err != nil {
		t.Fatalf("EncodeChain: %v", err)
	}
	return chain
}

// mintCode issues an enrollment code and returns its secret in the
// form an operator would hand to a candidate.
func (f *serviceFixture) mintCode(t *testing.T, attrs []credential.Attribute) string {
	t.Helper()
	code, err := f.auth.Codes().IssueCode(attrs, time.Hour)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	return code.Secret
}

func enrollPayload(t *testing.T, code string) []byte {
	t.Helper()
	body, err := codec.Marshal(authority.EnrollRequest{Code: code})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return body
}

func TestServiceEnroll(t *testing.T) {
	f := startAuthorityNode(t)
	ctx := context.Background()
	candidate := testSigner(t, 0x01)
	client := f.nodeClient(t, candidate, nil)
	code := f.mintCode(t, []credential.Attribute{{Key: "role", Value: "member"}})

	payload, err := client.Call(ctx, f.peer, authority.MethodEnroll, enrollPayload(t, code))
	if err != nil {
		t.Fatalf("Call(enroll): %v", err)
	}

	var response authority.EnrollResponse
	if err := codec.Unmarshal(payload, &response); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	cred, err := credential.Decode(response.Credential)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	verified, err := credential.Validate(cred, f.auth.TrustedIssuers(), time.Now())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	// The credential names the session peer, not anything the request
	// claimed, and carries the code's attributes.
	if verified.Subject() != candidate.PeerID() {
		t.Errorf("Subject = %v, want %v", verified.Subject(), candidate.PeerID())
	}
	if role, ok := verified.Get("role"); !ok || role != "member" {
		t.Errorf(`Get("role") = %q, %v, want "member", true`, role, ok)
	}

	record, err := f.auth.Lookup(ctx, candidate.PeerID())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if record.Revoked {
		t.Error("fresh record is revoked")
	}
}

func TestServiceEnrollRejectsBadCode(t *testing.T) {
	f := startAuthorityNode(t)
	ctx := context.Background()
	client := f.nodeClient(t, testSigner(t, 0x01), nil)

	for name, code := range map[string]string{
		"unknown code":   "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff",
		"malformed code": "not hex at all",
	} {
		_, err := client.Call(ctx, f.peer, authority.MethodEnroll, enrollPayload(t, code))
		if !errors.Is(err, node.ErrHandlerFailed) {
			t.Fatalf("%s: Call(enroll) error = %v, want ErrHandlerFailed", name, err)
		}
		var status *node.StatusError
		if !errors.As(err, &status) {
			t.Fatalf("%s: error %v carries no StatusError", name, err)
		}
		if status.Message != "not eligible" {
			t.Errorf("%s: error detail = %q, want %q", name, status.Message, "not eligible")
		}
	}
}

func TestServiceEnrollSecondAttemptRejected(t *testing.T) {
	f := startAuthorityNode(t)
	ctx := context.Background()
	candidate := testSigner(t, 0x01)
	client := f.nodeClient(t, candidate, nil)

	first := f.mintCode(t, nil)
	if _, err := client.Call(ctx, f.peer, authority.MethodEnroll, enrollPayload(t, first)); err != nil {
		t.Fatalf("Call(enroll): %v", err)
	}

	// A fresh, perfectly valid code cannot enroll the same identity
	// while its record is live.
	second := f.mintCode(t, nil)
	_, err := client.Call(ctx, f.peer, authority.MethodEnroll, enrollPayload(t, second))
	var status *node.StatusError
	if !errors.As(err, &status) || status.Message != "already enrolled" {
		t.Fatalf("second enroll error = %v, want detail %q", err, "already enrolled")
	}
}

func TestServiceEnrollMalformedBody(t *testing.T) {
	f := startAuthorityNode(t)
	client := f.nodeClient(t, testSigner(t, 0x01), nil)

	_, err := client.Call(context.Background(), f.peer, authority.MethodEnroll, []byte{0xff, 0xff})
	var status *node.StatusError
	if !errors.As(err, &status) || status.Message != "malformed request" {
		t.Fatalf("enroll error = %v, want detail %q", err, "malformed request")
	}
}

func TestServiceLookupRequiresOperator(t *testing.T) {
	f := startAuthorityNode(t)
	ctx := context.Background()
	candidate := testSigner(t, 0x01)
	client := f.nodeClient(t, candidate, nil)

	code := f.mintCode(t, []credential.Attribute{{Key: "role", Value: "member"}})
	if _, err := client.Call(ctx, f.peer, authority.MethodEnroll, enrollPayload(t, code)); err != nil {
		t.Fatalf("Call(enroll): %v", err)
	}

	// The enrollee's identity-only session cannot read trust records.
	body, err := codec.Marshal(authority.LookupRequest{Subject: candidate.PeerID()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := client.Call(ctx, f.peer, authority.MethodLookup, body); !errors.Is(err, node.ErrDenied) {
		t.Fatalf("Call(lookup) as candidate error = %v, want ErrDenied", err)
	}

	// An operator can.
	operator := testSigner(t, 0x02)
	opClient := f.nodeClient(t, operator, f.operatorChain(t, operator.PeerID()))
	payload, err := opClient.Call(ctx, f.peer, authority.MethodLookup, body)
	if err != nil {
		t.Fatalf("Call(lookup) as operator: %v", err)
	}
	var record authority.TrustRecord
	if err := codec.Unmarshal(payload, &record); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if record.Subject != candidate.PeerID() {
		t.Errorf("record subject = %v, want %v", record.Subject, candidate.PeerID())
	}
	if record.Revoked {
		t.Error("record is revoked")
	}
}

func TestServiceLookupUnknownSubject(t *testing.T) {
	f := startAuthorityNode(t)
	operator := testSigner(t, 0x02)
	opClient := f.nodeClient(t, operator, f.operatorChain(t, operator.PeerID()))

	body, err := codec.Marshal(authority.LookupRequest{Subject: testSigner(t, 0x03).PeerID()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, err = opClient.Call(context.Background(), f.peer, authority.MethodLookup, body)
	var status *node.StatusError
	if !errors.As(err, &status) || status.Message != "no trust record" {
		t.Fatalf("lookup error = %v, want detail %q", err, "no trust record")
	}
}

func TestServiceRevoke(t *testing.T) {
	f := startAuthorityNode(t)
	ctx := context.Background()
	candidate := testSigner(t, 0x01)
	client := f.nodeClient(t, candidate, nil)
	code := f.mintCode(t, nil)
	if _, err := client.Call(ctx, f.peer, authority.MethodEnroll, enrollPayload(t, code)); err != nil {
		t.Fatalf("Call(enroll): %v", err)
	}

	operator := testSigner(t, 0x02)
	opClient := f.nodeClient(t, operator, f.operatorChain(t, operator.PeerID()))
	body, err := codec.Marshal(authority.RevokeRequest{Subject: candidate.PeerID()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if _, err := opClient.Call(ctx, f.peer, authority.MethodRevoke, body); err != nil {
		t.Fatalf("Call(revoke): %v", err)
	}
	record, err := f.auth.Lookup(ctx, candidate.PeerID())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !record.Revoked {
		t.Error("record is not revoked after revoke call")
	}

	// Revoking again is a success no-op.
	if _, err := opClient.Call(ctx, f.peer, authority.MethodRevoke, body); err != nil {
		t.Fatalf("second Call(revoke): %v", err)
	}

	// Revoking an identity that never enrolled reports the absence.
	unknown, err := codec.Marshal(authority.RevokeRequest{Subject: testSigner(t, 0x03).PeerID()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, err = opClient.Call(ctx, f.peer, authority.MethodRevoke, unknown)
	var status *node.StatusError
	if !errors.As(err, &status) || status.Message != "no trust record" {
		t.Fatalf("revoke unknown error = %v, want detail %q", err, "no trust record")
	}
}

func TestServiceRevokeDeniedWithoutOperatorRole(t *testing.T) {
	f := startAuthorityNode(t)
	ctx := context.Background()
	candidate := testSigner(t, 0x01)
	client := f.nodeClient(t, candidate, nil)
	code := f.mintCode(t, []credential.Attribute{{Key: "role", Value: "member"}})
	if _, err := client.Call(ctx, f.peer, authority.MethodEnroll, enrollPayload(t, code)); err != nil {
		t.Fatalf("Call(enroll): %v", err)
	}

	body, err := codec.Marshal(authority.RevokeRequest{Subject: candidate.PeerID()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := client.Call(ctx, f.peer, authority.MethodRevoke, body); !errors.Is(err, node.ErrDenied) {
		t.Fatalf("Call(revoke) as candidate error = %v, want ErrDenied", err)
	}
}
