// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/ref"
)

// testSigner returns a deterministic issuer identity derived from a
// repeated seed byte.
func testSigner(t *testing.T, value byte) *identity.PrivateIdentity {
	t.Helper()
	seed := bytes.Repeat([]byte{value}, identity.SeedSize)
	signer, err := identity.FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	t.Cleanup(func() { signer.Close() })
	return signer
}

// testSubject returns a deterministic peer ID from a repeated
// fingerprint byte.
func testSubject(t *testing.T, value byte) ref.PeerID {
	t.Helper()
	peer, err := ref.PeerIDFromFingerprint(bytes.Repeat([]byte{value}, ref.FingerprintSize))
	if err != nil {
		t.Fatalf("PeerIDFromFingerprint: %v", err)
	}
	return peer
}

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestIssueEncodeDecode(t *testing.T) {
	signer := testSigner(t, 0x01)
	subject := testSubject(t, 0xAA)

	attrs := []Attribute{
		{Key: "role", Value: "admin"},
		{Key: "team", Value: "platform"},
	}
	cred, err := Issue(signer, subject, attrs, testBase, testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if cred.Subject != subject {
		t.Errorf("Subject = %s, want %s", cred.Subject, subject)
	}
	if cred.Issuer != signer.PeerID() {
		t.Errorf("Issuer = %s, want %s", cred.Issuer, signer.PeerID())
	}
	if !bytes.Equal(cred.IssuerKey, signer.Public().PublicKey()) {
		t.Error("IssuerKey does not match signer public key")
	}
	if len(cred.Signature) != signatureSize {
		t.Errorf("Signature length = %d, want %d", len(cred.Signature), signatureSize)
	}

	raw, err := cred.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(raw) <= signatureSize {
		t.Fatalf("wire credential too short: %d bytes", len(raw))
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Subject != cred.Subject || decoded.Issuer != cred.Issuer {
		t.Errorf("decoded identities = (%s, %s), want (%s, %s)",
			decoded.Subject, decoded.Issuer, cred.Subject, cred.Issuer)
	}
	if decoded.NotBefore != testBase.Unix() || decoded.NotAfter != testBase.Add(time.Hour).Unix() {
		t.Errorf("decoded window = [%d, %d], want [%d, %d]",
			decoded.NotBefore, decoded.NotAfter, testBase.Unix(), testBase.Add(time.Hour).Unix())
	}
	if len(decoded.Attributes) != 2 {
		t.Fatalf("decoded attributes length = %d, want 2", len(decoded.Attributes))
	}
	// Document order survives the round trip.
	if decoded.Attributes[0].Key != "role" || decoded.Attributes[1].Key != "team" {
		t.Errorf("attribute order = [%s, %s], want [role, team]",
			decoded.Attributes[0].Key, decoded.Attributes[1].Key)
	}
	if !bytes.Equal(decoded.Signature, cred.Signature) {
		t.Error("decoded signature does not match")
	}
}

func TestIssueDeterministic(t *testing.T) {
	subject := testSubject(t, 0xAA)
	attrs := []Attribute{{Key: "role", Value: "admin"}}

	first, err := Issue(testSigner(t, 0x01), subject, attrs, testBase, testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := Issue(testSigner(t, 0x01), subject, attrs, testBase, testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	firstRaw, err := first.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	secondRaw, err := second.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(firstRaw, secondRaw) {
		t.Error("identical inputs must produce identical wire bytes")
	}
}

func TestIssue_ZeroSubject(t *testing.T) {
	signer := testSigner(t, 0x01)
	_, err := Issue(signer, ref.PeerID{}, nil, testBase, testBase.Add(time.Hour))
	if err == nil {
		t.Fatal("Issue with zero subject: expected error")
	}
}

func TestIssue_InvertedWindow(t *testing.T) {
	signer := testSigner(t, 0x01)
	subject := testSubject(t, 0xAA)
	_, err := Issue(signer, subject, nil, testBase.Add(time.Hour), testBase)
	if err == nil {
		t.Fatal("Issue with inverted window: expected error")
	}
}

func TestIssue_AttributeLimits(t *testing.T) {
	signer := testSigner(t, 0x01)
	subject := testSubject(t, 0xAA)

	tooMany := make([]Attribute, maxAttributes+1)
	for i := range tooMany {
		tooMany[i] = Attribute{Key: "k", Value: "v"}
	}

	tests := []struct {
		name  string
		attrs []Attribute
	}{
		{"empty key", []Attribute{{Key: "", Value: "v"}}},
		{"oversized key", []Attribute{{Key: strings.Repeat("k", maxAttributeKeyLength+1), Value: "v"}}},
		{"oversized value", []Attribute{{Key: "k", Value: strings.Repeat("v", maxAttributeValueLength+1)}}},
		{"too many attributes", tooMany},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Issue(signer, subject, tt.attrs, testBase, testBase.Add(time.Hour))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("got %v, want ErrMalformed", err)
			}
		})
	}
}

func TestEncode_Unsigned(t *testing.T) {
	cred := &Credential{Subject: testSubject(t, 0xAA)}
	if _, err := cred.Encode(); err == nil {
		t.Fatal("Encode without signature: expected error")
	}
}

func TestDecode_TooShort(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode(nil): got %v, want ErrMalformed", err)
	}
	// Exactly 64 bytes: all signature, no payload.
	if _, err := Decode(make([]byte, signatureSize)); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode(64 bytes): got %v, want ErrMalformed", err)
	}
}

func TestDecode_Garbage(t *testing.T) {
	raw := bytes.Repeat([]byte{0xFF}, signatureSize+10)
	if _, err := Decode(raw); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode(garbage): got %v, want ErrMalformed", err)
	}
}

func TestCredentialWireSize(t *testing.T) {
	signer := testSigner(t, 0x01)
	subject := testSubject(t, 0xAA)

	// A typical enrollment credential with a few attributes.
	cred, err := Issue(signer, subject, []Attribute{
		{Key: "role", Value: "admin"},
		{Key: "team", Value: "platform"},
		{Key: "env", Value: "production"},
	}, testBase, testBase.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	raw, err := cred.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	payloadSize := len(raw) - signatureSize
	t.Logf("credential wire size: %d bytes total (%d payload + %d signature)",
		len(raw), payloadSize, signatureSize)

	// Sanity check: a typical credential should be well under 1KB.
	if len(raw) > 1024 {
		t.Errorf("credential unexpectedly large: %d bytes", len(raw))
	}
}
