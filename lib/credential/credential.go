// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/ref"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// Limits on credential contents. Enforced at issue time and again
// during validation: a credential from the wire that exceeds them is
// malformed, not merely large.
const (
	// maxAttributes caps the number of attribute pairs in a single
	// credential.
	maxAttributes = 64

	// maxAttributeKeyLength caps the byte length of an attribute key.
	maxAttributeKeyLength = 128

	// maxAttributeValueLength caps the byte length of an attribute
	// value.
	maxAttributeValueLength = 4096

	// maxChainLength caps the number of credentials in a chain.
	maxChainLength = 4
)

// Errors returned by Decode, Validate, and ValidateChain. All
// validation failures are terminal: callers deny and never retry.
var (
	ErrMalformed       = errors.New("credential: malformed credential")
	ErrExpired         = errors.New("credential: outside validity window")
	ErrUntrustedIssuer = errors.New("credential: issuer not trusted")
	ErrBadSignature    = errors.New("credential: invalid signature")
)

// Attribute is a single (key, value) assertion about a subject.
// Attributes travel as an ordered sequence, not a map: document order
// is significant because duplicate keys resolve to the last
// occurrence when the set is flattened for policy evaluation.
type Attribute struct {
	Key   string `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint"`
}

// Credential is a signed, time-bounded set of attributes asserted by
// an issuer about a subject peer.
//
// The wire form is the deterministic CBOR encoding of the tagged
// fields followed by the issuer's 64-byte Ed25519 signature over
// exactly those payload bytes. Signature holds the detached signature
// after Decode and is never part of the CBOR payload.
type Credential struct {
	// Subject is the peer the attributes are asserted about.
	Subject ref.PeerID `cbor:"1,keyasint"`

	// Attributes is the ordered attribute sequence.
	Attributes []Attribute `cbor:"2,keyasint,omitempty"`

	// Issuer is the peer that signed this credential.
	Issuer ref.PeerID `cbor:"3,keyasint"`

	// NotBefore and NotAfter bound the validity window in Unix
	// seconds, both ends inclusive.
	NotBefore int64 `cbor:"4,keyasint"`
	NotAfter  int64 `cbor:"5,keyasint"`

	// IssuerKey is the issuer's Ed25519 public key. Embedding it
	// makes the credential self-contained: validators check that the
	// key's fingerprint matches Issuer before trusting it, so a
	// substituted key cannot satisfy a trusted peer ID.
	IssuerKey []byte `cbor:"6,keyasint"`

	// Signature is the detached Ed25519 signature over the payload
	// fields above.
	Signature []byte `cbor:"-"`
}

// Issue signs a new credential binding attrs to subject for the given
// validity window. The issuer's peer ID and public key are embedded
// so the result verifies without out-of-band key material.
func Issue(issuer *identity.PrivateIdentity, subject ref.PeerID, attrs []Attribute, notBefore, notAfter time.Time) (*Credential, error) {
	if subject.IsZero() {
		return nil, fmt.Errorf("credential: cannot issue for a zero subject")
	}
	if notAfter.Before(notBefore) {
		return nil, fmt.Errorf("credential: validity window ends before it begins")
	}
	if err := CheckAttributes(attrs); err != nil {
		return nil, err
	}

	cred := &Credential{
		Subject:    subject,
		Attributes: append([]Attribute(nil), attrs...),
		Issuer:     issuer.PeerID(),
		NotBefore:  notBefore.Unix(),
		NotAfter:   notAfter.Unix(),
		IssuerKey:  issuer.Public().PublicKey(),
	}

	payload, err := codec.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("credential: encoding payload: %w", err)
	}
	cred.Signature = issuer.Sign(payload)
	return cred, nil
}

// Encode returns the wire form: CBOR payload followed by the 64-byte
// signature.
func (c *Credential) Encode() ([]byte, error) {
	if len(c.Signature) != signatureSize {
		return nil, fmt.Errorf("credential: encoding credential without a signature")
	}
	payload, err := codec.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("credential: encoding payload: %w", err)
	}
	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], c.Signature)
	return result, nil
}

// Decode splits raw wire bytes into payload and signature and decodes
// the payload. Decode is purely structural: it does not verify the
// signature or the validity window — that is Validate's job.
func Decode(raw []byte) (*Credential, error) {
	if len(raw) <= signatureSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a signature", ErrMalformed, len(raw))
	}
	splitPoint := len(raw) - signatureSize
	var cred Credential
	if err := codec.Unmarshal(raw[:splitPoint], &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	cred.Signature = append([]byte(nil), raw[splitPoint:]...)
	return &cred, nil
}

// CheckAttributes enforces the attribute limits applied at issuance:
// at most 64 attributes, non-empty keys of at most 128 bytes, values
// of at most 4096 bytes. Shared by Issue and structural validation so
// the wire cannot carry what Issue would refuse to sign; exported so
// callers that stage attributes ahead of issuance (enrollment codes)
// can reject bad sets early.
func CheckAttributes(attrs []Attribute) error {
	if len(attrs) > maxAttributes {
		return fmt.Errorf("%w: %d attributes exceeds limit of %d", ErrMalformed, len(attrs), maxAttributes)
	}
	for _, attr := range attrs {
		if attr.Key == "" {
			return fmt.Errorf("%w: empty attribute key", ErrMalformed)
		}
		if len(attr.Key) > maxAttributeKeyLength {
			return fmt.Errorf("%w: attribute key exceeds %d bytes", ErrMalformed, maxAttributeKeyLength)
		}
		if len(attr.Value) > maxAttributeValueLength {
			return fmt.Errorf("%w: value for attribute %q exceeds %d bytes", ErrMalformed, attr.Key, maxAttributeValueLength)
		}
	}
	return nil
}
