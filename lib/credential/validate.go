// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"crypto/ed25519"
	"fmt"
	"sort"
	"time"

	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/ref"
)

// TrustedIssuers is the set of peers whose signatures are accepted on
// credentials. The zero value is an empty set that trusts no one.
type TrustedIssuers map[ref.PeerID]bool

// NewTrustedIssuers builds a set from the given peer IDs. Zero IDs
// are ignored.
func NewTrustedIssuers(issuers ...ref.PeerID) TrustedIssuers {
	set := make(TrustedIssuers, len(issuers))
	for _, issuer := range issuers {
		if !issuer.IsZero() {
			set[issuer] = true
		}
	}
	return set
}

// Contains reports whether the set trusts the given peer.
func (t TrustedIssuers) Contains(peer ref.PeerID) bool { return t[peer] }

// VerifiedAttributes is the flattened attribute set extracted from a
// validated credential, bound to the subject it was asserted about.
// It is an immutable snapshot: the validity window is retained so
// long-lived holders (cached sessions) can re-check expiry per
// request without re-verifying the signature.
type VerifiedAttributes struct {
	subject   ref.PeerID
	issuer    ref.PeerID
	attrs     map[string]string
	notBefore int64
	notAfter  int64
}

// Subject returns the peer the attributes are bound to.
func (v VerifiedAttributes) Subject() ref.PeerID { return v.subject }

// Issuer returns the peer that asserted the attributes. For a chain
// this is the issuer of the subject credential, not the trust root.
func (v VerifiedAttributes) Issuer() ref.PeerID { return v.issuer }

// Get returns the value for key and whether the key is present.
func (v VerifiedAttributes) Get(key string) (string, bool) {
	value, ok := v.attrs[key]
	return value, ok
}

// Len returns the number of distinct attribute keys.
func (v VerifiedAttributes) Len() int { return len(v.attrs) }

// Keys returns the attribute keys in sorted order.
func (v VerifiedAttributes) Keys() []string {
	keys := make([]string, 0, len(v.attrs))
	for key := range v.attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the flattened attribute set.
func (v VerifiedAttributes) Map() map[string]string {
	attrs := make(map[string]string, len(v.attrs))
	for key, value := range v.attrs {
		attrs[key] = value
	}
	return attrs
}

// ExpiredAt reports whether now falls outside the validity window.
// For a chain the window is the intersection of every validated
// link's window.
func (v VerifiedAttributes) ExpiredAt(now time.Time) bool {
	unix := now.Unix()
	return unix < v.notBefore || unix > v.notAfter
}

// Validate checks a decoded credential against the trusted issuer set
// at the given time and returns the flattened attribute set on
// success.
//
// Checks run in a fixed order and the first failure wins: structure
// (ErrMalformed), validity window (ErrExpired), issuer membership
// (ErrUntrustedIssuer), signature (ErrBadSignature). The window is
// checked before the signature, so an expired credential reports
// ErrExpired even when its signature is also invalid.
func Validate(cred *Credential, trusted TrustedIssuers, now time.Time) (VerifiedAttributes, error) {
	if err := checkStructure(cred); err != nil {
		return VerifiedAttributes{}, err
	}
	if err := checkWindow(cred, now); err != nil {
		return VerifiedAttributes{}, err
	}
	if !trusted.Contains(cred.Issuer) {
		return VerifiedAttributes{}, fmt.Errorf("%w: %s", ErrUntrustedIssuer, cred.Issuer)
	}
	if err := checkSignature(cred); err != nil {
		return VerifiedAttributes{}, err
	}
	return flatten(cred), nil
}

// ValidateChain validates a subject-first credential chain: element 0
// is the credential about the subject, and each subsequent element is
// a credential about the previous element's issuer. The walk stops at
// the first link whose issuer is in the trusted set; every link up to
// and including that one must pass full validation at now. Links
// after the trust root must decode but are otherwise ignored.
//
// On success the returned attributes are the subject credential's,
// with the validity window narrowed to the intersection of every
// validated link's window.
func ValidateChain(chain [][]byte, trusted TrustedIssuers, now time.Time) (VerifiedAttributes, error) {
	if len(chain) == 0 {
		return VerifiedAttributes{}, fmt.Errorf("%w: empty credential chain", ErrMalformed)
	}
	if len(chain) > maxChainLength {
		return VerifiedAttributes{}, fmt.Errorf("%w: chain of %d exceeds limit of %d", ErrMalformed, len(chain), maxChainLength)
	}

	creds := make([]*Credential, len(chain))
	for i, raw := range chain {
		cred, err := Decode(raw)
		if err != nil {
			return VerifiedAttributes{}, fmt.Errorf("chain link %d: %w", i, err)
		}
		creds[i] = cred
	}

	notBefore := creds[0].NotBefore
	notAfter := creds[0].NotAfter
	for i, cred := range creds {
		if err := checkStructure(cred); err != nil {
			return VerifiedAttributes{}, fmt.Errorf("chain link %d: %w", i, err)
		}
		if err := checkWindow(cred, now); err != nil {
			return VerifiedAttributes{}, fmt.Errorf("chain link %d: %w", i, err)
		}
		rooted := trusted.Contains(cred.Issuer)
		if !rooted && i == len(creds)-1 {
			return VerifiedAttributes{}, fmt.Errorf("chain link %d: %w: %s", i, ErrUntrustedIssuer, cred.Issuer)
		}
		if err := checkSignature(cred); err != nil {
			return VerifiedAttributes{}, fmt.Errorf("chain link %d: %w", i, err)
		}
		if cred.NotBefore > notBefore {
			notBefore = cred.NotBefore
		}
		if cred.NotAfter < notAfter {
			notAfter = cred.NotAfter
		}
		if rooted {
			break
		}
		if creds[i+1].Subject != cred.Issuer {
			return VerifiedAttributes{}, fmt.Errorf("chain link %d: %w: issuer %s is not the subject of link %d", i, ErrMalformed, cred.Issuer, i+1)
		}
	}

	verified := flatten(creds[0])
	verified.notBefore = notBefore
	verified.notAfter = notAfter
	return verified, nil
}

// EncodeChain encodes credentials into the wire form carried by
// handshake messages, subject credential first.
func EncodeChain(creds ...*Credential) ([][]byte, error) {
	chain := make([][]byte, len(creds))
	for i, cred := range creds {
		raw, err := cred.Encode()
		if err != nil {
			return nil, fmt.Errorf("chain link %d: %w", i, err)
		}
		chain[i] = raw
	}
	return chain, nil
}

// checkStructure rejects credentials that could never validate: zero
// identities, inverted windows, wrong key or signature sizes, or an
// issuer key whose fingerprint does not match the issuer peer ID.
func checkStructure(cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("%w: nil credential", ErrMalformed)
	}
	if cred.Subject.IsZero() {
		return fmt.Errorf("%w: zero subject", ErrMalformed)
	}
	if cred.Issuer.IsZero() {
		return fmt.Errorf("%w: zero issuer", ErrMalformed)
	}
	if cred.NotAfter < cred.NotBefore {
		return fmt.Errorf("%w: validity window ends before it begins", ErrMalformed)
	}
	if len(cred.IssuerKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: issuer key is %d bytes, want %d", ErrMalformed, len(cred.IssuerKey), ed25519.PublicKeySize)
	}
	if len(cred.Signature) != signatureSize {
		return fmt.Errorf("%w: signature is %d bytes, want %d", ErrMalformed, len(cred.Signature), signatureSize)
	}
	issuerID, err := ref.PeerIDFromFingerprint(identity.Fingerprint(cred.IssuerKey))
	if err != nil || issuerID != cred.Issuer {
		return fmt.Errorf("%w: issuer key does not match issuer peer ID", ErrMalformed)
	}
	return CheckAttributes(cred.Attributes)
}

// checkWindow enforces the inclusive validity window. A credential
// checked before NotBefore is just as unusable as one checked after
// NotAfter, and both report ErrExpired.
func checkWindow(cred *Credential, now time.Time) error {
	unix := now.Unix()
	if unix < cred.NotBefore || unix > cred.NotAfter {
		return fmt.Errorf("%w: valid [%d, %d], checked at %d", ErrExpired, cred.NotBefore, cred.NotAfter, unix)
	}
	return nil
}

// checkSignature re-encodes the payload and verifies the detached
// signature against the embedded issuer key. Deterministic encoding
// makes the re-encoded bytes identical to the bytes the issuer
// signed; a credential delivered in a non-canonical encoding fails
// verification.
func checkSignature(cred *Credential) error {
	payload, err := codec.Marshal(cred)
	if err != nil {
		return fmt.Errorf("%w: re-encoding payload: %v", ErrBadSignature, err)
	}
	if !identity.VerifySignature(cred.IssuerKey, payload, cred.Signature) {
		return ErrBadSignature
	}
	return nil
}

// flatten builds the attribute map. Duplicate keys resolve to the
// last occurrence in document order; this is the only place that
// resolution happens.
func flatten(cred *Credential) VerifiedAttributes {
	attrs := make(map[string]string, len(cred.Attributes))
	for _, attr := range cred.Attributes {
		attrs[attr.Key] = attr.Value
	}
	return VerifiedAttributes{
		subject:   cred.Subject,
		issuer:    cred.Issuer,
		attrs:     attrs,
		notBefore: cred.NotBefore,
		notAfter:  cred.NotAfter,
	}
}
