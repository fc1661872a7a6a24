// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/secret"
)

// codeSecretSize is the length of an enrollment code secret.
const codeSecretSize = 32

// EnrollmentCode is a freshly minted single-use eligibility proof. The
// Secret appears exactly once, at mint time; the issuer keeps only the
// raw bytes for matching and the ID for audit.
type EnrollmentCode struct {
	// ID identifies the code in logs and trust records. Derived from
	// the secret by hashing; safe to display.
	ID string

	// Secret is the hex-encoded code the enrollee presents as proof.
	Secret string

	// Attributes are granted to the credential issued when this code
	// is consumed.
	Attributes []credential.Attribute

	// ExpiresAt is the last instant the code is accepted.
	ExpiresAt time.Time
}

// issuedCode is the issuer's retained half of a minted code.
type issuedCode struct {
	id        string
	secret    []byte
	attrs     []credential.Attribute
	expiresAt time.Time
}

// CodeIssuer mints and burns enrollment codes. Codes live in memory
// only: restarting the authority invalidates outstanding codes, which
// is the safe failure mode for eligibility proofs.
type CodeIssuer struct {
	clock clock.Clock

	mu    sync.Mutex
	codes []*issuedCode
}

// NewCodeIssuer returns an empty issuer on the given clock. A nil
// clock means wall time.
func NewCodeIssuer(clk clock.Clock) *CodeIssuer {
	if clk == nil {
		clk = clock.Real()
	}
	return &CodeIssuer{clock: clk}
}

// IssueCode mints a single-use code valid for ttl, carrying the
// attributes the resulting credential will grant.
func (ci *CodeIssuer) IssueCode(attrs []credential.Attribute, ttl time.Duration) (*EnrollmentCode, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("authority: code ttl must be positive")
	}
	if err := credential.CheckAttributes(attrs); err != nil {
		return nil, fmt.Errorf("authority: code attributes: %w", err)
	}

	secretBytes := make([]byte, codeSecretSize)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("authority: reading entropy: %w", err)
	}
	id := codeID(secretBytes)
	now := ci.clock.Now()
	expiresAt := now.Add(ttl)

	ci.mu.Lock()
	ci.prune(now)
	ci.codes = append(ci.codes, &issuedCode{
		id:        id,
		secret:    secretBytes,
		attrs:     append([]credential.Attribute(nil), attrs...),
		expiresAt: expiresAt,
	})
	ci.mu.Unlock()

	return &EnrollmentCode{
		ID:         id,
		Secret:     hex.EncodeToString(secretBytes),
		Attributes: append([]credential.Attribute(nil), attrs...),
		ExpiresAt:  expiresAt,
	}, nil
}

// Outstanding returns the number of unconsumed, unexpired codes.
func (ci *CodeIssuer) Outstanding() int {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.prune(ci.clock.Now())
	return len(ci.codes)
}

// consume matches proof against outstanding codes and burns the match,
// all under one lock acquisition: a code consumed here is gone before
// any other enrollment can see it. Matching uses constant-time
// comparison. Every failure mode collapses into ErrNotEligible so the
// response never reveals whether a code existed.
func (ci *CodeIssuer) consume(proof []byte) ([]credential.Attribute, string, error) {
	if len(proof) != codeSecretSize {
		return nil, "", fmt.Errorf("%w: malformed enrollment code", ErrNotEligible)
	}
	now := ci.clock.Now()

	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.prune(now)

	for i, code := range ci.codes {
		if !secret.Equal(code.secret, proof) {
			continue
		}
		// Burn: forget the secret and drop the entry. A replay of
		// this code is indistinguishable from an unknown one.
		secret.Zero(code.secret)
		ci.codes = append(ci.codes[:i], ci.codes[i+1:]...)
		return code.attrs, code.id, nil
	}
	return nil, "", fmt.Errorf("%w: unknown or expired enrollment code", ErrNotEligible)
}

// prune drops expired codes, zeroing their secrets. Caller holds the
// lock.
func (ci *CodeIssuer) prune(now time.Time) {
	kept := ci.codes[:0]
	for _, code := range ci.codes {
		if now.After(code.expiresAt) {
			secret.Zero(code.secret)
			continue
		}
		kept = append(kept, code)
	}
	ci.codes = kept
}

// codeID derives the public identifier from the code secret.
func codeID(secretBytes []byte) string {
	sum := blake3.Sum256(secretBytes)
	return hex.EncodeToString(sum[:8])
}

// ParseCodeSecret decodes the hex form of an enrollment code into the
// raw proof bytes Enroll expects.
func ParseCodeSecret(code string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(code))
	if err != nil || len(raw) != codeSecretSize {
		return nil, fmt.Errorf("%w: malformed enrollment code", ErrNotEligible)
	}
	return raw, nil
}
