// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"github.com/cordon-foundation/cordon/lib/ref"
)

// TrustRecord is the durable account of one enrollment. The record is
// created when Enroll succeeds and mutated exactly once thereafter, if
// ever: Revoked flips from false to true. The Credential field holds
// the issued credential in wire form, so the record alone answers
// lookup queries.
//
// Records are never physically deleted. Re-enrollment of a revoked
// identity supersedes the old record with a new one; the queryable
// state for an identity is always its most recent record.
type TrustRecord struct {
	// Subject is the enrolled peer.
	Subject ref.PeerID `cbor:"1,keyasint"`

	// Credential is the issued credential in wire form (payload plus
	// detached signature), exactly as returned to the subject.
	Credential []byte `cbor:"2,keyasint"`

	// IssuedAt is the enrollment time in Unix seconds.
	IssuedAt int64 `cbor:"3,keyasint"`

	// Revoked marks the record as revoked. Monotonic: once set it is
	// never cleared on this record.
	Revoked bool `cbor:"4,keyasint,omitempty"`

	// EnrolledWith is the public identifier of the enrollment code
	// that was consumed, kept for audit. Never the code secret.
	EnrolledWith string `cbor:"5,keyasint,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted state through aliasing.
func (r *TrustRecord) Clone() *TrustRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Credential = append([]byte(nil), r.Credential...)
	return &clone
}
