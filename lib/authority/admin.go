// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

// Admin socket action names served by cordon-authority. The CLI and
// the daemon share these constants and the parameter/result shapes
// below; the adminsock envelope carries them as CBOR maps.
const (
	// AdminStatus reports daemon identity, uptime, and store size.
	AdminStatus = "status"

	// AdminEnrollCode mints a single-use enrollment code.
	AdminEnrollCode = "enroll-code"

	// AdminTrustList lists every trust record.
	AdminTrustList = "trust-list"

	// AdminTrustShow returns one trust record with its credential
	// decoded.
	AdminTrustShow = "trust-show"

	// AdminTrustRevoke marks a subject's record revoked.
	AdminTrustRevoke = "trust-revoke"
)

// AdminStatusResult is the response to AdminStatus.
type AdminStatusResult struct {
	PeerID           string `cbor:"peer_id"`
	Version          string `cbor:"version"`
	UptimeSeconds    int64  `cbor:"uptime_seconds"`
	Sessions         int    `cbor:"sessions"`
	Records          int    `cbor:"records"`
	OutstandingCodes int    `cbor:"outstanding_codes"`
}

// EnrollCodeParams are the parameters for AdminEnrollCode.
type EnrollCodeParams struct {
	// Attributes are granted to the credential issued when the code
	// is consumed.
	Attributes map[string]string `cbor:"attributes"`

	// TTLSeconds bounds how long the code stays redeemable.
	TTLSeconds int64 `cbor:"ttl_seconds"`
}

// EnrollCodeResult is the response to AdminEnrollCode. Code is the
// secret the enrollee presents; it appears here once and is not
// retrievable afterwards.
type EnrollCodeResult struct {
	Code      string `cbor:"code"`
	ID        string `cbor:"id"`
	ExpiresAt int64  `cbor:"expires_at"`
}

// SubjectParams identify a trust record by its subject peer ID, in
// the canonical text form.
type SubjectParams struct {
	Subject string `cbor:"subject"`
}

// TrustEntry is one trust record prepared for display: the stored
// credential is decoded into its attribute set and validity window.
type TrustEntry struct {
	Subject      string            `cbor:"subject"`
	IssuedAt     int64             `cbor:"issued_at"`
	Revoked      bool              `cbor:"revoked"`
	EnrolledWith string            `cbor:"enrolled_with,omitempty"`
	Attributes   map[string]string `cbor:"attributes,omitempty"`
	NotBefore    int64             `cbor:"not_before,omitempty"`
	NotAfter     int64             `cbor:"not_after,omitempty"`
}

// TrustListResult is the response to AdminTrustList.
type TrustListResult struct {
	Records []TrustEntry `cbor:"records"`
}
