// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package authority implements credential issuance: the service that
// turns an eligibility proof into a signed credential and a durable
// trust record.
//
// # Enrollment
//
// An admin mints a single-use [EnrollmentCode] bound to an attribute
// set and an expiry. The candidate presents the code's secret to
// [Authority.Enroll], which checks a per-peer rate limit, refuses
// candidates holding an active record, burns the code, issues a
// credential signed by the authority's identity, and persists a
// [TrustRecord] before the credential leaves the process. Exactly one
// of two racing enrollments for the same identity succeeds; the store's
// conditional write, not the caller, enforces that.
//
// Revocation is monotonic and idempotent. A revoked identity may
// re-enroll with a fresh code; the new record supersedes the revoked
// one.
//
// # Storage
//
// [Store] is the sole source of truth across restarts. [SQLiteStore]
// is the production implementation (synchronous=FULL, so committed
// means fsynced); [MemoryStore] has identical semantics for tests.
//
// # Errors
//
// [ErrNotEligible], [ErrAlreadyEnrolled], and [ErrNotFound] are
// business outcomes surfaced to the caller and never retried
// automatically. [ErrStorage] wraps infrastructure failures; only
// read-only operations (Lookup, List) and idempotent ones (Revoke)
// are safe to retry on it.
package authority
