// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential implements signed attribute credentials: a
// credential binds an ordered sequence of (key, value) attributes to
// a subject peer for a bounded validity window, under the Ed25519
// signature of an issuer.
//
// The wire form is a deterministic CBOR payload followed by the
// detached 64-byte signature. Credentials travel in subject-first
// chains inside handshake messages; the authority service mints them
// at enrollment, and nodes validate presented chains against their
// configured trusted-issuer set before any attribute reaches the
// policy engine.
//
// Validation is fail-closed with a fixed error taxonomy: ErrMalformed
// for anything structurally wrong, ErrExpired when checked outside
// the validity window (reported before signature problems), then
// ErrUntrustedIssuer and ErrBadSignature. VerifiedAttributes is the
// only success output; sessions cache it and re-check expiry with
// ExpiredAt on every request.
package credential
