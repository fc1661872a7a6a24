// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"

	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/node"
)

// Methods served by an authority node's dispatcher.
var (
	// MethodEnroll redeems a one-time enrollment code for a
	// credential. The candidate is the session peer, never a field of
	// the request body, so a stolen code cannot enroll an identity
	// its thief does not control. Policy for this method must admit
	// identity-only sessions: candidates have no credential yet.
	MethodEnroll = ref.MustMethod("authority/enroll")

	// MethodLookup returns the trust record of one subject.
	MethodLookup = ref.MustMethod("authority/lookup")

	// MethodRevoke marks a subject's trust record revoked. Idempotent.
	MethodRevoke = ref.MustMethod("authority/revoke")
)

// Stable error text crossing the wire on the handler-error response
// path. Clients match on these strings (see EnsureCredential), so
// they are protocol, not prose. Detail beyond them stays in the
// authority's audit log.
const (
	detailMalformed       = "malformed request"
	detailNotEligible     = "not eligible"
	detailAlreadyEnrolled = "already enrolled"
	detailNotFound        = "no trust record"
	detailUnavailable     = "authority unavailable"
)

// EnrollRequest is the body of an authority/enroll request.
type EnrollRequest struct {
	// Code is the one-time enrollment code in the hex form handed to
	// the operator by `enroll-code create`.
	Code string `cbor:"1,keyasint"`
}

// EnrollResponse is the body of a successful authority/enroll
// response. The enrollee verifies the credential against the
// authority's identity before storing it.
type EnrollResponse struct {
	// Credential is the issued credential in wire form.
	Credential []byte `cbor:"1,keyasint"`
}

// LookupRequest is the body of an authority/lookup request. The
// response body is the subject's TrustRecord.
type LookupRequest struct {
	Subject ref.PeerID `cbor:"1,keyasint"`
}

// RevokeRequest is the body of an authority/revoke request. A
// successful response has no body.
type RevokeRequest struct {
	Subject ref.PeerID `cbor:"1,keyasint"`
}

// Register mounts the authority's wire methods on router. Enrollment
// must be reachable by identity-only sessions; lookup and revoke are
// operator methods that the authority's policy document restricts to
// administrative subjects. The handlers themselves enforce neither —
// authorization is the dispatcher's job.
func (a *Authority) Register(router *node.Router) {
	router.Handle(MethodEnroll, a.handleEnroll)
	router.Handle(MethodLookup, a.handleLookup)
	router.Handle(MethodRevoke, a.handleRevoke)
}

// handleEnroll redeems the presented code for a credential issued to
// the session peer. Every rejection collapses into one of the stable
// detail strings; the reason (unknown code, expired code, rate limit)
// is logged by Enroll but never returned to the candidate.
func (a *Authority) handleEnroll(ctx context.Context, call *node.Call) ([]byte, error) {
	var request EnrollRequest
	if err := codec.Unmarshal(call.Payload, &request); err != nil {
		return nil, errors.New(detailMalformed)
	}
	proof, err := ParseCodeSecret(request.Code)
	if err != nil {
		return nil, errors.New(detailNotEligible)
	}

	cred, err := a.Enroll(ctx, call.Session.Peer, proof)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotEligible):
		return nil, errors.New(detailNotEligible)
	case errors.Is(err, ErrAlreadyEnrolled):
		return nil, errors.New(detailAlreadyEnrolled)
	default:
		return nil, errors.New(detailUnavailable)
	}

	encoded, err := cred.Encode()
	if err != nil {
		return nil, errors.New(detailUnavailable)
	}
	return codec.Marshal(EnrollResponse{Credential: encoded})
}

// handleLookup returns the subject's trust record.
func (a *Authority) handleLookup(ctx context.Context, call *node.Call) ([]byte, error) {
	var request LookupRequest
	if err := codec.Unmarshal(call.Payload, &request); err != nil {
		return nil, errors.New(detailMalformed)
	}
	if request.Subject.IsZero() {
		return nil, errors.New(detailMalformed)
	}

	record, err := a.Lookup(ctx, request.Subject)
	switch {
	case err == nil:
		return codec.Marshal(record)
	case errors.Is(err, ErrNotFound):
		return nil, errors.New(detailNotFound)
	default:
		return nil, errors.New(detailUnavailable)
	}
}

// handleRevoke revokes the subject's trust record. The caller learns
// whether a record existed; that is acceptable on an operator method.
func (a *Authority) handleRevoke(ctx context.Context, call *node.Call) ([]byte, error) {
	var request RevokeRequest
	if err := codec.Unmarshal(call.Payload, &request); err != nil {
		return nil, errors.New(detailMalformed)
	}
	if request.Subject.IsZero() {
		return nil, errors.New(detailMalformed)
	}

	err := a.Revoke(ctx, request.Subject)
	switch {
	case err == nil:
		a.logger.Info("revocation requested",
			"subject", request.Subject,
			"requested_by", call.Session.PeerID())
		return nil, nil
	case errors.Is(err, ErrNotFound):
		return nil, errors.New(detailNotFound)
	default:
		return nil, errors.New(detailUnavailable)
	}
}
