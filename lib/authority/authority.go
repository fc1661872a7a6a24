// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/identity"
	"github.com/cordon-foundation/cordon/lib/metrics"
	"github.com/cordon-foundation/cordon/lib/ratelimit"
	"github.com/cordon-foundation/cordon/lib/ref"
)

// defaultValidity is the credential validity window when Config does
// not set one.
const defaultValidity = 24 * time.Hour

var (
	// ErrNotEligible reports that the eligibility check denied an
	// enrollment: unknown, expired, or already-consumed code, a rate
	// limit, or a malformed proof. The distinctions stay in logs.
	ErrNotEligible = errors.New("authority: not eligible")

	// ErrAlreadyEnrolled reports that the candidate holds an active
	// (non-revoked) trust record.
	ErrAlreadyEnrolled = errors.New("authority: already enrolled")

	// ErrStorage wraps durable-store failures. Enroll is never safe
	// to retry automatically on this error; the store's conditional
	// write decides whether a retry would double-issue.
	ErrStorage = errors.New("authority: storage failure")
)

// Config holds the parameters for constructing an Authority.
type Config struct {
	// Identity signs every credential the authority issues. Required.
	Identity *identity.PrivateIdentity

	// Store persists trust records. Required.
	Store Store

	// Codes supplies enrollment codes. If nil, a fresh issuer on the
	// authority's clock is created.
	Codes *CodeIssuer

	// Validity is the credential validity window. Defaults to 24h.
	Validity time.Duration

	// EnrollLimit rate-limits Enroll per candidate peer. Nil means
	// unlimited.
	EnrollLimit *ratelimit.Limiter

	// Clock provides the current time. Nil means wall time.
	Clock clock.Clock

	// Logger receives the security audit trail: enrollments,
	// rejections, revocations. Nil discards it.
	Logger *slog.Logger

	// Metrics counts enrollment outcomes and store failures. Nil
	// disables recording.
	Metrics *metrics.Metrics
}

// Authority gates and records credential issuance. It is the trusted
// issuer for every credential it mints; verifiers anchor on its peer
// ID via TrustedIssuers.
type Authority struct {
	identity    *identity.PrivateIdentity
	store       Store
	codes       *CodeIssuer
	validity    time.Duration
	enrollLimit *ratelimit.Limiter
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New validates cfg and constructs an Authority.
func New(cfg Config) (*Authority, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("authority: Identity is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("authority: Store is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	codes := cfg.Codes
	if codes == nil {
		codes = NewCodeIssuer(clk)
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = defaultValidity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Authority{
		identity:    cfg.Identity,
		store:       cfg.Store,
		codes:       codes,
		validity:    validity,
		enrollLimit: cfg.EnrollLimit,
		clock:       clk,
		logger:      logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Enroll issues a credential to candidate if proof is a valid
// enrollment code. On success the trust record is durably persisted
// before the credential is returned, so a credential in a subject's
// hands always has a record behind it.
//
// Failure modes: ErrNotEligible (bad proof or rate limit, checked
// before the store is touched beyond the existence read),
// ErrAlreadyEnrolled (an active record exists, or a concurrent
// enrollment won the conditional write), ErrStorage (durable-store
// failure). Callers must not retry automatically: the consumed code
// is gone, and a retry loop against ErrStorage risks double issuance
// if the store's atomicity were ever compromised.
func (a *Authority) Enroll(ctx context.Context, candidate identity.Identity, proof []byte) (*credential.Credential, error) {
	cred, err := a.enroll(ctx, candidate, proof)
	switch {
	case err == nil:
		a.metrics.Enrollment("issued")
	case errors.Is(err, ErrNotEligible), errors.Is(err, ErrAlreadyEnrolled):
		a.metrics.Enrollment("rejected")
	default:
		if errors.Is(err, ErrStorage) {
			a.metrics.StoreError()
		}
		a.metrics.Enrollment("error")
	}
	return cred, err
}

func (a *Authority) enroll(ctx context.Context, candidate identity.Identity, proof []byte) (*credential.Credential, error) {
	if candidate.IsZero() {
		return nil, fmt.Errorf("%w: zero candidate identity", ErrNotEligible)
	}
	subject := candidate.PeerID()
	now := a.clock.Now()

	if !a.enrollLimit.Allow(subject.String(), now) {
		a.logger.Warn("enrollment rate limited", "subject", subject)
		return nil, fmt.Errorf("%w: rate limited", ErrNotEligible)
	}

	// Refuse before burning the code when an active record exists.
	existing, err := a.store.Get(ctx, subject)
	switch {
	case err == nil:
		if !existing.Revoked {
			a.logger.Warn("enrollment refused: already enrolled", "subject", subject)
			return nil, ErrAlreadyEnrolled
		}
		// Revoked record: re-enrollment supersedes it.
	case errors.Is(err, ErrNotFound):
	default:
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	attrs, codeID, err := a.codes.consume(proof)
	if err != nil {
		a.logger.Warn("enrollment refused", "subject", subject, "error", err)
		return nil, err
	}

	cred, err := credential.Issue(a.identity, subject, attrs, now, now.Add(a.validity))
	if err != nil {
		return nil, fmt.Errorf("authority: issuing credential: %w", err)
	}
	wire, err := cred.Encode()
	if err != nil {
		return nil, fmt.Errorf("authority: encoding credential: %w", err)
	}

	record := &TrustRecord{
		Subject:      subject,
		Credential:   wire,
		IssuedAt:     now.Unix(),
		EnrolledWith: codeID,
	}
	if err := a.store.Create(ctx, record); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost the race against a concurrent enrollment for the
			// same subject. The winner's record stands.
			a.logger.Warn("enrollment lost conditional write", "subject", subject)
			return nil, ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	a.logger.Info("identity enrolled",
		"subject", subject,
		"code", codeID,
		"attributes", len(attrs),
		"not_after", now.Add(a.validity).UTC().Format(time.RFC3339),
	)
	return cred, nil
}

// Revoke marks the subject's trust record revoked. Monotonic:
// revoking an already-revoked subject succeeds without effect.
// ErrNotFound if the subject was never enrolled.
func (a *Authority) Revoke(ctx context.Context, subject ref.PeerID) error {
	if subject.IsZero() {
		return fmt.Errorf("authority: revoke: zero subject")
	}
	err := a.store.SetRevoked(ctx, subject)
	switch {
	case err == nil:
		a.logger.Info("identity revoked", "subject", subject)
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	default:
		a.metrics.StoreError()
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
}

// Lookup returns the subject's trust record, or ErrNotFound.
func (a *Authority) Lookup(ctx context.Context, subject ref.PeerID) (*TrustRecord, error) {
	record, err := a.store.Get(ctx, subject)
	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, ErrNotFound):
		return nil, err
	default:
		a.metrics.StoreError()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
}

// List returns all trust records, oldest first.
func (a *Authority) List(ctx context.Context) ([]*TrustRecord, error) {
	records, err := a.store.List(ctx)
	if err != nil {
		a.metrics.StoreError()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return records, nil
}

// Codes exposes the enrollment code issuer, for the admin surface
// that mints codes.
func (a *Authority) Codes() *CodeIssuer { return a.codes }

// PeerID returns the authority's own peer ID.
func (a *Authority) PeerID() ref.PeerID { return a.identity.PeerID() }

// Identity returns the authority's public identity.
func (a *Authority) Identity() identity.Identity { return a.identity.Public() }

// TrustedIssuers returns the one-element trust set verifiers use to
// accept this authority's credentials.
func (a *Authority) TrustedIssuers() credential.TrustedIssuers {
	return credential.NewTrustedIssuers(a.identity.PeerID())
}
