// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/node"
)

// ErrNoCredential reports that EnsureCredential found no usable stored
// credential and had no enrollment code to redeem. The operator must
// supply a code minted by the authority.
var ErrNoCredential = errors.New("authority: no credential and no enrollment code")

// EnrollmentConfig configures EnsureCredential.
type EnrollmentConfig struct {
	// Client calls the authority. Its resolver must know the
	// authority's endpoint, pinned to the authority's public key, so
	// the enrollment round-trip cannot be redirected. Required.
	Client *node.Client

	// Authority is the routing name the Client resolves to reach the
	// authority. Required.
	Authority ref.PeerName

	// Issuer is the authority's peer ID. The credential must be
	// issued and signed by exactly this identity. Required.
	Issuer ref.PeerID

	// Subject is this node's own peer ID. The credential must name it
	// as subject. Required.
	Subject ref.PeerID

	// Code is a one-time enrollment code, if the operator supplied
	// one. Empty means only a stored credential can satisfy the call.
	Code string

	// Path is where the credential lives at rest, in wire form.
	// Required.
	Path string

	// Clock for validity checks. Nil means wall time.
	Clock clock.Clock

	// Logger for enrollment progress. Nil discards it.
	Logger *slog.Logger
}

// EnsureCredential returns a credential chain for this node, enrolling
// with the authority when necessary.
//
// A credential stored at Path is used as long as it verifies: issued
// by Issuer, naming Subject, inside its validity window. Otherwise,
// if Code is set, the node enrolls over an identity-only session to
// the authority; the returned credential is verified the same way
// BEFORE it is persisted or presented anywhere, so a misbehaving
// authority cannot plant a credential the node would not accept from
// a peer. On success the chain is applied to the Client for future
// handshakes.
//
// An expired stored credential cannot be renewed by re-enrolling: the
// authority still holds the live trust record and reports
// ErrAlreadyEnrolled. Renewal is an operator action (revoke, then
// enroll with a fresh code).
func EnsureCredential(ctx context.Context, cfg EnrollmentConfig) ([][]byte, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("authority: enrollment: Client is required")
	}
	if cfg.Authority.IsZero() {
		return nil, fmt.Errorf("authority: enrollment: Authority is required")
	}
	if cfg.Issuer.IsZero() || cfg.Subject.IsZero() {
		return nil, fmt.Errorf("authority: enrollment: Issuer and Subject are required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("authority: enrollment: Path is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	issuers := credential.NewTrustedIssuers(cfg.Issuer)

	if raw, err := os.ReadFile(cfg.Path); err == nil {
		cred, verifyErr := verifyOwnCredential(raw, cfg.Subject, issuers, clk.Now())
		if verifyErr == nil {
			chain, chainErr := credential.EncodeChain(cred)
			if chainErr != nil {
				return nil, fmt.Errorf("encoding stored credential: %w", chainErr)
			}
			cfg.Client.SetChain(chain)
			logger.Debug("using stored credential",
				"path", cfg.Path,
				"expires", time.Unix(cred.NotAfter, 0).UTC())
			return chain, nil
		}
		// The stored credential is unusable. Fall through to
		// enrollment if a code is available; the operator sees why in
		// the log either way.
		logger.Warn("stored credential rejected",
			"path", cfg.Path,
			"error", verifyErr)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading stored credential: %w", err)
	}

	if cfg.Code == "" {
		return nil, ErrNoCredential
	}

	body, err := codec.Marshal(EnrollRequest{Code: cfg.Code})
	if err != nil {
		return nil, fmt.Errorf("encoding enrollment request: %w", err)
	}
	payload, err := cfg.Client.Call(ctx, cfg.Authority, MethodEnroll, body)
	if err != nil {
		return nil, enrollCallError(err)
	}

	var response EnrollResponse
	if err := codec.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("decoding enrollment response: %w", err)
	}

	cred, err := verifyOwnCredential(response.Credential, cfg.Subject, issuers, clk.Now())
	if err != nil {
		return nil, fmt.Errorf("authority returned an unacceptable credential: %w", err)
	}

	if err := storeCredential(cfg.Path, response.Credential); err != nil {
		return nil, err
	}

	chain, err := credential.EncodeChain(cred)
	if err != nil {
		return nil, fmt.Errorf("encoding credential chain: %w", err)
	}
	cfg.Client.SetChain(chain)
	// The enrollment round trip rode a session handshaken before the
	// credential existed. Close it so the next call presents the
	// chain instead of staying identity-only.
	cfg.Client.Registry().CloseAll()
	logger.Info("enrolled with authority",
		"issuer", cfg.Issuer,
		"subject", cfg.Subject,
		"expires", time.Unix(cred.NotAfter, 0).UTC())
	return chain, nil
}

// enrollCallError maps the authority's stable wire error text back to
// the package sentinels so callers can distinguish "bad code" from
// "already enrolled" without string matching of their own.
func enrollCallError(err error) error {
	var status *node.StatusError
	if errors.As(err, &status) && errors.Is(err, node.ErrHandlerFailed) {
		switch status.Message {
		case detailNotEligible:
			return fmt.Errorf("%w: enrollment code rejected", ErrNotEligible)
		case detailAlreadyEnrolled:
			return ErrAlreadyEnrolled
		}
	}
	return fmt.Errorf("calling %s: %w", MethodEnroll, err)
}

// verifyOwnCredential decodes and validates a credential that is
// supposed to be ours: issued by the expected authority and naming
// the expected subject.
func verifyOwnCredential(raw []byte, subject ref.PeerID, issuers credential.TrustedIssuers, now time.Time) (*credential.Credential, error) {
	cred, err := credential.Decode(raw)
	if err != nil {
		return nil, err
	}
	verified, err := credential.Validate(cred, issuers, now)
	if err != nil {
		return nil, err
	}
	if verified.Subject() != subject {
		return nil, fmt.Errorf("credential subject is %s, want %s", verified.Subject(), subject)
	}
	return cred, nil
}

// storeCredential writes the credential atomically: temp file in the
// destination directory, then rename. A crash mid-write leaves the
// previous file (or nothing) rather than a truncated credential that
// would block enrollment on the next boot.
func storeCredential(path string, raw []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(raw); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing credential: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp credential file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming credential file to %s: %w", path, err)
	}

	success = true
	return nil
}
