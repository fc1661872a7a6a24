// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"

	"github.com/cordon-foundation/cordon/lib/ref"
)

var (
	// ErrNotFound reports that no trust record exists for the subject.
	ErrNotFound = errors.New("authority: trust record not found")

	// ErrAlreadyExists reports that Create found an active
	// (non-revoked) record for the subject. This is how exactly one
	// of two racing enrollments wins.
	ErrAlreadyExists = errors.New("authority: active trust record already exists")
)

// Store persists trust records. It is the sole source of truth for
// enrollment state across process restarts; the Authority is its only
// writer.
//
// Mutations are atomic per subject. Create is the conditional write
// that enforces the at-most-one-enrollment invariant: it succeeds only
// when the subject has no record or a revoked one (which it
// supersedes), and reports ErrAlreadyExists otherwise. Two concurrent
// Create calls for the same subject therefore cannot both succeed.
//
// SetRevoked is idempotent: revoking an already-revoked subject is a
// success no-op.
type Store interface {
	// Get returns the subject's current record, or ErrNotFound.
	Get(ctx context.Context, subject ref.PeerID) (*TrustRecord, error)

	// Create persists a new record. ErrAlreadyExists if an active
	// record is present; a revoked record is superseded.
	Create(ctx context.Context, record *TrustRecord) error

	// SetRevoked marks the subject's record revoked. ErrNotFound if
	// the subject has no record.
	SetRevoked(ctx context.Context, subject ref.PeerID) error

	// List returns all current records ordered by issuance time,
	// oldest first.
	List(ctx context.Context) ([]*TrustRecord, error)

	// Close releases the store's resources.
	Close() error
}
