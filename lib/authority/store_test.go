// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cordon-foundation/cordon/lib/authority"
	"github.com/cordon-foundation/cordon/lib/ref"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testPeer returns a deterministic peer ID built from a repeated byte.
func testPeer(t *testing.T, value byte) ref.PeerID {
	t.Helper()
	peer, err := ref.PeerIDFromFingerprint(bytes.Repeat([]byte{value}, ref.FingerprintSize))
	if err != nil {
		t.Fatalf("PeerIDFromFingerprint: %v", err)
	}
	return peer
}

// testRecord returns a record for the given subject byte with
// placeholder credential bytes.
func testRecord(t *testing.T, value byte, issuedAt int64) *authority.TrustRecord {
	t.Helper()
	return &authority.TrustRecord{
		Subject:      testPeer(t, value),
		Credential:   bytes.Repeat([]byte{value}, 100),
		IssuedAt:     issuedAt,
		EnrolledWith: "deadbeefdeadbeef",
	}
}

// forEachStore runs test against every Store implementation.
func forEachStore(t *testing.T, test func(t *testing.T, store authority.Store)) {
	t.Run("memory", func(t *testing.T) {
		test(t, authority.NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := authority.OpenSQLiteStore(authority.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "trust.db"),
		})
		if err != nil {
			t.Fatalf("OpenSQLiteStore: %v", err)
		}
		t.Cleanup(func() {
			if err := store.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
		test(t, store)
	})
}

func TestStoreGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		_, err := store.Get(context.Background(), testPeer(t, 0x01))
		if !errors.Is(err, authority.ErrNotFound) {
			t.Errorf("Get(missing) = %v, want ErrNotFound", err)
		}
	})
}

func TestStoreCreateGetRoundtrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		ctx := context.Background()
		record := testRecord(t, 0x01, testStart.Unix())

		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := store.Get(ctx, record.Subject)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Subject != record.Subject {
			t.Errorf("Subject = %v, want %v", got.Subject, record.Subject)
		}
		if !bytes.Equal(got.Credential, record.Credential) {
			t.Error("Credential bytes do not round-trip")
		}
		if got.IssuedAt != record.IssuedAt {
			t.Errorf("IssuedAt = %d, want %d", got.IssuedAt, record.IssuedAt)
		}
		if got.Revoked {
			t.Error("fresh record is revoked")
		}
		if got.EnrolledWith != record.EnrolledWith {
			t.Errorf("EnrolledWith = %q, want %q", got.EnrolledWith, record.EnrolledWith)
		}
	})
}

func TestStoreCreateActiveRefused(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		ctx := context.Background()

		if err := store.Create(ctx, testRecord(t, 0x01, 100)); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := store.Create(ctx, testRecord(t, 0x01, 200))
		if !errors.Is(err, authority.ErrAlreadyExists) {
			t.Errorf("second Create = %v, want ErrAlreadyExists", err)
		}

		// The original record stands.
		got, err := store.Get(ctx, testPeer(t, 0x01))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.IssuedAt != 100 {
			t.Errorf("IssuedAt = %d, want the first record's 100", got.IssuedAt)
		}
	})
}

func TestStoreCreateSupersedesRevoked(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		ctx := context.Background()
		subject := testPeer(t, 0x01)

		if err := store.Create(ctx, testRecord(t, 0x01, 100)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := store.SetRevoked(ctx, subject); err != nil {
			t.Fatalf("SetRevoked: %v", err)
		}

		replacement := testRecord(t, 0x01, 200)
		replacement.EnrolledWith = "0123456789abcdef"
		if err := store.Create(ctx, replacement); err != nil {
			t.Fatalf("Create over revoked record: %v", err)
		}

		got, err := store.Get(ctx, subject)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Revoked {
			t.Error("superseding record is revoked")
		}
		if got.IssuedAt != 200 {
			t.Errorf("IssuedAt = %d, want the replacement's 200", got.IssuedAt)
		}
		if got.EnrolledWith != "0123456789abcdef" {
			t.Errorf("EnrolledWith = %q, want the replacement's code", got.EnrolledWith)
		}
	})
}

func TestStoreSetRevoked(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		ctx := context.Background()
		subject := testPeer(t, 0x01)

		if err := store.Create(ctx, testRecord(t, 0x01, 100)); err != nil {
			t.Fatalf("Create: %v", err)
		}

		// Revoking twice succeeds both times.
		for i := range 2 {
			if err := store.SetRevoked(ctx, subject); err != nil {
				t.Fatalf("SetRevoked call %d: %v", i+1, err)
			}
		}

		got, err := store.Get(ctx, subject)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.Revoked {
			t.Error("record not revoked after SetRevoked")
		}
	})
}

func TestStoreSetRevokedMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		err := store.SetRevoked(context.Background(), testPeer(t, 0x01))
		if !errors.Is(err, authority.ErrNotFound) {
			t.Errorf("SetRevoked(missing) = %v, want ErrNotFound", err)
		}
	})
}

func TestStoreListOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		ctx := context.Background()

		// Insert out of issuance order.
		for _, record := range []*authority.TrustRecord{
			testRecord(t, 0x03, 300),
			testRecord(t, 0x01, 100),
			testRecord(t, 0x02, 200),
		} {
			if err := store.Create(ctx, record); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		records, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("List returned %d records, want 3", len(records))
		}
		for i, wantIssued := range []int64{100, 200, 300} {
			if records[i].IssuedAt != wantIssued {
				t.Errorf("records[%d].IssuedAt = %d, want %d", i, records[i].IssuedAt, wantIssued)
			}
		}
	})
}

func TestStoreHandsOutCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, store authority.Store) {
		ctx := context.Background()
		record := testRecord(t, 0x01, 100)
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := store.Get(ctx, record.Subject)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		got.Revoked = true
		got.Credential[0] ^= 0xFF

		again, err := store.Get(ctx, record.Subject)
		if err != nil {
			t.Fatalf("second Get: %v", err)
		}
		if again.Revoked {
			t.Error("mutating a returned record changed stored state")
		}
		if !bytes.Equal(again.Credential, record.Credential) {
			t.Error("mutating returned credential bytes changed stored state")
		}
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trust.db")

	store, err := authority.OpenSQLiteStore(authority.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	record := testRecord(t, 0x01, testStart.Unix())
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetRevoked(ctx, record.Subject); err != nil {
		t.Fatalf("SetRevoked: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := authority.OpenSQLiteStore(authority.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, record.Subject)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !got.Revoked {
		t.Error("revocation did not survive reopen")
	}
	if !bytes.Equal(got.Credential, record.Credential) {
		t.Error("credential bytes did not survive reopen")
	}
}
