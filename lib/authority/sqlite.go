// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/sqlitepool"
)

// trustSchema is applied on every connection. The CBOR blob is the
// authoritative record; revoked and issued_at mirror two of its fields
// so listing and indexing never decode every row.
const trustSchema = `
	CREATE TABLE IF NOT EXISTS trust_records (
		subject   TEXT NOT NULL PRIMARY KEY,
		record    BLOB NOT NULL,
		revoked   INTEGER NOT NULL DEFAULT 0,
		issued_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trust_records_issued
		ON trust_records(issued_at);
`

// SQLiteStore is the durable Store used by production authorities. The
// pool runs synchronous=FULL: a Create or SetRevoked that returns nil
// has been fsynced, which is what lets the Authority hand a credential
// to its subject only after the record backing it is on disk.
type SQLiteStore struct {
	pool *sqlitepool.Pool
}

// SQLiteConfig holds the parameters for opening a trust store.
type SQLiteConfig struct {
	// Path is the filesystem path to the database file. Required.
	Path string

	// PoolSize is the connection count. The trust store is small and
	// write-light; the default of 4 is plenty.
	PoolSize int

	// Logger receives pool lifecycle events.
	Logger *slog.Logger
}

// OpenSQLiteStore opens the trust database, creating the file and
// schema if needed.
func OpenSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        cfg.Path,
		PoolSize:    poolSize,
		Synchronous: sqlitepool.SyncFull,
		Logger:      cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, trustSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("trust store: %w", err)
	}
	return &SQLiteStore{pool: pool}, nil
}

// Get returns the subject's record, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, subject ref.PeerID) (*TrustRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("trust store: get: %w", err)
	}
	defer s.pool.Put(conn)

	return getRecord(conn, subject)
}

// Create persists a new record. The existence check and the write sit
// inside one IMMEDIATE transaction, which holds the database write
// lock from BEGIN: racing creates serialize, and the loser sees the
// winner's active row and reports ErrAlreadyExists.
func (s *SQLiteStore) Create(ctx context.Context, record *TrustRecord) error {
	blob, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("trust store: encode record: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("trust store: create: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("trust store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	existing, err := getRecord(conn, record.Subject)
	switch {
	case err == nil:
		if !existing.Revoked {
			err = ErrAlreadyExists
			return err
		}
	case errors.Is(err, ErrNotFound):
		err = nil
	default:
		return err
	}

	// A revoked row is superseded in place; the subject's queryable
	// state is always the latest record.
	err = sqlitex.Execute(conn, `
		INSERT INTO trust_records (subject, record, revoked, issued_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(subject) DO UPDATE SET
			record = excluded.record,
			revoked = 0,
			issued_at = excluded.issued_at`, &sqlitex.ExecOptions{
		Args: []any{record.Subject.String(), blob, record.IssuedAt},
	})
	if err != nil {
		return fmt.Errorf("trust store: insert %s: %w", record.Subject, err)
	}
	return nil
}

// SetRevoked marks the subject's record revoked, updating both the
// blob and the mirror column. Idempotent: an already-revoked record is
// left alone and the call succeeds.
func (s *SQLiteStore) SetRevoked(ctx context.Context, subject ref.PeerID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("trust store: revoke: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("trust store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	record, err := getRecord(conn, subject)
	if err != nil {
		return err
	}
	if record.Revoked {
		return nil
	}
	record.Revoked = true

	blob, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("trust store: encode record: %w", err)
	}
	err = sqlitex.Execute(conn, "UPDATE trust_records SET record = ?, revoked = 1 WHERE subject = ?", &sqlitex.ExecOptions{
		Args: []any{blob, subject.String()},
	})
	if err != nil {
		return fmt.Errorf("trust store: update %s: %w", subject, err)
	}
	return nil
}

// List returns all records ordered by issuance time, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*TrustRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("trust store: list: %w", err)
	}
	defer s.pool.Put(conn)

	var records []*TrustRecord
	err = sqlitex.Execute(conn, "SELECT record FROM trust_records ORDER BY issued_at, subject", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			var record TrustRecord
			if err := codec.Unmarshal(blob, &record); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			records = append(records, &record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("trust store: list: %w", err)
	}
	return records, nil
}

// Close closes the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

// getRecord reads and decodes the subject's row on the given
// connection. ErrNotFound when the row is absent.
func getRecord(conn *sqlite.Conn, subject ref.PeerID) (*TrustRecord, error) {
	var blob []byte
	err := sqlitex.Execute(conn, "SELECT record FROM trust_records WHERE subject = ?", &sqlitex.ExecOptions{
		Args: []any{subject.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("trust store: select %s: %w", subject, err)
	}
	if blob == nil {
		return nil, ErrNotFound
	}
	var record TrustRecord
	if err := codec.Unmarshal(blob, &record); err != nil {
		return nil, fmt.Errorf("trust store: decode record for %s: %w", subject, err)
	}
	return &record, nil
}
