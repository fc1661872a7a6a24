// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"sort"
	"sync"

	"github.com/cordon-foundation/cordon/lib/ref"
)

// MemoryStore is an in-memory Store with the same semantics as
// SQLiteStore. For tests and throwaway authorities; nothing survives
// the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[ref.PeerID]*TrustRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[ref.PeerID]*TrustRecord)}
}

// Get returns the subject's record, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, subject ref.PeerID) (*TrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[subject]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Create persists a new record unless an active one exists. The check
// and the write happen under one lock acquisition, so concurrent
// creates for the same subject see exactly one success.
func (s *MemoryStore) Create(ctx context.Context, record *TrustRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[record.Subject]; ok && !existing.Revoked {
		return ErrAlreadyExists
	}
	s.records[record.Subject] = record.Clone()
	return nil
}

// SetRevoked marks the subject's record revoked. Idempotent.
func (s *MemoryStore) SetRevoked(ctx context.Context, subject ref.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[subject]
	if !ok {
		return ErrNotFound
	}
	record.Revoked = true
	return nil
}

// List returns all records ordered by issuance time, oldest first.
// Ties order by subject for a stable listing.
func (s *MemoryStore) List(ctx context.Context) ([]*TrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*TrustRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].IssuedAt != records[j].IssuedAt {
			return records[i].IssuedAt < records[j].IssuedAt
		}
		return records[i].Subject.String() < records[j].Subject.String()
	})
	return records, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
