// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cordon-foundation/cordon/lib/adminsock"
	"github.com/cordon-foundation/cordon/lib/authority"
	"github.com/cordon-foundation/cordon/lib/clock"
	"github.com/cordon-foundation/cordon/lib/codec"
	"github.com/cordon-foundation/cordon/lib/credential"
	"github.com/cordon-foundation/cordon/lib/ref"
	"github.com/cordon-foundation/cordon/lib/version"
	"github.com/cordon-foundation/cordon/transport"
)

// adminService serves the local operator surface: status, enrollment
// code minting, and trust record inspection. It reaches the same
// Authority as the network dispatcher but over the owner-only unix
// socket, so none of these actions pass through the policy engine.
type adminService struct {
	auth     *authority.Authority
	registry *transport.Registry
	clock    clock.Clock
	started  time.Time
}

func (s *adminService) registerActions(server *adminsock.Server) {
	server.Handle(authority.AdminStatus, s.handleStatus)
	server.Handle(authority.AdminEnrollCode, s.handleEnrollCode)
	server.Handle(authority.AdminTrustList, s.handleTrustList)
	server.Handle(authority.AdminTrustShow, s.handleTrustShow)
	server.Handle(authority.AdminTrustRevoke, s.handleTrustRevoke)
}

func (s *adminService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	records, err := s.auth.List(ctx)
	if err != nil {
		return nil, err
	}
	return &authority.AdminStatusResult{
		PeerID:           s.auth.PeerID().String(),
		Version:          version.Info(),
		UptimeSeconds:    int64(s.clock.Now().Sub(s.started) / time.Second),
		Sessions:         s.registry.Len(),
		Records:          len(records),
		OutstandingCodes: s.auth.Codes().Outstanding(),
	}, nil
}

func (s *adminService) handleEnrollCode(ctx context.Context, raw []byte) (any, error) {
	var params authority.EnrollCodeParams
	if err := codec.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decoding parameters: %w", err)
	}
	if len(params.Attributes) == 0 {
		return nil, errors.New("at least one attribute is required")
	}
	if params.TTLSeconds <= 0 {
		return nil, errors.New("ttl must be positive")
	}

	// The map arrives unordered; sort so the issued credential's
	// attribute sequence is deterministic.
	keys := make([]string, 0, len(params.Attributes))
	for key := range params.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attrs := make([]credential.Attribute, 0, len(keys))
	for _, key := range keys {
		attrs = append(attrs, credential.Attribute{Key: key, Value: params.Attributes[key]})
	}

	code, err := s.auth.Codes().IssueCode(attrs, time.Duration(params.TTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	return &authority.EnrollCodeResult{
		Code:      code.Secret,
		ID:        code.ID,
		ExpiresAt: code.ExpiresAt.Unix(),
	}, nil
}

func (s *adminService) handleTrustList(ctx context.Context, raw []byte) (any, error) {
	records, err := s.auth.List(ctx)
	if err != nil {
		return nil, err
	}
	result := &authority.TrustListResult{
		Records: make([]authority.TrustEntry, 0, len(records)),
	}
	for _, record := range records {
		result.Records = append(result.Records, trustEntry(record))
	}
	return result, nil
}

func (s *adminService) handleTrustShow(ctx context.Context, raw []byte) (any, error) {
	subject, err := subjectParam(raw)
	if err != nil {
		return nil, err
	}
	record, err := s.auth.Lookup(ctx, subject)
	if err != nil {
		if errors.Is(err, authority.ErrNotFound) {
			return nil, errors.New("no trust record")
		}
		return nil, err
	}
	entry := trustEntry(record)
	return &entry, nil
}

func (s *adminService) handleTrustRevoke(ctx context.Context, raw []byte) (any, error) {
	subject, err := subjectParam(raw)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Revoke(ctx, subject); err != nil {
		if errors.Is(err, authority.ErrNotFound) {
			return nil, errors.New("no trust record")
		}
		return nil, err
	}
	return nil, nil
}

func subjectParam(raw []byte) (ref.PeerID, error) {
	var params authority.SubjectParams
	if err := codec.Unmarshal(raw, &params); err != nil {
		return ref.PeerID{}, fmt.Errorf("decoding parameters: %w", err)
	}
	subject, err := ref.ParsePeerID(params.Subject)
	if err != nil {
		return ref.PeerID{}, err
	}
	return subject, nil
}

// trustEntry converts a stored record for display. The credential is
// decoded for its attributes and validity window; a record whose
// credential no longer decodes still lists, just without them.
func trustEntry(record *authority.TrustRecord) authority.TrustEntry {
	entry := authority.TrustEntry{
		Subject:      record.Subject.String(),
		IssuedAt:     record.IssuedAt,
		Revoked:      record.Revoked,
		EnrolledWith: record.EnrolledWith,
	}
	cred, err := credential.Decode(record.Credential)
	if err != nil {
		return entry
	}
	if len(cred.Attributes) > 0 {
		entry.Attributes = make(map[string]string, len(cred.Attributes))
		for _, attr := range cred.Attributes {
			entry.Attributes[attr.Key] = attr.Value
		}
	}
	entry.NotBefore = cred.NotBefore
	entry.NotAfter = cred.NotAfter
	return entry
}
