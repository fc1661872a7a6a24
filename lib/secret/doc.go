// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such
// as identity seeds, enrollment codes, and session keys.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing secret material does not persist after release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFromPath] -- reads a secret from a file or stdin
//
// Access via [Buffer.Bytes] (slice into mmap region) or
// [Buffer.String] (heap copy for API boundaries). After Close, any
// access panics. Close is idempotent.
//
// [Zero] and [Equal] operate on plain byte slices for key material
// that must live in fixed-size arrays (curve scalars, derived keys):
// Zero wipes in place, Equal compares in constant time.
//
// Depends on golang.org/x/sys/unix. No Cordon-internal dependencies.
// Imported by lib/identity for seed handling, lib/sealed for age
// keypair protection, lib/authority for enrollment code comparison,
// and transport for ephemeral key cleanup.
package secret
