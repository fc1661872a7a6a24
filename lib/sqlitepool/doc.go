// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a Cordon-standard SQLite connection pool.
//
// Every Cordon process that needs local structured storage uses this
// package. It wraps zombiezen.com/go/sqlite with production defaults:
// WAL journal mode, a configurable synchronous level, and a busy
// timeout to handle write contention gracefully.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for the
// duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer. Reads never block writes; writes never block
//     reads.
//   - synchronous=NORMAL or FULL, per [Config.Synchronous]. NORMAL
//     survives process crashes and suits rebuildable caches. The
//     authority's trust store runs FULL: an issued credential must not
//     be handed to its subject before the trust record that backs it
//     has reached disk, so every commit fsyncs.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: Cordon stores keep referential integrity in
//     application code. The trust store is a single flat table.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:        "/var/cordon/authority/trust.db",
//	    PoolSize:    4,
//	    Synchronous: sqlitepool.SyncFull,
//	    Logger:      logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        // Create tables, register functions, etc.
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. There is no attempt
// to abstract away SQLite's connection model or invent a query builder.
// Stores write SQL, use sqlitex.Execute for cached statements, and
// manage transactions with sqlitex.ImmediateTransaction. The goal is a
// shared foundation (one dependency, one set of pragmas, one pool
// pattern) without an abstraction layer that fights SQLite's strengths.
package sqlitepool
