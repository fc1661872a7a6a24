// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package adminsock is the local control surface of a Cordon daemon: a
// one-request-per-connection CBOR protocol on a Unix socket, used by
// the cordon CLI to inspect and administer a daemon on the same host.
//
// The trust boundary is the filesystem. The socket lives in the
// daemon's state directory and is owner-only; anyone who can connect
// already owns the daemon's identity key, so requests carry no
// authentication. Remote administration goes through the dispatcher
// and its policy engine instead, never through this socket.
//
// A connection carries exactly one request and one response. The
// request is a CBOR map with an "action" field selecting the handler;
// the response is a [Response] envelope. CBOR is self-delimiting, so
// there is no framing.
package adminsock
