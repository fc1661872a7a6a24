// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package node dispatches requests between peers over secure channels.
//
// The server side is the Dispatcher: it answers inbound handshakes,
// registers the resulting sessions, and runs one worker loop per
// session that reads request envelopes, authorizes them against the
// policy set, and invokes the routed handler. Routing precedes
// authorization — an unknown method is reported as MethodNotFound
// without consulting policy, since there is nothing to authorize
// against an undefined method. A policy denial produces a Denied
// response with an empty payload; the denying policy's name goes to
// the audit log only.
//
// The client side is the Client: it resolves a peer name to an
// endpoint, dials, handshakes as initiator, and caches the session for
// later calls. Responses are matched to calls by correlation ID, so
// one session carries any number of concurrent calls. Non-Ok response
// statuses surface as *StatusError; match them with ErrDenied,
// ErrMethodNotFound, and ErrHandlerFailed.
//
// Credential expiry is re-checked on every request against the
// dispatcher's clock. A session whose credential has run out stays
// established, but its requests are denied until the peer
// re-handshakes with a fresh chain.
package node
