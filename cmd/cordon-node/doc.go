// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Cordon-node is the serving daemon. On boot it loads or generates
// the node identity, enrolls with the configured authority when a
// stored credential or one-time enrollment code is available, and
// then answers inbound secure-channel requests, each gated by the
// configured policy set.
//
// Built-in methods status/ping and status/info are mounted alongside
// whatever the deployment registers. A local admin socket serves the
// cordon CLI: whoami, sessions, and status.
package main
