// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Cordon is the operator CLI for a cordon deployment. It manages the
// local identity keypair (identity), mints enrollment codes and
// administers trust records over a daemon's admin socket (enroll-code,
// trust, status, sessions), evaluates policy files offline (policy),
// and sends one-shot authenticated requests to peers (call).
package main
