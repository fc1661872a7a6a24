// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Cordon-authority is the enrollment and credential-issuance daemon.
// It serves the authority methods (enroll, lookup, revoke) over the
// secure channel transport, persists trust records in SQLite, and
// exposes a local admin socket for minting enrollment codes and
// administering trust records with the cordon CLI.
package main
