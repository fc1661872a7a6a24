// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates daemon configuration.
//
// Configuration comes from a single YAML file named explicitly, via
// the --config flag or the CORDON_CONFIG environment variable. There
// is no search path and no merging of multiple sources, so what a
// daemon runs with is exactly what one auditable file says.
//
// Environment variables never override parsed values. The one
// concession to portability is ${VAR} and ${VAR:-default} expansion
// inside path and address fields, so a file can say
// "${HOME}/.local/state/cordon/node" and work on any machine, and a
// one-time enrollment code can be passed as
// "${CORDON_ENROLLMENT_CODE:-}" instead of being written to disk.
//
// Load functions apply defaults, parse, and expand; Validate gathers
// every problem into one joined error rather than stopping at the
// first, so an operator fixes a broken file in one pass.
package config
