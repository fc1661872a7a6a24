// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Cordon
// daemons and tools. It centralizes the one legitimate raw I/O
// pattern that exists before the structured logger: fatal error
// reporting to stderr from main() when run() fails and the logger may
// not be initialized yet.
package process
