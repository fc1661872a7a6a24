// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies network I/O errors for the frame
// transport.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. A peer that exits without sending a close frame surfaces one
// of these on the surviving side's blocked read or write, as does a
// registry closing a superseded session out from under its serve
// loop. All four are routine teardown, not failures worth a warning.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
