// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

const (
	// maxPeerNameLength is the maximum allowed length for a peer name.
	// Peer names appear in admin socket paths under the run directory,
	// and Unix socket paths are capped at 108 bytes (sun_path).
	maxPeerNameLength = 84

	// maxMethodLength is the maximum allowed length for a method name.
	// Methods only appear in wire envelopes and policy documents, so
	// the cap is looser than for peer names.
	maxMethodLength = 128
)

// allowedChars is the set of characters permitted in peer names and
// method names: a-z, 0-9, and the symbols . _ = - /.
var allowedChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedChars[c] = true
	}
	allowedChars['.'] = true
	allowedChars['_'] = true
	allowedChars['='] = true
	allowedChars['-'] = true
	allowedChars['/'] = true
}

// validatePath enforces Cordon path safety rules: characters restricted
// to a-z, 0-9, ., _, =, -, /; no leading or trailing /; no empty
// segments; no ".." segments; no segments starting with ".".
func validatePath(path, label string) error {
	for i := 0; i < len(path); i++ {
		if !allowedChars[path[i]] {
			return fmt.Errorf("%s: invalid character %q at position %d (allowed: a-z, 0-9, ., _, =, -, /)", label, path[i], i)
		}
	}

	if path[0] == '/' {
		return fmt.Errorf("%s must not start with /", label)
	}
	if path[len(path)-1] == '/' {
		return fmt.Errorf("%s must not end with /", label)
	}

	segments := strings.Split(path, "/")
	for _, segment := range segments {
		if segment == "" {
			return fmt.Errorf("%s contains empty segment (double slash)", label)
		}
		if segment == ".." {
			return fmt.Errorf("%s contains '..' segment (path traversal)", label)
		}
		if segment[0] == '.' {
			return fmt.Errorf("%s segment %q starts with '.' (hidden file/directory)", label, segment)
		}
	}

	return nil
}
