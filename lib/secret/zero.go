// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import "crypto/subtle"

// Zero overwrites b with zeros. Use this for key material held in
// plain slices or arrays that cannot live in a Buffer — curve scalars
// passed to crypto APIs, derived session keys, decoded seeds.
func Zero(b []byte) {
	for index := range b {
		b[index] = 0
	}
}

// Equal reports whether x and y have the same contents, comparing in
// constant time. Length mismatch returns false immediately — the
// lengths of Cordon secrets (enrollment codes, MACs) are public.
func Equal(x, y []byte) bool {
	if len(x) != len(y) {
		return false
	}
	return subtle.ConstantTimeCompare(x, y) == 1
}
