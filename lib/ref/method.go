// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// Method names an operation that a peer exposes through its
// dispatcher, such as "sensor/read" or "authority/enroll". Methods
// are hierarchical paths using only lowercase letters, digits, and
// the symbols . _ = - /.
//
// Policy documents match methods against glob patterns; see
// lib/policy. The reserved "authority/" prefix belongs to enrollment
// and trust operations served by authority nodes.
//
// Method is an immutable value type, comparable with == and usable as
// a map key. The zero value is not valid; use IsZero to check.
type Method struct {
	name string
}

// NewMethod creates a validated Method.
func NewMethod(raw string) (Method, error) {
	if raw == "" {
		return Method{}, fmt.Errorf("invalid method: name is empty")
	}
	if len(raw) > maxMethodLength {
		return Method{}, fmt.Errorf("invalid method %q: %d characters, maximum is %d", raw, len(raw), maxMethodLength)
	}
	if err := validatePath(raw, "method"); err != nil {
		return Method{}, fmt.Errorf("invalid method: %w", err)
	}
	return Method{name: raw}, nil
}

// MustMethod is like NewMethod but panics on error. Use in tests and
// static initialization where the input is known-valid.
func MustMethod(raw string) Method {
	m, err := NewMethod(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustMethod(%q): %v", raw, err))
	}
	return m
}

// String returns the method name (e.g., "sensor/read").
func (m Method) String() string { return m.name }

// IsZero reports whether the Method is the zero value (uninitialized).
func (m Method) IsZero() bool { return m.name == "" }

// MarshalText implements encoding.TextMarshaler for JSON and CBOR
// serialization.
func (m Method) MarshalText() ([]byte, error) {
	if m.name == "" {
		return []byte{}, nil
	}
	return []byte(m.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the
// method name. An empty input produces the zero value.
func (m *Method) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*m = Method{}
		return nil
	}
	parsed, err := NewMethod(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
