// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// Attributes is a flat attribute set consumed by policy rules. Values
// are strings, integers, or booleans; a value of any other type never
// matches a comparison.
//
// Subject attributes come from a peer's verified credential and are
// always strings. Resource attributes are built by the dispatcher per
// request and may carry integers (payload sizes) and booleans.
type Attributes map[string]any

// GetString returns the string value for key.
func (a Attributes) GetString(key string) (string, bool) {
	value, ok := a[key].(string)
	return value, ok
}

// GetInt returns the integer value for key, accepting any Go integer
// flavor.
func (a Attributes) GetInt(key string) (int64, bool) {
	value, ok := a[key]
	if !ok {
		return 0, false
	}
	return toInt64(value)
}

// GetBool returns the boolean value for key.
func (a Attributes) GetBool(key string) (bool, bool) {
	value, ok := a[key].(bool)
	return value, ok
}

// FromStrings converts a flat string map — the shape of verified
// credential attributes — into an attribute set.
func FromStrings(attrs map[string]string) Attributes {
	out := make(Attributes, len(attrs))
	for key, value := range attrs {
		out[key] = value
	}
	return out
}
