// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"path"
	"strings"
)

// MatchPattern checks whether a method name matches a glob pattern
// using Cordon's hierarchical method conventions:
//
//   - Exact match: "sensor/read" matches only "sensor/read"
//   - Single-segment wildcard: "sensor/*" matches "sensor/read" but
//     not "sensor/calibrate/reset"
//   - Recursive wildcard: "sensor/**" matches "sensor/read",
//     "sensor/calibrate/reset", etc.
//   - Universal: "**" matches any method
//   - Interior recursive: "sensor/**/reset" matches "sensor/reset",
//     "sensor/calibrate/reset", etc.
//   - Character wildcards: "?" matches a single non-slash character
//
// Wildcards * and ? work in all positions, including around **. The
// single-segment wildcard "*" does not match "/" — this is standard
// path.Match behavior. Use "**" to match across hierarchy boundaries.
//
// Returns false for malformed patterns (unmatched brackets, etc.)
// rather than propagating errors — a malformed pattern must never
// cover a method.
func MatchPattern(pattern, method string) bool {
	// Universal match.
	if pattern == "**" {
		return true
	}

	// No ** in the pattern: path.Match handles single-segment * and
	// ? correctly (neither matches /).
	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, method)
	}

	// Suffix form: "sensor/**" — match the prefix, then anything
	// after it.
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		// ** spanning zero segments: the whole method is the prefix.
		if matchGlob(prefix, method) {
			return true
		}
		return matchLeadingSegments(prefix, method)
	}

	// Prefix form: "**/read" — match anything before, then the
	// suffix.
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchGlob(suffix, method) {
			return true
		}
		return matchTrailingSegments(suffix, method)
	}

	// Interior form: "sensor/**/reset" — split on the first /**,
	// match prefix and suffix independently.
	separatorIndex := strings.Index(pattern, "/**/")
	if separatorIndex >= 0 {
		prefix := pattern[:separatorIndex]
		suffix := pattern[separatorIndex+4:]

		// Zero-segment case: prefix and suffix are adjacent.
		// "sensor/**/reset" matches "sensor/reset".
		if matchGlob(prefix+"/"+suffix, method) {
			return true
		}

		// Multi-segment case: prefix matches the start, suffix the
		// end, with at least one segment between them for ** to
		// consume.
		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(method, "/")
		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		if !matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) {
			return false
		}
		if !matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
			return false
		}
		// Segments consumed by ** must be non-empty.
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// Multiple ** separators or other complex forms: unsupported,
	// deny.
	return false
}

// MatchAnyPattern checks whether a method matches any of the given
// patterns. An empty pattern slice matches nothing.
func MatchAnyPattern(patterns []string, method string) bool {
	for _, pattern := range patterns {
		if MatchPattern(pattern, method) {
			return true
		}
	}
	return false
}

// matchGlob applies path.Match semantics (wildcards * and ? do not
// cross / boundaries), treating malformed patterns as non-matching.
func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// matchLeadingSegments reports whether the method starts with
// segments matching the pattern, with at least one further segment
// after the matched portion.
func matchLeadingSegments(pattern, method string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(method, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[:depth], "/"))
}

// matchTrailingSegments reports whether the method ends with segments
// matching the pattern, with at least one segment before the matched
// portion.
func matchTrailingSegments(pattern, method string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(method, "/")
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
