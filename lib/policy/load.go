// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Document is the on-disk policy file: a JSONC object with a
// top-level "policies" array. JSONC is JSON extended with // line
// comments, /* block comments */, and trailing commas.
type Document struct {
	Policies []DocumentPolicy `json:"policies"`
}

// DocumentPolicy is a single policy entry in a document.
type DocumentPolicy struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Rule     string `json:"rule"`
}

// ParseDocument strips JSONC comments and trailing commas from data,
// unmarshals the document, and compiles every rule. An empty
// document is a valid set that denies every method.
func ParseDocument(data []byte) (*Set, error) {
	stripped := jsonc.ToJSON(data)

	var doc Document
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	policies := make([]Policy, 0, len(doc.Policies))
	for i, entry := range doc.Policies {
		policy, err := NewPolicy(entry.Name, entry.Resource, entry.Rule)
		if err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
		policies = append(policies, policy)
	}
	return NewSet(policies...)
}

// LoadFile reads a JSONC policy document from disk and compiles it.
// Returns a descriptive error if the file cannot be read or any rule
// does not parse; callers fail startup on error rather than running
// with a partial set.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	set, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}
