// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"

	"github.com/cordon-foundation/cordon/lib/ref"
)

// Policy is a named rule bound to a resource pattern. The pattern is
// a method glob (MatchPattern syntax); the rule is a compiled
// expression.
type Policy struct {
	name     string
	resource string
	rule     Expr
}

// NewPolicy compiles rule and binds it to a name and resource
// pattern.
func NewPolicy(name, resource, rule string) (Policy, error) {
	if name == "" {
		return Policy{}, fmt.Errorf("%w: policy name is empty", ErrMalformed)
	}
	if resource == "" {
		return Policy{}, fmt.Errorf("%w: policy %q: resource pattern is empty", ErrMalformed, name)
	}
	expr, err := Parse(rule)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %q: %w", name, err)
	}
	return Policy{name: name, resource: resource, rule: expr}, nil
}

// Name returns the policy's name.
func (p Policy) Name() string { return p.name }

// Resource returns the method glob pattern the policy covers.
func (p Policy) Resource() string { return p.resource }

// Rule returns the compiled rule expression.
func (p Policy) Rule() Expr { return p.rule }

// Set is an ordered collection of named policies. A Set is immutable
// after construction and safe for concurrent use.
type Set struct {
	policies []Policy
}

// NewSet builds a set. Policy names must be unique; evaluation order
// follows the order given here.
func NewSet(policies ...Policy) (*Set, error) {
	seen := make(map[string]bool, len(policies))
	for _, policy := range policies {
		if seen[policy.name] {
			return nil, fmt.Errorf("%w: duplicate policy name %q", ErrMalformed, policy.name)
		}
		seen[policy.name] = true
	}
	return &Set{policies: append([]Policy(nil), policies...)}, nil
}

// Len returns the number of policies in the set.
func (s *Set) Len() int { return len(s.policies) }

// Policies returns a copy of the policies in evaluation order.
func (s *Set) Policies() []Policy {
	return append([]Policy(nil), s.policies...)
}

// Verdict is the outcome of a Set decision together with the audit
// trail of how it was reached. Only Decision may influence the
// response sent to a peer; DeniedBy and Matched are for local logs.
type Verdict struct {
	// Decision is Allow or Deny.
	Decision Decision

	// Matched is the number of policies whose resource pattern
	// matched the method.
	Matched int

	// DeniedBy is the name of the first policy that evaluated to
	// deny. Empty when allowed, and empty when denied because no
	// policy matched the method at all.
	DeniedBy string
}

// Decide evaluates every policy whose resource pattern matches the
// method, in set order. All matching policies must allow; the first
// denying policy short-circuits. A method that no policy covers is
// denied.
func (s *Set) Decide(method ref.Method, subject, resource Attributes) Verdict {
	verdict := Verdict{Decision: Deny}
	name := method.String()
	for _, policy := range s.policies {
		if !MatchPattern(policy.resource, name) {
			continue
		}
		verdict.Matched++
		if Evaluate(policy.rule, subject, resource) == Deny {
			verdict.DeniedBy = policy.name
			return verdict
		}
	}
	if verdict.Matched == 0 {
		return verdict
	}
	verdict.Decision = Allow
	return verdict
}
