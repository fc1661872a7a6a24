// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "strconv"

// Decision is the outcome of a policy evaluation.
type Decision int

const (
	// Deny means the request is not permitted. Deny is the zero
	// value: an absent or unevaluated outcome never allows.
	Deny Decision = iota

	// Allow means the request is permitted.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Expr is a node in a parsed policy rule. Expressions are built by
// Parse, are immutable, and are safe for concurrent use.
type Expr interface {
	// eval reports whether the expression holds for the given
	// attribute sets. Evaluation never fails: missing attributes
	// and type mismatches make the enclosing comparison false.
	eval(subject, resource Attributes) bool

	// String renders the expression in rule syntax.
	String() string
}

// Operand is a comparison operand: an attribute reference or a
// literal value.
type Operand interface {
	// resolve returns the operand's value and whether it is present.
	resolve(subject, resource Attributes) (any, bool)

	// String renders the operand in rule syntax.
	String() string
}

// Scope selects which attribute set a Ref reads.
type Scope int

const (
	// SubjectScope reads the verified credential attributes of the
	// requesting peer.
	SubjectScope Scope = iota

	// ResourceScope reads the attributes of the requested operation.
	ResourceScope
)

// String returns "subject" or "resource".
func (s Scope) String() string {
	if s == ResourceScope {
		return "resource"
	}
	return "subject"
}

// Op is a comparison operator. The ordered operators apply only to
// integers; equality applies to strings, integers, and booleans.
type Op int

const (
	OpEqual Op = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

// String returns the operator's rule syntax.
func (o Op) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	default:
		return "?"
	}
}

// And is true when both operands are true.
type And struct{ Left, Right Expr }

func (a And) eval(subject, resource Attributes) bool {
	return a.Left.eval(subject, resource) && a.Right.eval(subject, resource)
}

func (a And) String() string {
	return "(" + a.Left.String() + " and " + a.Right.String() + ")"
}

// Or is true when either operand is true.
type Or struct{ Left, Right Expr }

func (o Or) eval(subject, resource Attributes) bool {
	return o.Left.eval(subject, resource) || o.Right.eval(subject, resource)
}

func (o Or) String() string {
	return "(" + o.Left.String() + " or " + o.Right.String() + ")"
}

// Not negates its operand.
type Not struct{ Expr Expr }

func (n Not) eval(subject, resource Attributes) bool {
	return !n.Expr.eval(subject, resource)
}

func (n Not) String() string { return "not " + n.Expr.String() }

// Bool is a literal boolean expression. The rule "true" parses to
// Bool and allows unconditionally; "false" denies unconditionally.
type Bool struct{ Value bool }

func (b Bool) eval(subject, resource Attributes) bool { return b.Value }

func (b Bool) String() string { return strconv.FormatBool(b.Value) }

// Comparison applies an operator to two operands. A comparison with
// a missing attribute or mismatched types is false; absence never
// grants access.
type Comparison struct {
	Left  Operand
	Op    Op
	Right Operand
}

func (c Comparison) eval(subject, resource Attributes) bool {
	left, ok := c.Left.resolve(subject, resource)
	if !ok {
		return false
	}
	right, ok := c.Right.resolve(subject, resource)
	if !ok {
		return false
	}
	return compare(left, c.Op, right)
}

func (c Comparison) String() string {
	return c.Left.String() + " " + c.Op.String() + " " + c.Right.String()
}

// Ref is an attribute reference operand: "subject.<key>" or
// "resource.<key>".
type Ref struct {
	Scope Scope
	Key   string
}

func (r Ref) resolve(subject, resource Attributes) (any, bool) {
	var value any
	var ok bool
	if r.Scope == ResourceScope {
		value, ok = resource[r.Key]
	} else {
		value, ok = subject[r.Key]
	}
	return value, ok
}

func (r Ref) String() string { return r.Scope.String() + "." + r.Key }

// Value is a literal operand: a quoted string, an integer (held as
// int64), or a boolean.
type Value struct{ Literal any }

func (v Value) resolve(subject, resource Attributes) (any, bool) {
	return v.Literal, true
}

func (v Value) String() string {
	switch literal := v.Literal.(type) {
	case string:
		return strconv.Quote(literal)
	case int64:
		return strconv.FormatInt(literal, 10)
	case bool:
		return strconv.FormatBool(literal)
	default:
		return "?"
	}
}

// Evaluate applies a parsed rule to the given attribute sets. It is a
// pure function of its inputs: deterministic, no I/O, and it never
// fails. A nil expression denies.
func Evaluate(expr Expr, subject, resource Attributes) Decision {
	if expr == nil {
		return Deny
	}
	if expr.eval(subject, resource) {
		return Allow
	}
	return Deny
}

// compare applies op to two resolved values. Comparisons are strict:
// no coercion between strings, integers, and booleans, and ordered
// operators apply only to integers. Every unsupported combination is
// false.
func compare(left any, op Op, right any) bool {
	if leftInt, ok := toInt64(left); ok {
		rightInt, ok := toInt64(right)
		if !ok {
			return false
		}
		switch op {
		case OpEqual:
			return leftInt == rightInt
		case OpNotEqual:
			return leftInt != rightInt
		case OpLess:
			return leftInt < rightInt
		case OpLessEqual:
			return leftInt <= rightInt
		case OpGreater:
			return leftInt > rightInt
		case OpGreaterEqual:
			return leftInt >= rightInt
		default:
			return false
		}
	}

	switch leftValue := left.(type) {
	case string:
		rightValue, ok := right.(string)
		if !ok {
			return false
		}
		switch op {
		case OpEqual:
			return leftValue == rightValue
		case OpNotEqual:
			return leftValue != rightValue
		default:
			return false
		}
	case bool:
		rightValue, ok := right.(bool)
		if !ok {
			return false
		}
		switch op {
		case OpEqual:
			return leftValue == rightValue
		case OpNotEqual:
			return leftValue != rightValue
		default:
			return false
		}
	default:
		return false
	}
}

// toInt64 normalizes integer flavors. Floats never match: attribute
// values are strings, integers, or booleans.
func toInt64(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
