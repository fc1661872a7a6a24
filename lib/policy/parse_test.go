// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"testing"
)

func mustParse(t *testing.T, rule string) Expr {
	t.Helper()
	expr, err := Parse(rule)
	if err != nil {
		t.Fatalf("Parse(%q): %v", rule, err)
	}
	return expr
}

func TestParseAndEvaluate(t *testing.T) {
	subject := Attributes{
		"role":  "admin",
		"team":  "platform",
		"level": "3",
	}
	resource := Attributes{
		"action": "read",
		"size":   int64(2048),
		"public": true,
	}

	tests := []struct {
		rule string
		want Decision
	}{
		// Equality on strings.
		{`subject.role == "admin"`, Allow},
		{`subject.role == "viewer"`, Deny},
		{`subject.role != "viewer"`, Allow},

		// Integers and ordered operators.
		{`resource.size < 4096`, Allow},
		{`resource.size <= 2048`, Allow},
		{`resource.size > 2048`, Deny},
		{`resource.size >= 2048`, Allow},
		{`resource.size == 2048`, Allow},
		{`resource.size != 2048`, Deny},

		// Booleans.
		{`resource.public == true`, Allow},
		{`resource.public != true`, Deny},
		{`resource.public == false`, Deny},

		// Logical operators, keyword and symbol forms.
		{`subject.role == "admin" and resource.action == "read"`, Allow},
		{`subject.role == "admin" && resource.action == "write"`, Deny},
		{`subject.role == "viewer" or resource.action == "read"`, Allow},
		{`subject.role == "viewer" || resource.action == "write"`, Deny},
		{`not subject.role == "viewer"`, Allow},
		{`!(subject.role == "admin")`, Deny},

		// Precedence: and binds tighter than or.
		{`subject.role == "viewer" or subject.role == "admin" and resource.action == "read"`, Allow},
		{`(subject.role == "viewer" or subject.role == "admin") and resource.action == "write"`, Deny},

		// Bare boolean literals.
		{`true`, Allow},
		{`false`, Deny},
		{`true and false`, Deny},

		// Literal on the left.
		{`"admin" == subject.role`, Allow},
		{`3 > resource.size`, Deny},

		// Attribute-to-attribute comparison.
		{`subject.role == subject.role`, Allow},
		{`subject.role == subject.team`, Deny},
	}

	for _, tt := range tests {
		expr := mustParse(t, tt.rule)
		got := Evaluate(expr, subject, resource)
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.rule, got, tt.want)
		}
	}
}

func TestEvaluateFailClosed(t *testing.T) {
	subject := Attributes{"role": "admin", "level": "3"}
	resource := Attributes{"size": int64(100)}

	tests := []struct {
		name string
		rule string
	}{
		{"absent subject attribute", `subject.missing == "anything"`},
		{"absent resource attribute", `resource.missing == "anything"`},
		{"absent never equals absent", `subject.missing == resource.missing`},
		{"absent never not-equals", `subject.missing != "anything"`},
		{"string never equals int", `subject.level == 3`},
		{"string never ordered against int", `subject.level < 4`},
		{"int never equals bool", `resource.size == true`},
		{"ordered operator on two string refs", `subject.role < subject.role`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr := mustParse(t, tt.rule)
			if got := Evaluate(expr, subject, resource); got != Deny {
				t.Errorf("Evaluate(%q) = %v, want deny", tt.rule, got)
			}
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	subject := Attributes{"role": "admin"}
	resource := Attributes{"size": int64(10)}
	expr := mustParse(t, `subject.role == "admin" and resource.size < 100`)

	for i := 0; i < 50; i++ {
		if Evaluate(expr, subject, resource) != Allow {
			t.Fatalf("iteration %d: decision changed", i)
		}
	}
}

func TestEvaluateNilExpr(t *testing.T) {
	if Evaluate(nil, nil, nil) != Deny {
		t.Error("nil expression must deny")
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		rule string
	}{
		{"empty", ``},
		{"bare reference", `subject.role`},
		{"unknown scope", `actor.role == "admin"`},
		{"missing dot", `subject == "admin"`},
		{"missing key", `subject. == "admin"`},
		{"single equals", `subject.role = "admin"`},
		{"single ampersand", `subject.a == "1" & subject.b == "2"`},
		{"single pipe", `subject.a == "1" | subject.b == "2"`},
		{"unterminated string", `subject.role == "admin`},
		{"unsupported escape", `subject.role == "ad\nmin"`},
		{"unbalanced paren", `(subject.role == "admin"`},
		{"trailing tokens", `subject.role == "admin" admin`},
		{"ordered op on string literal", `subject.role < "admin"`},
		{"ordered op on bool literal", `resource.public >= true`},
		{"bare minus", `subject.size == -`},
		{"missing right operand", `subject.role ==`},
		{"two operators", `subject.role == == "admin"`},
		{"unknown character", `subject.role == @admin`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.rule)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Parse(%q): got %v, want ErrMalformed", tt.rule, err)
			}
		})
	}
}

func TestParse_StringEscapes(t *testing.T) {
	subject := Attributes{"note": `say "hi"`, "dir": `a\b`}

	expr := mustParse(t, `subject.note == "say \"hi\""`)
	if Evaluate(expr, subject, nil) != Allow {
		t.Error("escaped quotes did not round-trip")
	}
	expr = mustParse(t, `subject.dir == "a\\b"`)
	if Evaluate(expr, subject, nil) != Allow {
		t.Error("escaped backslash did not round-trip")
	}
}

func TestParse_NegativeIntegers(t *testing.T) {
	resource := Attributes{"offset": int64(-5)}

	expr := mustParse(t, `resource.offset == -5`)
	if Evaluate(expr, nil, resource) != Allow {
		t.Error("negative literal equality failed")
	}
	expr = mustParse(t, `resource.offset > -10`)
	if Evaluate(expr, nil, resource) != Allow {
		t.Error("negative literal comparison failed")
	}
}

func TestParse_KebabAttributeKeys(t *testing.T) {
	subject := Attributes{"quota-exempt": "true"}

	expr := mustParse(t, `subject.quota-exempt == "true"`)
	if Evaluate(expr, subject, nil) != Allow {
		t.Error("kebab-case key did not resolve")
	}
}

func TestExprString(t *testing.T) {
	tests := []struct {
		rule string
		want string
	}{
		{`subject.role == "admin"`, `subject.role == "admin"`},
		{`subject.a == "1" and subject.b == "2"`, `(subject.a == "1" and subject.b == "2")`},
		{`not subject.a == "1"`, `not subject.a == "1"`},
		{`resource.size <= 10`, `resource.size <= 10`},
		{`true`, `true`},
	}

	for _, tt := range tests {
		expr := mustParse(t, tt.rule)
		if got := expr.String(); got != tt.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tt.rule, got, tt.want)
		}
	}
}

func TestAttributesGetters(t *testing.T) {
	attrs := Attributes{"s": "text", "n": 42, "b": true}

	if v, ok := attrs.GetString("s"); !ok || v != "text" {
		t.Errorf("GetString(s) = (%q, %v)", v, ok)
	}
	if _, ok := attrs.GetString("n"); ok {
		t.Error("GetString(n) matched an int")
	}
	if v, ok := attrs.GetInt("n"); !ok || v != 42 {
		t.Errorf("GetInt(n) = (%d, %v)", v, ok)
	}
	if _, ok := attrs.GetInt("s"); ok {
		t.Error("GetInt(s) matched a string")
	}
	if v, ok := attrs.GetBool("b"); !ok || !v {
		t.Errorf("GetBool(b) = (%v, %v)", v, ok)
	}
	if _, ok := attrs.GetBool("missing"); ok {
		t.Error("GetBool(missing) reported present")
	}
}

func TestFromStrings(t *testing.T) {
	attrs := FromStrings(map[string]string{"role": "admin"})
	expr := mustParse(t, `subject.role == "admin"`)
	if Evaluate(expr, attrs, nil) != Allow {
		t.Error("converted attributes did not evaluate")
	}
}
