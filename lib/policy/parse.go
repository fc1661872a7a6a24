// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed reports a rule or policy document that does not parse.
// Rules are compiled when policies load, so a malformed rule fails
// startup rather than surfacing during request handling.
var ErrMalformed = errors.New("policy: malformed rule")

// Parse compiles a rule expression. The grammar, loosest binding
// first:
//
//	expr       := and ( ("or" | "||") and )*
//	and        := unary ( ("and" | "&&") unary )*
//	unary      := ("not" | "!") unary | primary
//	primary    := "(" expr ")" | "true" | "false" | comparison
//	comparison := operand ("==" | "!=" | "<" | "<=" | ">" | ">=") operand
//	operand    := "subject" "." key | "resource" "." key | literal
//	literal    := "quoted string" | integer | "true" | "false"
//
// Ordered operators require integer operands; a rule comparing a
// string or boolean literal with < <= > >= is rejected here. When
// both operands are attribute references the types are unknown until
// evaluation, and an unsupported combination evaluates to false.
func Parse(rule string) (Expr, error) {
	p := &parser{input: rule}
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenEOF {
		return nil, fmt.Errorf("%w: offset %d: unexpected %q after expression", ErrMalformed, p.tok.pos, p.tok.text)
	}
	return expr, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenInt
	tokenOp
	tokenLeftParen
	tokenRightParen
	tokenDot
	tokenBang
	tokenAndAnd
	tokenOrOr
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type parser struct {
	input string
	pos   int
	tok   token
}

// advance scans the next token into p.tok.
func (p *parser) advance() error {
	for p.pos < len(p.input) && isSpace(p.input[p.pos]) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.input) {
		p.tok = token{kind: tokenEOF, pos: start}
		return nil
	}

	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		p.tok = token{kind: tokenLeftParen, text: "(", pos: start}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokenRightParen, text: ")", pos: start}
	case c == '.':
		p.pos++
		p.tok = token{kind: tokenDot, text: ".", pos: start}
	case c == '"':
		return p.scanString(start)
	case c == '=':
		if !p.hasNext('=') {
			return fmt.Errorf("%w: offset %d: single %q (use \"==\" for equality)", ErrMalformed, start, "=")
		}
		p.pos += 2
		p.tok = token{kind: tokenOp, text: "==", pos: start}
	case c == '!':
		if p.hasNext('=') {
			p.pos += 2
			p.tok = token{kind: tokenOp, text: "!=", pos: start}
		} else {
			p.pos++
			p.tok = token{kind: tokenBang, text: "!", pos: start}
		}
	case c == '<' || c == '>':
		text := string(c)
		p.pos++
		if p.pos < len(p.input) && p.input[p.pos] == '=' {
			text += "="
			p.pos++
		}
		p.tok = token{kind: tokenOp, text: text, pos: start}
	case c == '&':
		if !p.hasNext('&') {
			return fmt.Errorf("%w: offset %d: single %q (use \"&&\" or \"and\")", ErrMalformed, start, "&")
		}
		p.pos += 2
		p.tok = token{kind: tokenAndAnd, text: "&&", pos: start}
	case c == '|':
		if !p.hasNext('|') {
			return fmt.Errorf("%w: offset %d: single %q (use \"||\" or \"or\")", ErrMalformed, start, "|")
		}
		p.pos += 2
		p.tok = token{kind: tokenOrOr, text: "||", pos: start}
	case c == '-' || isDigit(c):
		p.pos++
		for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
			p.pos++
		}
		text := p.input[start:p.pos]
		if text == "-" {
			return fmt.Errorf("%w: offset %d: %q is not an integer", ErrMalformed, start, text)
		}
		p.tok = token{kind: tokenInt, text: text, pos: start}
	case isIdentStart(c):
		p.pos++
		for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
			p.pos++
		}
		p.tok = token{kind: tokenIdent, text: p.input[start:p.pos], pos: start}
	default:
		return fmt.Errorf("%w: offset %d: unexpected character %q", ErrMalformed, start, string(c))
	}
	return nil
}

// scanString scans a double-quoted string with \" and \\ escapes.
func (p *parser) scanString(start int) error {
	p.pos++ // opening quote
	var builder strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '"':
			p.pos++
			p.tok = token{kind: tokenString, text: builder.String(), pos: start}
			return nil
		case '\\':
			if p.pos+1 >= len(p.input) {
				return fmt.Errorf("%w: offset %d: unterminated escape", ErrMalformed, p.pos)
			}
			next := p.input[p.pos+1]
			if next != '"' && next != '\\' {
				return fmt.Errorf("%w: offset %d: unsupported escape \\%s", ErrMalformed, p.pos, string(next))
			}
			builder.WriteByte(next)
			p.pos += 2
		default:
			builder.WriteByte(c)
			p.pos++
		}
	}
	return fmt.Errorf("%w: offset %d: unterminated string", ErrMalformed, start)
}

func (p *parser) hasNext(c byte) bool {
	return p.pos+1 < len(p.input) && p.input[p.pos+1] == c
}

func (p *parser) isKeyword(word string) bool {
	return p.tok.kind == tokenIdent && p.tok.text == word
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") || p.tok.kind == tokenOrOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") || p.tok.kind == tokenAndAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isKeyword("not") || p.tok.kind == tokenBang {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.tok.kind == tokenLeftParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokenRightParen {
			return nil, fmt.Errorf("%w: offset %d: expected \")\"", ErrMalformed, p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return expr, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if op, ok := comparisonOp(p.tok); ok {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		comparison := Comparison{Left: left, Op: op, Right: right}
		if err := checkComparison(comparison); err != nil {
			return nil, err
		}
		return comparison, nil
	}

	// A bare boolean literal is a complete expression; any other
	// bare operand is not.
	if value, ok := left.(Value); ok {
		if b, ok := value.Literal.(bool); ok {
			return Bool{Value: b}, nil
		}
	}
	return nil, fmt.Errorf("%w: offset %d: expected comparison operator after %s", ErrMalformed, p.tok.pos, left)
}

func (p *parser) parseOperand() (Operand, error) {
	tok := p.tok
	switch tok.kind {
	case tokenIdent:
		switch tok.text {
		case "subject", "resource":
			scope := SubjectScope
			if tok.text == "resource" {
				scope = ResourceScope
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokenDot {
				return nil, fmt.Errorf("%w: offset %d: expected \".\" after %q", ErrMalformed, p.tok.pos, tok.text)
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokenIdent {
				return nil, fmt.Errorf("%w: offset %d: expected attribute key after %q", ErrMalformed, p.tok.pos, tok.text+".")
			}
			key := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			return Ref{Scope: scope, Key: key}, nil
		case "true", "false":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return Value{Literal: tok.text == "true"}, nil
		default:
			return nil, fmt.Errorf("%w: offset %d: unknown identifier %q (want subject.<key>, resource.<key>, or a literal)", ErrMalformed, tok.pos, tok.text)
		}
	case tokenString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Value{Literal: tok.text}, nil
	case tokenInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %d: integer %q out of range", ErrMalformed, tok.pos, tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Value{Literal: n}, nil
	default:
		if tok.kind == tokenEOF {
			return nil, fmt.Errorf("%w: offset %d: expected operand at end of rule", ErrMalformed, tok.pos)
		}
		return nil, fmt.Errorf("%w: offset %d: expected operand, got %q", ErrMalformed, tok.pos, tok.text)
	}
}

// comparisonOp maps an operator token to its Op.
func comparisonOp(tok token) (Op, bool) {
	if tok.kind != tokenOp {
		return 0, false
	}
	switch tok.text {
	case "==":
		return OpEqual, true
	case "!=":
		return OpNotEqual, true
	case "<":
		return OpLess, true
	case "<=":
		return OpLessEqual, true
	case ">":
		return OpGreater, true
	case ">=":
		return OpGreaterEqual, true
	default:
		return 0, false
	}
}

// checkComparison rejects operator/type combinations that could never
// hold: ordered operators against a string or boolean literal.
func checkComparison(c Comparison) error {
	if c.Op == OpEqual || c.Op == OpNotEqual {
		return nil
	}
	for _, operand := range []Operand{c.Left, c.Right} {
		value, ok := operand.(Value)
		if !ok {
			continue
		}
		if _, isInt := value.Literal.(int64); !isInt {
			return fmt.Errorf("%w: operator %s requires integer operands, got %s", ErrMalformed, c.Op, value)
		}
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// isIdentPart allows '-' so kebab-case attribute keys parse as single
// identifiers; there is no subtraction in the grammar to collide with.
func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '-'
}
