package state

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Hand-written recursive-descent evaluator for condition expressions.
// Recognized grammar, nothing more:
//
//	or     := and ( "||" and )*
//	and    := eq ( "&&" eq )*
//	eq     := cmp ( ("==" | "!=" | "===" | "!==") cmp )*
//	cmp    := unary ( ("<" | "<=" | ">" | ">=") unary )?
//	unary  := "!" unary | primary
//	primary:= number | string | "true" | "false" | "null" | "(" or ")"
//
// JSONPath tokens are rewritten into literals before parsing, so the
// evaluator itself never touches the context.

func evalCondExpr(input string) (bool, error) {
	tokens, err := lexCondExpr(input)
	if err != nil {
		return false, err
	}
	p := &condParser{tokens: tokens}
	value, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if !p.atEnd() {
		return false, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	return truthy(value), nil
}

type condToken struct {
	kind string // "num", "str", "bool", "null", "op"
	text string
	num  float64
	b    bool
}

func lexCondExpr(input string) ([]condToken, error) {
	var tokens []condToken
	i := 0
	for i < len(input) {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, condToken{kind: "op", text: string(c)})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(input) || input[i+1] != input[i] {
				return nil, fmt.Errorf("invalid operator at %q", input[i:])
			}
			tokens = append(tokens, condToken{kind: "op", text: input[i : i+2]})
			i += 2
		case c == '=' || c == '!':
			op := lexComparator(input[i:])
			if op == "" {
				if c == '!' {
					tokens = append(tokens, condToken{kind: "op", text: "!"})
					i++
					continue
				}
				return nil, fmt.Errorf("invalid operator at %q", input[i:])
			}
			tokens = append(tokens, condToken{kind: "op", text: op})
			i += len(op)
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
			}
			tokens = append(tokens, condToken{kind: "op", text: op})
			i += len(op)
		case c == '\'' || c == '"':
			text, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, condToken{kind: "str", text: text})
			i = next
		case unicode.IsDigit(c) || c == '-' || c == '+':
			start := i
			i++
			for i < len(input) && (unicode.IsDigit(rune(input[i])) || input[i] == '.' || input[i] == 'e' || input[i] == 'E') {
				i++
			}
			num, err := strconv.ParseFloat(input[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", input[start:i])
			}
			tokens = append(tokens, condToken{kind: "num", num: num, text: input[start:i]})
		case unicode.IsLetter(c):
			start := i
			for i < len(input) && (unicode.IsLetter(rune(input[i])) || unicode.IsDigit(rune(input[i])) || input[i] == '_') {
				i++
			}
			word := input[start:i]
			switch word {
			case "true":
				tokens = append(tokens, condToken{kind: "bool", b: true, text: word})
			case "false":
				tokens = append(tokens, condToken{kind: "bool", b: false, text: word})
			case "null", "undefined":
				tokens = append(tokens, condToken{kind: "null", text: word})
			default:
				return nil, fmt.Errorf("unknown identifier %q", word)
			}
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return tokens, nil
}

// lexString scans a quoted literal starting at input[start], decoding
// backslash escapes (\" \\ \' \n \t \r \uXXXX). JSONPath values are
// rewritten into the expression as JSON string literals, so escaped
// quotes and backslashes must round-trip. Returns the decoded text and
// the index just past the closing quote.
func lexString(input string, start int) (string, int, error) {
	quote := input[start]
	var sb strings.Builder
	i := start + 1
	for i < len(input) {
		switch ch := input[i]; {
		case ch == quote:
			return sb.String(), i + 1, nil
		case ch == '\\':
			if i+1 >= len(input) {
				return "", 0, fmt.Errorf("unterminated escape at %q", input[start:])
			}
			switch esc := input[i+1]; esc {
			case 'n':
				sb.WriteByte('\n')
				i += 2
			case 't':
				sb.WriteByte('\t')
				i += 2
			case 'r':
				sb.WriteByte('\r')
				i += 2
			case 'u':
				if i+6 > len(input) {
					return "", 0, fmt.Errorf("invalid unicode escape at %q", input[i:])
				}
				code, err := strconv.ParseUint(input[i+2:i+6], 16, 32)
				if err != nil {
					return "", 0, fmt.Errorf("invalid unicode escape at %q", input[i:i+6])
				}
				sb.WriteRune(rune(code))
				i += 6
			default:
				sb.WriteByte(esc)
				i += 2
			}
		default:
			sb.WriteByte(ch)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string at %q", input[start:])
}

// lexComparator returns the longest equality operator at the front of s.
func lexComparator(s string) string {
	for _, op := range []string{"===", "!==", "==", "!="} {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

type condParser struct {
	tokens []condToken
	pos    int
}

func (p *condParser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *condParser) peek() condToken {
	if p.atEnd() {
		return condToken{}
	}
	return p.tokens[p.pos]
}

func (p *condParser) matchOp(ops ...string) (string, bool) {
	if p.atEnd() || p.tokens[p.pos].kind != "op" {
		return "", false
	}
	for _, op := range ops {
		if p.tokens[p.pos].text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *condParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
}

func (p *condParser) parseAnd() (any, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
}

func (p *condParser) parseEquality() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("===", "!==", "==", "!=")
		if !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		switch op {
		case "===":
			left = strictEqual(left, right)
		case "!==":
			left = !strictEqual(left, right)
		case "==":
			left = looseEqual(left, right)
		case "!=":
			left = !looseEqual(left, right)
		}
	}
}

func (p *condParser) parseComparison() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.matchOp("<=", ">=", "<", ">")
	if !ok {
		return left, nil
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return compareOrdered(left, right, op)
}

func (p *condParser) parseUnary() (any, error) {
	if _, ok := p.matchOp("!"); ok {
		value, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(value), nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (any, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	tok := p.tokens[p.pos]
	switch tok.kind {
	case "num":
		p.pos++
		return tok.num, nil
	case "str":
		p.pos++
		return tok.text, nil
	case "bool":
		p.pos++
		return tok.b, nil
	case "null":
		p.pos++
		return nil, nil
	case "op":
		if tok.text == "(" {
			p.pos++
			value, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, ok := p.matchOp(")"); !ok {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return value, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", tok.text)
}

// truthy follows the source semantics: false, 0, "", and null are falsy.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

func strictEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

// looseEqual compares across types: numeric strings compare numerically,
// booleans coerce to 0/1.
func looseEqual(a, b any) bool {
	if strictEqual(a, b) {
		return true
	}
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an == bn
	}
	return false
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func compareOrdered(a, b any, op string) (any, error) {
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return applyOrder(strings.Compare(as, bs), op), nil
		}
	}
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot compare %v and %v with %s", a, b, op)
	}
	switch {
	case an < bn:
		return applyOrder(-1, op), nil
	case an > bn:
		return applyOrder(1, op), nil
	default:
		return applyOrder(0, op), nil
	}
}

func applyOrder(cmp int, op string) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}
