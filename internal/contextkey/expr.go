package contextkey

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidExpression is returned by Parse for malformed input.
var ErrInvalidExpression = errors.New("contextkey: invalid expression")

// Context resolves key values during evaluation.
type Context interface {
	Lookup(key string) (any, bool)
}

// Expr is a parsed "when" clause.
type Expr interface {
	Eval(ctx Context) bool
	// Keys returns every context key the expression reads.
	Keys() []string
	String() string
}

// Parse parses a when clause. Supported syntax:
//
//	key, !key, key == value, key != value, a && b, a || b, ( ... )
//
// An empty string parses to a nil Expr, which always evaluates to true.
func Parse(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidExpression, p.toks[p.pos].text, src)
	}
	return expr, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case strings.HasPrefix(src[i:], "&&"):
			toks = append(toks, token{tokAnd, "&&"})
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			toks = append(toks, token{tokOr, "||"})
			i += 2
		case strings.HasPrefix(src[i:], "=="):
			toks = append(toks, token{tokEq, "=="})
			i += 2
		case strings.HasPrefix(src[i:], "!="):
			toks = append(toks, token{tokNeq, "!="})
			i += 2
		case c == '!':
			toks = append(toks, token{tokNot, "!"})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated string in %q", ErrInvalidExpression, src)
			}
			toks = append(toks, token{tokString, src[i+1 : i+1+end]})
			i += end + 2
		case isIdentByte(c):
			start := i
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i]})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidExpression, c, src)
		}
	}
	return toks, nil
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '-' || c == ':' || c == '/'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return orExpr(terms), nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			break
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return andExpr(terms), nil
}

func (p *parser) parseUnary() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrInvalidExpression)
	}
	switch t.kind {
	case tokNot:
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	case tokLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidExpression)
		}
		p.pos++
		return inner, nil
	case tokIdent:
		p.pos++
		return p.parseComparison(t.text)
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidExpression, t.text)
	}
}

func (p *parser) parseComparison(key string) (Expr, error) {
	switch key {
	case "true":
		return constExpr(true), nil
	case "false":
		return constExpr(false), nil
	}
	t, ok := p.peek()
	if !ok || (t.kind != tokEq && t.kind != tokNeq) {
		return keyExpr(key), nil
	}
	p.pos++
	v, ok := p.peek()
	if !ok || (v.kind != tokIdent && v.kind != tokString) {
		return nil, fmt.Errorf("%w: expected value after %s", ErrInvalidExpression, t.text)
	}
	p.pos++
	return cmpExpr{key: key, value: v.text, negate: t.kind == tokNeq}, nil
}

type constExpr bool

func (e constExpr) Eval(Context) bool { return bool(e) }
func (e constExpr) Keys() []string    { return nil }
func (e constExpr) String() string    { return fmt.Sprint(bool(e)) }

type keyExpr string

func (e keyExpr) Eval(ctx Context) bool {
	v, ok := ctx.Lookup(string(e))
	return ok && truthy(v)
}
func (e keyExpr) Keys() []string { return []string{string(e)} }
func (e keyExpr) String() string { return string(e) }

type notExpr struct{ inner Expr }

func (e notExpr) Eval(ctx Context) bool { return !e.inner.Eval(ctx) }
func (e notExpr) Keys() []string        { return e.inner.Keys() }
func (e notExpr) String() string        { return "!" + e.inner.String() }

type cmpExpr struct {
	key    string
	value  string
	negate bool
}

func (e cmpExpr) Eval(ctx Context) bool {
	v, ok := ctx.Lookup(e.key)
	eq := ok && fmt.Sprint(v) == e.value
	return eq != e.negate
}
func (e cmpExpr) Keys() []string { return []string{e.key} }
func (e cmpExpr) String() string {
	op := "=="
	if e.negate {
		op = "!="
	}
	return fmt.Sprintf("%s %s '%s'", e.key, op, e.value)
}

type andExpr []Expr

func (e andExpr) Eval(ctx Context) bool {
	for _, t := range e {
		if !t.Eval(ctx) {
			return false
		}
	}
	return true
}
func (e andExpr) Keys() []string { return collectKeys(e) }
func (e andExpr) String() string { return joinExprs(e, " && ") }

type orExpr []Expr

func (e orExpr) Eval(ctx Context) bool {
	for _, t := range e {
		if t.Eval(ctx) {
			return true
		}
	}
	return false
}
func (e orExpr) Keys() []string { return collectKeys(e) }
func (e orExpr) String() string { return "(" + joinExprs(e, " || ") + ")" }

func collectKeys(terms []Expr) []string {
	var keys []string
	for _, t := range terms {
		for _, k := range t.Keys() {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func joinExprs(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, sep)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
