package filter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"tidb-odata/internal/odataerr"
)

// Parse reads a $filter expression into an operator tree.
//
// Precedence from loosest to tightest: or, and, not, comparison/in.
// A bare member in boolean position is read as "member eq true".
func Parse(text string) (Node, error) {
	p := &parser{lex: lexer{src: text}}
	p.advance()
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
	return asNode(expr)
}

func asNode(expr Expression) (Node, error) {
	switch e := expr.(type) {
	case Node:
		return e, nil
	case Member:
		return Compare(OpEq, e, Value(true)), nil
	}
	return nil, syntaxError("expression is not a predicate")
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && l.src[l.pos] == ' ' {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	ch := l.src[l.pos]
	switch {
	case ch == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ch == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case ch == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case ch == '\'':
		var b strings.Builder
		l.pos++
		for l.pos < len(l.src) {
			c := l.src[l.pos]
			if c == '\'' {
				if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
					b.WriteByte('\'')
					l.pos += 2
					continue
				}
				l.pos++
				return token{kind: tokString, text: b.String(), pos: start}, nil
			}
			b.WriteByte(c)
			l.pos++
		}
		return token{}, syntaxError(fmt.Sprintf("unterminated string at %d", start))
	case ch == '-' || (ch >= '0' && ch <= '9'):
		l.pos++
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || strings.IndexByte(".eE+-", l.src[l.pos]) >= 0) {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
	case isIdentStart(rune(ch)):
		for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	}
	return token{}, syntaxError(fmt.Sprintf("unexpected character %q at %d", ch, start))
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool { return r == '_' || r == '$' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) || r == '/' || r == '.' }

type parser struct {
	lex lexer
	tok token
	err error
}

func (p *parser) advance() {
	if p.err != nil {
		return
	}
	p.tok, p.err = p.lex.next()
}

func (p *parser) keyword(word string) bool {
	return p.tok.kind == tokIdent && p.tok.text == word
}

func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return syntaxError(fmt.Sprintf(format, args...) + fmt.Sprintf(" at %d", p.tok.pos))
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or(left, right)
	}
	return left, p.err
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = And(left, right)
	}
	return left, p.err
}

func (p *parser) parseNot() (Expression, error) {
	if p.keyword("not") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Not(operand), nil
	}
	return p.parseComparison()
}

var comparisonKeywords = map[string]Operator{
	"eq": OpEq, "ne": OpNe, "gt": OpGt, "ge": OpGe, "lt": OpLt, "le": OpLe,
}

func (p *parser) parseComparison() (Expression, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokIdent {
		return left, p.err
	}
	if op, ok := comparisonKeywords[p.tok.text]; ok {
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return Compare(op, left, right), nil
	}
	if p.tok.text == "in" {
		p.advance()
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return In(left, list...), nil
	}
	return left, p.err
}

func (p *parser) parseList() ([]Expression, error) {
	if p.tok.kind != tokLParen {
		return nil, p.errorf("expected ( after in")
	}
	p.advance()
	var list []Expression
	if p.tok.kind == tokRParen {
		p.advance()
		return list, p.err
	}
	for {
		item, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
		if p.tok.kind == tokComma {
			p.advance()
			continue
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected , or )")
		}
		p.advance()
		return list, p.err
	}
}

var functionNames = map[string]Operator{
	"contains":   OpContains,
	"startswith": OpStartsWith,
	"endswith":   OpEndsWith,
}

func (p *parser) parsePrimary() (Expression, error) {
	if p.err != nil {
		return nil, p.err
	}
	tok := p.tok
	switch tok.kind {
	case tokLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected )")
		}
		p.advance()
		return expr, p.err
	case tokString:
		p.advance()
		return Value(tok.text), p.err
	case tokNumber:
		p.advance()
		value, err := parseNumber(tok.text)
		if err != nil {
			return nil, syntaxError(err.Error())
		}
		return Value(value), p.err
	case tokIdent:
		p.advance()
		switch tok.text {
		case "true":
			return Value(true), p.err
		case "false":
			return Value(false), p.err
		case "null":
			return Value(nil), p.err
		}
		if p.tok.kind == tokLParen {
			return p.parseCall(tok)
		}
		return Path(tok.text), p.err
	}
	return nil, p.errorf("unexpected %q", tok.text)
}

func (p *parser) parseCall(name token) (Expression, error) {
	op, ok := functionNames[strings.ToLower(name.text)]
	if !ok {
		return nil, odataerr.UnsupportedFilter(odataerr.KeyUnsupportedFilterExpression, http.StatusNotImplemented, name.text)
	}
	args, err := p.parseList()
	if err != nil {
		return nil, err
	}
	return Call(op, args...), nil
}

// parseNumber keeps integers as int64 and decimals as float64.
func parseNumber(text string) (any, error) {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", text)
	}
	return f, nil
}

func syntaxError(msg string) error {
	return odataerr.UnsupportedFilter(odataerr.KeyInvalidFilterSyntax, http.StatusBadRequest, msg)
}
