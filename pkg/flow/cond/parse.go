package cond

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokBool
	tokOp     // == != < <= > >= && ||
	tokBang   // !
	tokLParen // (
	tokRParen // )
)

type token struct {
	kind tokKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

// Checked longest-first so "<=" wins over "<".
var operators = []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">"}

func (l *lexer) lex() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch c {
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '\'', '"':
		return l.lexString(c)
	}

	for _, op := range operators {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}

	// Bang after the two-char operators so "!=" is not split.
	if c == '!' {
		l.pos++
		return token{kind: tokBang, text: "!", pos: start}, nil
	}

	if isDigit(c) || (c == '-' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])) {
		return l.lexNumber()
	}

	if isIdentStart(c) {
		return l.lexIdent()
	}

	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("unterminated string starting at offset %d", start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	seenDot := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		if !isDigit(c) {
			break
		}
		l.pos++
	}
	return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	text := l.src[start:l.pos]
	if text == "true" || text == "false" {
		return token{kind: tokBool, text: text, pos: start}, nil
	}
	return token{kind: tokIdent, text: text, pos: start}, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isIdentPart accepts '.' so step-qualified identifiers like
// "critical_evaluation.quality_score" lex as a single token.
func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}

// parser is a recursive-descent parser over the lexer's token stream.
// Precedence, loosest first: || then && then ! then comparison.
type parser struct {
	lex *lexer
	tok token
}

func (p *parser) next() error {
	tok, err := p.lex.lex()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "||" {
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && p.tok.text == "&&" {
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == tokBang {
		if err := p.next(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp && p.tok.text != "&&" && p.tok.text != "||" {
		op := p.tok.text
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &cmpNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.tok
	switch tok.kind {
	case tokLParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis at offset %d", p.tok.pos)
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokString:
		if err := p.next(); err != nil {
			return nil, err
		}
		return &litNode{val: tok.text}, nil

	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", tok.text, tok.pos)
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return &litNode{val: f}, nil

	case tokBool:
		if err := p.next(); err != nil {
			return nil, err
		}
		return &litNode{val: tok.text == "true"}, nil

	case tokIdent:
		if err := validateIdent(tok.text); err != nil {
			return nil, fmt.Errorf("%v at offset %d", err, tok.pos)
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return &identNode{name: tok.text}, nil

	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")

	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", tok.text, tok.pos)
	}
}

// validateIdent enforces the identifier whitelist: the three bare names,
// or exactly one step qualification with property quality_score or status.
func validateIdent(name string) error {
	switch name {
	case "complexity", "quality_score", "step_count":
		return nil
	}
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return fmt.Errorf("identifier %q not in whitelist", name)
	}
	if parts[0] == "" {
		return fmt.Errorf("identifier %q has empty step name", name)
	}
	switch parts[1] {
	case "quality_score", "status":
		return nil
	}
	return fmt.Errorf("identifier %q: only .quality_score and .status step properties are allowed", name)
}

// StepRefs returns the step names referenced through qualified identifiers.
func (e *Expr) StepRefs() []string {
	var steps []string
	for _, id := range e.Identifiers() {
		if i := strings.IndexByte(id, '.'); i > 0 {
			steps = append(steps, id[:i])
		}
	}
	return steps
}
