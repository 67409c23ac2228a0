// Package expr implements the small expression language used by filter and
// compute operations.
//
// Grammar, lowest precedence first:
//
//	or      = and { ("or" | "||" | "|") and }
//	and     = not { ("and" | "&&" | "&") not }
//	not     = ("not" | "!" | "~") not | compare
//	compare = sum [ ("==" | "!=" | "<" | "<=" | ">" | ">=") sum ]
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/" | "%") unary }
//	unary   = ("-" | "+") unary | primary
//	primary = number | string | "true" | "false" | name | "(" or ")"
//
// A name is a bare identifier or any text between backticks; names with
// spaces must use backticks. Keywords are case-insensitive. An assignment is
// `name := or`, with a single "=" accepted in place of ":=".
package expr

import (
	"fmt"
	"strconv"

	"github.com/JonMunkholm/tabula/internal/dataset"
)

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

// Expr is a parsed expression that has not yet been bound to a dataset.
type Expr struct {
	src  string
	root node
	refs []string
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Columns returns the names the expression references, in order of first
// appearance.
func (e *Expr) Columns() []string {
	out := make([]string, len(e.refs))
	copy(out, e.refs)
	return out
}

// Assignment is a parsed "target := expression".
type Assignment struct {
	Target string
	Value  *Expr
}

// ParsePredicate parses a boolean row predicate.
func ParsePredicate(src string) (*Expr, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenEOF); err != nil {
		return nil, err
	}
	return &Expr{src: src, root: root, refs: p.refs}, nil
}

// ParseAssignment parses "target := expression".
func ParseAssignment(src string) (*Assignment, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	target := p.peek()
	if target.Type != TokenIdent {
		return nil, &SyntaxError{Pos: target.Pos, Msg: fmt.Sprintf("expected target column, found %s", describe(target))}
	}
	p.advance()
	if err := p.expect(TokenAssign); err != nil {
		return nil, err
	}
	start := p.peek().Pos
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenEOF); err != nil {
		return nil, err
	}
	return &Assignment{
		Target: target.Value,
		Value:  &Expr{src: src[start:], root: root, refs: p.refs},
	}, nil
}

type parser struct {
	toks []Token
	pos  int
	refs []string
	seen map[string]bool
}

func newParser(src string) (*parser, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if toks[0].Type == TokenEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	return &parser{toks: toks, seen: make(map[string]bool)}, nil
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) advance() Token {
	t := p.toks[p.pos]
	if t.Type != TokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(tt TokenType) error {
	t := p.peek()
	if t.Type != tt {
		return &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("expected %s, found %s", tt, describe(t))}
	}
	p.advance()
	return nil
}

func describe(t Token) string {
	switch t.Type {
	case TokenEOF:
		return t.Type.String()
	case TokenAssign:
		return fmt.Sprintf("%q (use == to compare)", t.Value)
	default:
		return fmt.Sprintf("%q", t.Value)
	}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logical{op: TokenOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logical{op: TokenAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().Type == TokenNot {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &negation{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().Type; op {
	case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
		p.advance()
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &comparison{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().Type
		if op != TokenPlus && op != TokenMinus {
			return left, nil
		}
		p.advance()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &arithmetic{op: op, left: left, right: right}
	}
}

func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().Type
		if op != TokenStar && op != TokenSlash && op != TokenPercent {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithmetic{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	switch p.peek().Type {
	case TokenMinus:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &minus{x: x}, nil
	case TokenPlus:
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &arithmetic{op: TokenPlus, left: &literal{v: dataset.Num(0)}, right: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.advance()
	switch t.Type {
	case TokenNumber:
		f, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("malformed number %q", t.Value)}
		}
		return &literal{v: dataset.Num(f)}, nil
	case TokenString:
		return &literal{v: dataset.Text(t.Value)}, nil
	case TokenTrue:
		return &literal{v: dataset.Boolean(true)}, nil
	case TokenFalse:
		return &literal{v: dataset.Boolean(false)}, nil
	case TokenIdent:
		if !p.seen[t.Value] {
			p.seen[t.Value] = true
			p.refs = append(p.refs, t.Value)
		}
		return &column{name: t.Value}, nil
	case TokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf("unexpected %s", describe(t))}
	}
}
