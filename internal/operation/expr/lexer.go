package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType identifies a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal

	TokenIdent  // Price, `Unit Price`
	TokenNumber // 21, 3.5, 1e3
	TokenString // 'abc', "abc"
	TokenTrue
	TokenFalse

	TokenAnd // and, &&, &
	TokenOr  // or, ||, |
	TokenNot // not, !, ~

	TokenEq // ==
	TokenNe // !=
	TokenLt // <
	TokenLe // <=
	TokenGt // >
	TokenGe // >=

	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent

	TokenLParen
	TokenRParen
	TokenAssign // := or =
)

var tokenNames = [...]string{
	TokenEOF:     "end of expression",
	TokenIllegal: "illegal token",
	TokenIdent:   "column name",
	TokenNumber:  "number",
	TokenString:  "string",
	TokenTrue:    "true",
	TokenFalse:   "false",
	TokenAnd:     "and",
	TokenOr:      "or",
	TokenNot:     "not",
	TokenEq:      "==",
	TokenNe:      "!=",
	TokenLt:      "<",
	TokenLe:      "<=",
	TokenGt:      ">",
	TokenGe:      ">=",
	TokenPlus:    "+",
	TokenMinus:   "-",
	TokenStar:    "*",
	TokenSlash:   "/",
	TokenPercent: "%",
	TokenLParen:  "(",
	TokenRParen:  ")",
	TokenAssign:  ":=",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token. Value holds the decoded text for identifiers,
// strings and numbers.
type Token struct {
	Type  TokenType
	Value string
	Pos   int // byte offset in the source
}

var keywords = map[string]TokenType{
	"and":   TokenAnd,
	"or":    TokenOr,
	"not":   TokenNot,
	"true":  TokenTrue,
	"false": TokenFalse,
}

type lexer struct {
	src string
	pos int
}

// tokenize splits src into tokens, ending with TokenEOF.
func tokenize(src string) ([]Token, error) {
	l := &lexer{src: src}
	var out []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Type == TokenEOF {
			return out, nil
		}
	}
}

func (l *lexer) next() (Token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	ch := l.src[l.pos]

	switch {
	case ch == '`':
		return l.quotedIdent()
	case ch == '\'' || ch == '"':
		return l.stringLit(ch)
	case isDigit(ch) || (ch == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.number()
	}

	if r, _ := utf8.DecodeRuneInString(l.src[l.pos:]); isIdentStart(r) {
		return l.ident(), nil
	}

	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==":
		return l.emit(TokenEq, 2, start), nil
	case "!=":
		return l.emit(TokenNe, 2, start), nil
	case "<=":
		return l.emit(TokenLe, 2, start), nil
	case ">=":
		return l.emit(TokenGe, 2, start), nil
	case "&&":
		return l.emit(TokenAnd, 2, start), nil
	case "||":
		return l.emit(TokenOr, 2, start), nil
	case ":=":
		return l.emit(TokenAssign, 2, start), nil
	}

	switch ch {
	case '<':
		return l.emit(TokenLt, 1, start), nil
	case '>':
		return l.emit(TokenGt, 1, start), nil
	case '=':
		return l.emit(TokenAssign, 1, start), nil
	case '!', '~':
		return l.emit(TokenNot, 1, start), nil
	case '&':
		return l.emit(TokenAnd, 1, start), nil
	case '|':
		return l.emit(TokenOr, 1, start), nil
	case '+':
		return l.emit(TokenPlus, 1, start), nil
	case '-':
		return l.emit(TokenMinus, 1, start), nil
	case '*':
		return l.emit(TokenStar, 1, start), nil
	case '/':
		return l.emit(TokenSlash, 1, start), nil
	case '%':
		return l.emit(TokenPercent, 1, start), nil
	case '(':
		return l.emit(TokenLParen, 1, start), nil
	case ')':
		return l.emit(TokenRParen, 1, start), nil
	}

	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return Token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", r)}
}

func (l *lexer) emit(t TokenType, width, start int) Token {
	l.pos += width
	return Token{Type: t, Value: l.src[start:l.pos], Pos: start}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *lexer) ident() Token {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentPart(r) {
			break
		}
		l.pos += size
	}
	word := l.src[start:l.pos]
	if t, ok := keywords[strings.ToLower(word)]; ok {
		return Token{Type: t, Value: word, Pos: start}
	}
	return Token{Type: TokenIdent, Value: word, Pos: start}
}

// quotedIdent reads a backtick-delimited name. A doubled backtick inside the
// name stands for one literal backtick.
func (l *lexer) quotedIdent() (Token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == '`' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '`' {
				b.WriteByte('`')
				l.pos += 2
				continue
			}
			l.pos++
			if b.Len() == 0 {
				return Token{}, &SyntaxError{Pos: start, Msg: "empty column name"}
			}
			return Token{Type: TokenIdent, Value: b.String(), Pos: start}, nil
		}
		b.WriteByte(ch)
		l.pos++
	}
	return Token{}, &SyntaxError{Pos: start, Msg: "unterminated column name"}
}

func (l *lexer) stringLit(quote byte) (Token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch ch {
		case quote:
			l.pos++
			return Token{Type: TokenString, Value: b.String(), Pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return Token{}, &SyntaxError{Pos: l.pos, Msg: "unterminated string"}
			}
			esc := l.src[l.pos+1]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
			l.pos += 2
		default:
			b.WriteByte(ch)
			l.pos++
		}
	}
	return Token{}, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func (l *lexer) number() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		mark := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			// Not an exponent after all, e.g. "2e" followed by a name.
			l.pos = mark
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) {
		if r, _ := utf8.DecodeRuneInString(l.src[l.pos:]); isIdentStart(r) {
			return Token{}, &SyntaxError{Pos: start, Msg: fmt.Sprintf("malformed number %q", l.src[start:l.pos+1])}
		}
	}
	return Token{Type: TokenNumber, Value: l.src[start:l.pos], Pos: start}, nil
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }
