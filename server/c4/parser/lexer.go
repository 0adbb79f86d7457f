// Package parser is the hand-written recursive-descent front end that
// turns c4 program source into an ast.Program. Only the resulting AST
// shapes are load-bearing for the rest of the pipeline; this lexer/parser
// pair exists so the pipeline has real source text to install end to end.
package parser

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tIdent
	tInt
	tFloat
	tString
	tChar
	tLParen
	tRParen
	tComma
	tSemi
	tColon
	tAt
	tPlus
	tMinus
	tStar
	tSlash
	tPercent
	tLt
	tLe
	tGt
	tGe
	tEq
	tNe
	tKwDefine
	tKwKeys
	tKwTimer
	tKwNotin
	tKwTrue
	tKwFalse
	tArrow // :-
)

type token struct {
	kind tokenKind
	text string
	i    int64
	f    float64
	line int
}

var keywords = map[string]tokenKind{
	"define": tKwDefine,
	"keys":   tKwKeys,
	"timer":  tKwTimer,
	"notin":  tKwNotin,
	"true":   tKwTrue,
	"false":  tKwFalse,
}

type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func (l *lexer) peekByte() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) at(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '-' && l.at(1) == '-':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.at(1) == '/':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentCont(c byte) bool { return isIdentStart(c) || isDigit(c) }

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	line := l.line
	if l.pos >= len(l.src) {
		return token{kind: tEOF, line: line}, nil
	}

	c := l.src[l.pos]

	switch {
	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		if kw, ok := keywords[strings.ToLower(text)]; ok {
			return token{kind: kw, text: text, line: line}, nil
		}
		return token{kind: tIdent, text: text, line: line}, nil

	case isDigit(c):
		start := l.pos
		isFloat := false
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		if l.peekByte() == '.' && isDigit(l.at(1)) {
			isFloat = true
			l.pos++
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
		text := l.src[start:l.pos]
		if isFloat {
			var f float64
			fmt.Sscanf(text, "%g", &f)
			return token{kind: tFloat, text: text, f: f, line: line}, nil
		}
		var i int64
		fmt.Sscanf(text, "%d", &i)
		return token{kind: tInt, text: text, i: i, line: line}, nil

	case c == '"':
		l.pos++
		start := l.pos
		var b strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
				l.pos++
			}
			b.WriteByte(l.src[l.pos])
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("parser: unterminated string literal starting at line %d", line)
		}
		_ = start
		l.pos++ // closing quote
		return token{kind: tString, text: b.String(), line: line}, nil

	case c == '\'':
		l.pos++
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("parser: unterminated char literal at line %d", line)
		}
		ch := l.src[l.pos]
		l.pos++
		if l.peekByte() != '\'' {
			return token{}, fmt.Errorf("parser: char literal must be exactly one byte, line %d", line)
		}
		l.pos++
		return token{kind: tChar, i: int64(ch), line: line}, nil

	case c == '(':
		l.pos++
		return token{kind: tLParen, line: line}, nil
	case c == ')':
		l.pos++
		return token{kind: tRParen, line: line}, nil
	case c == ',':
		l.pos++
		return token{kind: tComma, line: line}, nil
	case c == ';':
		l.pos++
		return token{kind: tSemi, line: line}, nil
	case c == '@':
		l.pos++
		return token{kind: tAt, line: line}, nil
	case c == '+':
		l.pos++
		return token{kind: tPlus, line: line}, nil
	case c == '-':
		l.pos++
		return token{kind: tMinus, line: line}, nil
	case c == '*':
		l.pos++
		return token{kind: tStar, line: line}, nil
	case c == '/':
		l.pos++
		return token{kind: tSlash, line: line}, nil
	case c == '%':
		l.pos++
		return token{kind: tPercent, line: line}, nil
	case c == ':':
		l.pos++
		if l.peekByte() == '-' {
			l.pos++
			return token{kind: tArrow, line: line}, nil
		}
		return token{kind: tColon, line: line}, nil
	case c == '<':
		l.pos++
		if l.peekByte() == '=' {
			l.pos++
			return token{kind: tLe, line: line}, nil
		}
		return token{kind: tLt, line: line}, nil
	case c == '>':
		l.pos++
		if l.peekByte() == '=' {
			l.pos++
			return token{kind: tGe, line: line}, nil
		}
		return token{kind: tGt, line: line}, nil
	case c == '=':
		l.pos++
		return token{kind: tEq, line: line}, nil
	case c == '!':
		l.pos++
		if l.peekByte() == '=' {
			l.pos++
			return token{kind: tNe, line: line}, nil
		}
		return token{}, fmt.Errorf("parser: unexpected '!' at line %d", line)
	default:
		return token{}, fmt.Errorf("parser: unexpected character %q at line %d", c, line)
	}
}
