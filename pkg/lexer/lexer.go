package lexer

import (
	"unicode"

	"github.com/xplshn/tyro/pkg/config"
	"github.com/xplshn/tyro/pkg/token"
	"github.com/xplshn/tyro/pkg/util"
)

type Lexer struct {
	source    []rune
	fileIndex int
	pos       int
	line      int
	column    int
	cfg       *config.Config
	diag      *util.Diagnostics
}

func NewLexer(source []rune, fileIndex int, cfg *config.Config, diag *util.Diagnostics) *Lexer {
	return &Lexer{
		source: source, fileIndex: fileIndex, line: 1, column: 1, cfg: cfg, diag: diag,
	}
}

// Next returns the next token. Lexical errors are reported to the
// diagnostics sink and end the stream with EOF.
func (l *Lexer) Next() token.Token {
	if !l.skipWhitespaceAndComments() {
		return l.makeToken(token.EOF, "", l.pos, l.column, l.line)
	}
	startPos, startCol, startLine := l.pos, l.column, l.line

	if l.isAtEnd() {
		return l.makeToken(token.EOF, "", startPos, startCol, startLine)
	}

	ch := l.peek()
	if unicode.IsLetter(ch) || ch == '_' {
		l.advance()
		return l.identifierOrKeyword(startPos, startCol, startLine)
	}
	if unicode.IsDigit(ch) {
		return l.numberLiteral(startPos, startCol, startLine)
	}

	l.advance()
	switch ch {
	case '(': return l.makeToken(token.LParen, "", startPos, startCol, startLine)
	case ')': return l.makeToken(token.RParen, "", startPos, startCol, startLine)
	case '{': return l.makeToken(token.LBrace, "", startPos, startCol, startLine)
	case '}': return l.makeToken(token.RBrace, "", startPos, startCol, startLine)
	case ';': return l.makeToken(token.Semi, "", startPos, startCol, startLine)
	case ',': return l.makeToken(token.Comma, "", startPos, startCol, startLine)
	case '+': return l.makeToken(token.Plus, "", startPos, startCol, startLine)
	case '-': return l.makeToken(token.Minus, "", startPos, startCol, startLine)
	case '*': return l.makeToken(token.Star, "", startPos, startCol, startLine)
	case '/': return l.makeToken(token.Slash, "", startPos, startCol, startLine)
	case '%': return l.makeToken(token.Rem, "", startPos, startCol, startLine)
	case '=': return l.matchThen('=', token.EqEq, token.Eq, startPos, startCol, startLine)
	case '!': return l.matchThen('=', token.Neq, token.Not, startPos, startCol, startLine)
	case '<': return l.matchThen('=', token.Lte, token.Lt, startPos, startCol, startLine)
	case '>': return l.matchThen('=', token.Gte, token.Gt, startPos, startCol, startLine)
	case '&':
		if l.match('&') {
			return l.makeToken(token.AndAnd, "", startPos, startCol, startLine)
		}
	case '|':
		if l.match('|') {
			return l.makeToken(token.OrOr, "", startPos, startCol, startLine)
		}
	}

	tok := l.makeToken(token.EOF, "", startPos, startCol, startLine)
	l.diag.Error(tok, "unexpected character: '%c'", ch)
	return tok
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() rune {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Value: value, FileIndex: l.fileIndex,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

func (l *Lexer) matchThen(expected rune, then, otherwise token.Type, startPos, startCol, startLine int) token.Token {
	if l.match(expected) {
		return l.makeToken(then, "", startPos, startCol, startLine)
	}
	return l.makeToken(otherwise, "", startPos, startCol, startLine)
}

// skipWhitespaceAndComments returns false if an unterminated block comment
// swallowed the rest of the input.
func (l *Lexer) skipWhitespaceAndComments() bool {
	for {
		switch l.peek() {
		case ' ', '\t', '\n', '\r':
			l.advance()
		case '/':
			switch {
			case l.peekNext() == '/' && l.cfg.IsFeatureEnabled(config.FeatCComments):
				l.lineComment()
			case l.peekNext() == '*' && l.cfg.IsFeatureEnabled(config.FeatBlockComments):
				if !l.blockComment() {
					return false
				}
			default:
				return true
			}
		default:
			return true
		}
	}
}

func (l *Lexer) blockComment() bool {
	startTok := l.makeToken(token.Comment, "", l.pos, l.column, l.line)
	startTok.Len = 2
	l.advance()
	l.advance()
	for !l.isAtEnd() {
		if l.peek() == '*' && l.peekNext() == '/' {
			l.advance()
			l.advance()
			return true
		}
		l.advance()
	}
	l.diag.Error(startTok, "unterminated block comment")
	return false
}

func (l *Lexer) lineComment() {
	for !l.isAtEnd() && l.peek() != '\n' {
		l.advance()
	}
}

func (l *Lexer) identifierOrKeyword(startPos, startCol, startLine int) token.Token {
	for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
		l.advance()
	}
	value := string(l.source[startPos:l.pos])
	if tokType, isKeyword := token.KeywordMap[value]; isKeyword {
		switch {
		case tokType == token.Do && !l.cfg.IsFeatureEnabled(config.FeatDoWhile),
			(tokType == token.True || tokType == token.False) && !l.cfg.IsFeatureEnabled(config.FeatBoolLiterals):
			return l.makeToken(token.Ident, value, startPos, startCol, startLine)
		}
		return l.makeToken(tokType, "", startPos, startCol, startLine)
	}
	return l.makeToken(token.Ident, value, startPos, startCol, startLine)
}

// numberLiteral scans a decimal or 0x-prefixed hexadecimal integer. The value
// keeps its source spelling; the constant table converts it to a word.
func (l *Lexer) numberLiteral(startPos, startCol, startLine int) token.Token {
	if l.peek() == '0' && (l.peekNext() == 'x' || l.peekNext() == 'X') {
		l.advance()
		l.advance()
		digits := 0
		for isHexDigit(l.peek()) {
			l.advance()
			digits++
		}
		if digits == 0 {
			tok := l.makeToken(token.Number, string(l.source[startPos:l.pos]), startPos, startCol, startLine)
			l.diag.Error(tok, "hexadecimal literal has no digits")
			return tok
		}
	} else {
		for unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if unicode.IsLetter(l.peek()) || l.peek() == '_' {
		for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
			l.advance()
		}
		tok := l.makeToken(token.Number, string(l.source[startPos:l.pos]), startPos, startCol, startLine)
		l.diag.Error(tok, "invalid numeric literal '%s'", tok.Value)
		return tok
	}
	return l.makeToken(token.Number, string(l.source[startPos:l.pos]), startPos, startCol, startLine)
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// Tokenize lexes the whole source. The result always ends with an EOF token.
func (l *Lexer) Tokenize() []token.Token {
	var tokens []token.Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens
		}
	}
}
