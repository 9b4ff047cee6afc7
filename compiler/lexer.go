package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/falcon/pkg/diag"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Falcon source
// ---------------------------------------------------------------------------

// cursor is the complete scanning state. Copying it is a checkpoint.
type cursor struct {
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character, 0 at EOF
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)
}

// Lexer tokenizes Falcon source code.
type Lexer struct {
	input string
	cursor
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.line = 1
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}

	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the character after ch without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) position() diag.Pos {
	return diag.Pos{Line: l.line, Column: l.col}
}

// NextToken returns the next token. After EOF it keeps returning EOF.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	single := func(t TokenType) Token {
		lit := string(l.ch)
		l.readChar()
		return Token{Type: t, Literal: lit, Pos: pos}
	}
	// withEqual returns a if the next character is '=', otherwise b.
	withEqual := func(a, b TokenType) Token {
		first := l.ch
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Type: a, Literal: string(first) + "=", Pos: pos}
		}
		return Token{Type: b, Literal: string(first), Pos: pos}
	}

	switch ch := l.ch; {
	case ch == '(':
		return single(TokenLParen)
	case ch == ')':
		return single(TokenRParen)
	case ch == '{':
		return single(TokenLBrace)
	case ch == '}':
		return single(TokenRBrace)
	case ch == '[':
		return single(TokenLBracket)
	case ch == ']':
		return single(TokenRBracket)
	case ch == ',':
		return single(TokenComma)
	case ch == ':':
		return single(TokenColon)
	case ch == ';':
		return single(TokenSemicolon)
	case ch == '+':
		return single(TokenPlus)
	case ch == '-':
		return single(TokenMinus)
	case ch == '*':
		return single(TokenStar)
	case ch == '/':
		return single(TokenSlash)
	case ch == '=':
		return withEqual(TokenEqualEqual, TokenAssign)
	case ch == '!':
		return withEqual(TokenNotEqual, TokenBang)
	case ch == '>':
		return withEqual(TokenGreaterEqual, TokenGreater)
	case ch == '<':
		return withEqual(TokenLessEqual, TokenLess)
	case ch == '"':
		return l.readString(pos)
	case isDigit(ch):
		return l.readNumber(pos)
	case isIdentStart(ch):
		return l.readIdentifierOrKeyword(pos)
	default:
		l.readChar()
		return Token{Type: TokenError, Literal: fmt.Sprintf("unexpected character %q", ch), Pos: pos}
	}
}

// skipWhitespaceAndComments skips whitespace and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch {
		case isSpace(l.ch):
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

// readString reads a double-quoted string. Literal holds the decoded text.
// Errors are reported at the opening quote.
func (l *Lexer) readString(pos diag.Pos) Token {
	l.readChar() // opening quote

	var sb strings.Builder
	for {
		if l.atEOF() {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		}
		switch l.ch {
		case '"':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		case '\\':
			l.readChar()
			if l.atEOF() {
				return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
			}
			esc := l.ch
			l.readChar()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				return Token{Type: TokenError, Literal: fmt.Sprintf("unknown escape sequence \\%c in string", esc), Pos: pos}
			}
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
}

// readNumber reads an integer or float literal. A float has exactly one
// decimal point followed by at least one digit.
func (l *Lexer) readNumber(pos diag.Pos) Token {
	start := l.pos
	l.readDigits()

	isFloat := false
	if l.ch == '.' {
		if !isDigit(l.peekChar()) {
			l.readChar()
			return Token{Type: TokenError, Literal: fmt.Sprintf("malformed number %q: expected digit after decimal point", l.input[start:l.pos]), Pos: pos}
		}
		isFloat = true
		l.readChar()
		l.readDigits()

		if l.ch == '.' {
			for l.ch == '.' || isDigit(l.ch) {
				l.readChar()
			}
			return Token{Type: TokenError, Literal: fmt.Sprintf("malformed number %q: multiple decimal points", l.input[start:l.pos]), Pos: pos}
		}
	}

	lit := l.input[start:l.pos]
	if isFloat {
		if _, err := strconv.ParseFloat(lit, 64); err != nil {
			return Token{Type: TokenError, Literal: fmt.Sprintf("float literal %s out of range", lit), Pos: pos}
		}
		return Token{Type: TokenFloat, Literal: lit, Pos: pos}
	}
	if _, err := strconv.ParseInt(lit, 10, 64); err != nil {
		return Token{Type: TokenError, Literal: fmt.Sprintf("integer literal %s out of range", lit), Pos: pos}
	}
	return Token{Type: TokenInteger, Literal: lit, Pos: pos}
}

func (l *Lexer) readDigits() {
	for isDigit(l.ch) {
		l.readChar()
	}
}

// readIdentifierOrKeyword reads an identifier, a reserved word or a
// compound keyword such as "secure let" or "network.scan".
func (l *Lexer) readIdentifierOrKeyword(pos diag.Pos) Token {
	start := l.pos
	for isIdentChar(l.ch) {
		l.readChar()
	}
	word := l.input[start:l.pos]

	for _, c := range compoundKeywords[word] {
		saved := l.cursor
		if l.matchContinuation(c) {
			return Token{Type: c.typ, Literal: c.typ.String(), Pos: pos}
		}
		l.cursor = saved
	}

	if tokType, ok := reservedWords[word]; ok {
		return Token{Type: tokType, Literal: word, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: word, Pos: pos}
}

// matchContinuation consumes the rest of a compound keyword. On false the
// caller restores the cursor.
func (l *Lexer) matchContinuation(c compoundKeyword) bool {
	if c.sep == ' ' {
		if !isSpace(l.ch) {
			return false
		}
		for isSpace(l.ch) {
			l.readChar()
		}
	} else {
		if l.ch != c.sep {
			return false
		}
		l.readChar()
	}

	for _, r := range c.word {
		if l.ch != r {
			return false
		}
		l.readChar()
	}
	return !isIdentChar(l.ch)
}

// Helper functions

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentChar(r rune) bool {
	return isIdentStart(r) || isDigit(r)
}

// Tokenize returns all tokens from the input up to and including EOF.
// It stops at the first lexical error.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenError {
			return tokens, diag.Errorf(diag.KindLexical, tok.Pos, "%s", tok.Literal)
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}
