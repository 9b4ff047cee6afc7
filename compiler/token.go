package compiler

import (
	"fmt"

	"github.com/chazu/falcon/pkg/diag"
)

// ---------------------------------------------------------------------------
// Token types for the Falcon lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42
	TokenFloat      // 3.14
	TokenString     // "hello"
	TokenIdentifier // foo, _bar

	// Declarations
	TokenSecureLet   // secure let
	TokenSecureConst // secure const
	TokenLet         // let
	TokenConst       // const

	// Keywords
	TokenFn
	TokenReturn
	TokenIf
	TokenElseIf
	TokenElse
	TokenEndIf
	TokenRepeat
	TokenEndRepeat
	TokenBreak
	TokenContinue
	TokenPrint
	TokenAnd
	TokenOr
	TokenNot

	// Built-in call markers
	TokenNetworkScan  // network.scan
	TokenCryptoRandom // crypto.random
	TokenTimeNow      // time.now
	TokenWait         // wait

	// Operators
	TokenPlus         // +
	TokenMinus        // -
	TokenStar         // *
	TokenSlash        // /
	TokenEqualEqual   // ==
	TokenNotEqual     // !=
	TokenGreater      // >
	TokenLess         // <
	TokenGreaterEqual // >=
	TokenLessEqual    // <=
	TokenAssign       // =
	TokenBang         // !

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenComma     // ,
	TokenColon     // :
	TokenSemicolon // ;
)

var tokenNames = map[TokenType]string{
	TokenEOF:          "EOF",
	TokenError:        "ERROR",
	TokenInteger:      "INTEGER",
	TokenFloat:        "FLOAT",
	TokenString:       "STRING",
	TokenIdentifier:   "IDENTIFIER",
	TokenSecureLet:    "secure let",
	TokenSecureConst:  "secure const",
	TokenLet:          "let",
	TokenConst:        "const",
	TokenFn:           "fn",
	TokenReturn:       "return",
	TokenIf:           "if",
	TokenElseIf:       "elseif",
	TokenElse:         "else",
	TokenEndIf:        "endif",
	TokenRepeat:       "repeat",
	TokenEndRepeat:    "endrepeat",
	TokenBreak:        "break",
	TokenContinue:     "continue",
	TokenPrint:        "print",
	TokenAnd:          "and",
	TokenOr:           "or",
	TokenNot:          "not",
	TokenNetworkScan:  "network.scan",
	TokenCryptoRandom: "crypto.random",
	TokenTimeNow:      "time.now",
	TokenWait:         "wait",
	TokenPlus:         "+",
	TokenMinus:        "-",
	TokenStar:         "*",
	TokenSlash:        "/",
	TokenEqualEqual:   "==",
	TokenNotEqual:     "!=",
	TokenGreater:      ">",
	TokenLess:         "<",
	TokenGreaterEqual: ">=",
	TokenLessEqual:    "<=",
	TokenAssign:       "=",
	TokenBang:         "!",
	TokenLParen:       "(",
	TokenRParen:       ")",
	TokenLBrace:       "{",
	TokenRBrace:       "}",
	TokenLBracket:     "[",
	TokenRBracket:     "]",
	TokenComma:        ",",
	TokenColon:        ":",
	TokenSemicolon:    ";",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // raw text; decoded contents for strings, message for errors
	Pos     diag.Pos // start position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// describe renders a token for "expected X, got Y" messages.
func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier:
		return fmt.Sprintf("identifier %q", t.Literal)
	case TokenInteger, TokenFloat:
		return fmt.Sprintf("number %s", t.Literal)
	case TokenString:
		return fmt.Sprintf("string %q", t.Literal)
	}
	return fmt.Sprintf("%q", t.Type.String())
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"let":       TokenLet,
	"const":     TokenConst,
	"fn":        TokenFn,
	"return":    TokenReturn,
	"if":        TokenIf,
	"elseif":    TokenElseIf,
	"else":      TokenElse,
	"endif":     TokenEndIf,
	"repeat":    TokenRepeat,
	"endrepeat": TokenEndRepeat,
	"break":     TokenBreak,
	"continue":  TokenContinue,
	"print":     TokenPrint,
	"and":       TokenAnd,
	"or":        TokenOr,
	"not":       TokenNot,
	"wait":      TokenWait,
}

// compoundKeyword is a keyword spelled as a leading word plus a continuation.
type compoundKeyword struct {
	sep  rune // separator after the leading word: ' ' means any whitespace
	word string
	typ  TokenType
}

// compoundKeywords lists the continuations tried after each leading word.
var compoundKeywords = map[string][]compoundKeyword{
	"secure": {
		{sep: ' ', word: "let", typ: TokenSecureLet},
		{sep: ' ', word: "const", typ: TokenSecureConst},
	},
	"network": {{sep: '.', word: "scan", typ: TokenNetworkScan}},
	"crypto":  {{sep: '.', word: "random", typ: TokenCryptoRandom}},
	"time":    {{sep: '.', word: "now", typ: TokenTimeNow}},
}

// BuiltinNames maps built-in call tokens to the names the VM dispatches on.
var BuiltinNames = map[TokenType]string{
	TokenNetworkScan:  "network.scan",
	TokenCryptoRandom: "crypto.random",
	TokenTimeNow:      "time.now",
	TokenWait:         "wait",
}

// Keywords returns the plain and compound keyword spellings, for editor
// completion.
func Keywords() []string {
	words := make([]string, 0, len(reservedWords)+8)
	for w := range reservedWords {
		words = append(words, w)
	}
	for lead, conts := range compoundKeywords {
		for _, c := range conts {
			words = append(words, lead+string(c.sep)+c.word)
		}
	}
	return words
}
