package compiler

import (
	"testing"

	"github.com/chazu/falcon/pkg/diag"
)

// fuzzSeeds covers every token class and statement form.
var fuzzSeeds = []string{
	// Literals
	`42`, `0`, `3.14`, `"hello"`, `""`, `"tab\tquote\"nl\n"`,
	// Operators and punctuation
	`+ - * / == != > < >= <= = ! ( ) { } [ ] , : ;`,
	// Keywords
	`let const secure let secure const fn return if elseif else repeat break continue print and or not`,
	`endif endrepeat`,
	// Built-ins
	`network.scan("10.0.0")`, `crypto.random(6)`, `time.now()`, `wait(1)`,
	// Statements
	`let x = 1`,
	`secure const k = 2 + 3 * 4`,
	`x = x - 1`,
	`print (1 + 2) * 3`,
	"if x > 1 { print 1 } elseif x == 1 { print 2 } else { print 3 }",
	"repeat 3 { if 1 { break } continue }",
	"fn add(a, b) { return a + b }\nprint add(1, 2)",
	"fn f() { return }",
	`print not 1 and 0 or !0`,
	// Comments
	"// comment\nprint 1",
	// Edge cases
	``, `   `, "\t\n\r", `"unterminated`, `"\`, `1.`, `.5`, `secure`, `network.`, `crypto.random`,
	`{{{{`, `}}}}`, `((((1))))`, `fn`, `fn f(`, `if`, `repeat`,
	// Unicode
	`"こんにちは"`, `café`, `let naïve = 1`,
}

// ---------------------------------------------------------------------------
// FuzzLexer: the lexer never panics and always terminates.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		l := NewLexer(data)
		for i := 0; ; i++ {
			if i > len(data)+1 {
				t.Fatalf("lexer did not reach EOF on %q", data)
			}
			tok := l.NextToken()
			if tok.Type == TokenEOF || tok.Type == TokenError {
				break
			}
			if !tok.Pos.IsValid() {
				t.Fatalf("token %s has no position on %q", tok, data)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzParser: parse errors are acceptable, panics are not, and every
// error is a positioned lexical or syntax error.
// ---------------------------------------------------------------------------

func FuzzParser(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		stmts, err := Parse(data)
		if err == nil {
			for _, st := range stmts {
				if st == nil {
					t.Fatalf("nil statement from %q", data)
				}
			}
			return
		}
		kind := diag.KindOf(err)
		if kind != diag.KindLexical && kind != diag.KindSyntax {
			t.Fatalf("Parse(%q) returned %s error: %v", data, kind, err)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzSemantic: the analyzer never panics on anything the parser accepts.
// ---------------------------------------------------------------------------

func FuzzSemantic(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		stmts, err := Parse(data)
		if err != nil {
			return
		}
		for _, w := range Analyze(stmts) {
			if w.Msg == "" {
				t.Fatalf("empty warning on %q", data)
			}
		}
	})
}
