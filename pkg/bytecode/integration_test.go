// Package bytecode integration tests
//
// These tests drive the full pipeline from source text through the lexer,
// parser and compiler to VM execution, combining several language features
// per program.
package bytecode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/falcon/pkg/diag"
)

func TestIntegrationPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "recursive fibonacci",
			src: `fn fib(n) {
    if n < 2 { return n }
    return fib(n - 1) + fib(n - 2)
}
print fib(10)`,
			want: "55\n",
		},
		{
			name: "factorial with repeat",
			src: `let acc = 1
let i = 0
repeat 5 {
    i = i + 1
    acc = acc * i
}
print acc`,
			want: "120\n",
		},
		{
			name: "early exit",
			src: `let n = 0
repeat 100 {
    n = n + 1
    if n == 4 { break }
}
print n`,
			want: "4\n",
		},
		{
			name: "skip odd",
			src: `let i = 0
repeat 6 {
    i = i + 1
    if i - (i / 2) * 2 == 1 { continue }
    print i
}`,
			want: "2\n4\n6\n",
		},
		{
			name: "function locals do not leak",
			src: `let x = "outer"
fn shadow() {
    let x = "inner"
    return x
}
print shadow()
print x`,
			want: "inner\nouter\n",
		},
		{
			name: "loop inside function",
			src: `fn sum(n) {
    let total = 0
    let k = 0
    repeat n {
        k = k + 1
        total = total + k
    }
    return total
}
print sum(4)
print sum(0)`,
			want: "10\n0\n",
		},
		{
			name: "classifier",
			src: `fn grade(score) {
    if score >= 90 { return "A" } elseif score >= 80 { return "B" } else { return "C" }
}
print grade(95)
print grade(85)
print grade(10)`,
			want: "A\nB\nC\n",
		},
		{
			name: "mixed numerics",
			src:  "secure const rate = 1.5\nlet qty = 4\nprint rate * qty\nprint qty / 3",
			want: "6.0\n1\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustRun(t, tc.src); got != tc.want {
				t.Errorf("output = %q, want %q", got, tc.want)
			}
		})
	}
}

// Every failure is reported as a structured error of the stage that
// caught it.
func TestIntegrationErrorStages(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind diag.Kind
	}{
		{"unterminated string", `print "abc`, diag.KindLexical},
		{"bad character", "let x = 1 @ 2", diag.KindLexical},
		{"unclosed block", "if 1 { print 1", diag.KindSyntax},
		{"unclosed repeat", "repeat 2 {\nprint 1\n", diag.KindSyntax},
		{"unclosed function", "fn f(a, ", diag.KindSyntax},
		{"nested function", "if 1 { fn g() { } }", diag.KindSyntax},
		{"unknown function", "print nope()", diag.KindCompile},
		{"stray break", "break", diag.KindCompile},
		{"division by zero", "print 1 / 0", diag.KindRuntime},
		{"undefined variable", "print ghost", diag.KindRuntime},
		{"string arithmetic", `print "a" - 1`, diag.KindRuntime},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.src)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := diag.KindOf(err); got != tc.kind {
				t.Errorf("kind = %v, want %v (err: %v)", got, tc.kind, err)
			}
		})
	}
}

func TestIntegrationOutputBeforeError(t *testing.T) {
	out, err := run(t, "print 1\nprint 2\nprint 1 / 0\nprint 3")
	if err == nil {
		t.Fatal("expected runtime error")
	}
	if out != "1\n2\n" {
		t.Errorf("output = %q, want the prints before the failure", out)
	}
	if !strings.Contains(err.Error(), "at 3:") {
		t.Errorf("error %q does not name line 3", err.Error())
	}
}

func TestIntegrationSerializeDeserialize(t *testing.T) {
	src := `fn twice(n) { return n + n }
repeat 2 { print twice(21) }`

	data, err := MarshalImage(mustCompile(t, src))
	if err != nil {
		t.Fatal(err)
	}
	prog, err := UnmarshalImage(data)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := NewVM(prog, WithOutput(&out)).Run(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n42\n" {
		t.Errorf("output = %q", out.String())
	}
}
