package falcon

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/falcon/pkg/diag"
)

func TestSessionKeepsState(t *testing.T) {
	s := NewSession(Options{})

	steps := []struct {
		src  string
		want string
	}{
		{"let total = 10", ""},
		{"fn bump(n) { return n + 1 }", ""},
		{"total = bump(total)", ""},
		{"print total", "11\n"},
		{"fn bump(n) { return n + 100 }\nprint bump(total)", "111\n"},
	}
	for _, step := range steps {
		var out bytes.Buffer
		if err := s.Eval(step.src, &out); err != nil {
			t.Fatalf("Eval(%q): %v", step.src, err)
		}
		if out.String() != step.want {
			t.Errorf("Eval(%q) output = %q, want %q", step.src, out.String(), step.want)
		}
	}

	if got := s.Names(); !reflect.DeepEqual(got, []string{"bump", "total"}) {
		t.Errorf("Names() = %v", got)
	}
	if got := s.Functions(); !reflect.DeepEqual(got, []string{"bump(n)"}) {
		t.Errorf("Functions() = %v", got)
	}
}

func TestSessionErrors(t *testing.T) {
	s := NewSession(Options{})
	if err := s.Eval("let x = 1", nil); err != nil {
		t.Fatal(err)
	}

	// A syntax error leaves the session untouched.
	if err := s.Eval("fn broken( {", nil); !diag.Is(err, diag.KindSyntax) {
		t.Errorf("err = %v, want syntax", err)
	}
	if len(s.Functions()) != 0 {
		t.Error("failed snippet defined a function")
	}

	// A runtime error keeps assignments made before it.
	if err := s.Eval("x = 2\nprint 1 / 0", nil); !diag.Is(err, diag.KindRuntime) {
		t.Errorf("err = %v, want runtime", err)
	}
	var out bytes.Buffer
	if err := s.Eval("print x", &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "2\n" {
		t.Errorf("x = %q, want 2", out.String())
	}
}

func TestSessionCheck(t *testing.T) {
	s := NewSession(Options{})
	if err := s.Eval("let seen = 1\nfn inc(n) { return n + 1 }", nil); err != nil {
		t.Fatal(err)
	}

	warnings, err := s.Check("print inc(seen)\nprint unseen")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Pos.Line != 2 {
		t.Errorf("warnings = %v, want one on line 2", warnings)
	}

	if _, err := s.Check("print nope()"); !diag.Is(err, diag.KindCompile) {
		t.Errorf("err = %v, want compile error", err)
	}

	// Check never runs or records anything.
	var out bytes.Buffer
	if _, err := s.Check("fn inc(n) { return n - 1 }\nprint 5"); err != nil {
		t.Fatal(err)
	}
	if err := s.Eval("print inc(1)", &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "2\n" {
		t.Errorf("output = %q, want 2", out.String())
	}
}

func TestSessionConstantsSurvive(t *testing.T) {
	s := NewSession(Options{})
	if err := s.Eval("const k = 1\nrepeat 2 { const step = 5 }", nil); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := s.Eval("const k = 2\nprint k", &out)
	if !diag.Is(err, diag.KindRuntime) || !strings.Contains(err.Error(), `cannot redeclare constant "k"`) {
		t.Errorf("redeclare err = %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("output = %q, want none", out.String())
	}

	if err := s.Eval("k = 3", nil); !diag.Is(err, diag.KindRuntime) {
		t.Errorf("assign err = %v, want runtime", err)
	}

	out.Reset()
	if err := s.Eval("print k", &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "1\n" {
		t.Errorf("k = %q, want 1", out.String())
	}
}

func TestSessionRedefineWithNewArity(t *testing.T) {
	s := NewSession(Options{})
	if err := s.Eval("fn g(a) { return a }\nfn h() { return g(1) }", nil); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := s.Eval("fn g(a, b) { return a + b }\nprint g(1, 2)", &out); err != nil {
		t.Fatalf("redefining g: %v", err)
	}
	if out.String() != "3\n" {
		t.Errorf("output = %q, want 3", out.String())
	}
	if got := s.Functions(); !reflect.DeepEqual(got, []string{"g(a, b)", "h()"}) {
		t.Errorf("Functions() = %v", got)
	}

	// h still calls g with one argument, which now fails when it runs.
	err := s.Eval("print h()", nil)
	var de *diag.Error
	if !errors.As(err, &de) || de.Kind != diag.KindRuntime {
		t.Fatalf("err = %v, want runtime *diag.Error", err)
	}
	if !strings.Contains(de.Msg, `function "g" takes 2 argument(s), got 1`) {
		t.Errorf("msg = %q", de.Msg)
	}
	if de.Pos != (diag.Pos{Line: 2, Column: 17}) {
		t.Errorf("pos = %v, want 2:17 (the call inside h)", de.Pos)
	}
}
