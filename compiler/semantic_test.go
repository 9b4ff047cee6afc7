package compiler

import (
	"strings"
	"testing"
)

func analyzeSource(t *testing.T, source string, known ...string) []Warning {
	t.Helper()
	stmts, err := Parse(source)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return Analyze(stmts, known...)
}

func findWarning(warnings []Warning, substr string) (Warning, bool) {
	for _, w := range warnings {
		if strings.Contains(w.Msg, substr) {
			return w, true
		}
	}
	return Warning{}, false
}

func TestSemanticAnalyzer_UndefinedVariable(t *testing.T) {
	warnings := analyzeSource(t, "let a = 1\nprint a + missing")

	w, ok := findWarning(warnings, "'missing' is never defined")
	if !ok {
		t.Fatalf("expected warning about missing, got: %v", warnings)
	}
	if w.Pos.Line != 2 || w.Pos.Column != 11 {
		t.Errorf("warning at %d:%d, want 2:11", w.Pos.Line, w.Pos.Column)
	}
	if _, ok := findWarning(warnings, "'a'"); ok {
		t.Errorf("unexpected warning about a: %v", warnings)
	}
}

func TestSemanticAnalyzer_GlobalsBoundAnywhere(t *testing.T) {
	source := `fn show() { print later }
if 1 { later = 2 }
show()`
	if warnings := analyzeSource(t, source); len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestSemanticAnalyzer_KnownGlobals(t *testing.T) {
	if warnings := analyzeSource(t, "print total", "total"); len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if warnings := analyzeSource(t, "print total"); len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
}

func TestSemanticAnalyzer_FunctionScope(t *testing.T) {
	// Locals of one function are not visible at top level.
	source := `fn f(n) {
    let doubled = n * 2
    return doubled
}
print doubled`
	warnings := analyzeSource(t, source)
	w, ok := findWarning(warnings, "'doubled' is never defined")
	if !ok || w.Pos.Line != 5 {
		t.Errorf("expected top-level warning about doubled on line 5, got: %v", warnings)
	}
	if len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1: %v", len(warnings), warnings)
	}
}

func TestSemanticAnalyzer_UnusedLocal(t *testing.T) {
	source := `fn f(n) {
    let scratch = n
    let used = 1
    scratch = 2
    return used
}`
	warnings := analyzeSource(t, source)
	w, ok := findWarning(warnings, "local 'scratch' is declared but never used")
	if !ok || w.Pos.Line != 2 {
		t.Errorf("expected unused warning on line 2, got: %v", warnings)
	}
	if _, ok := findWarning(warnings, "'used'"); ok {
		t.Errorf("unexpected warning about used: %v", warnings)
	}
}

func TestSemanticAnalyzer_UnreachableCode(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
		line   int
	}{
		{"after return", "fn f() {\n  return 1\n  print 2\n}", "unreachable code after return", 3},
		{"after break", "repeat 3 {\n  break\n  print 1\n}", "unreachable code after break", 3},
		{"after continue", "repeat 3 {\n  if 1 {\n    continue\n    print 1\n  }\n}", "unreachable code after continue", 4},
	}
	for _, tc := range tests {
		warnings := analyzeSource(t, tc.source)
		w, ok := findWarning(warnings, tc.want)
		if !ok {
			t.Errorf("%s: expected %q, got: %v", tc.name, tc.want, warnings)
			continue
		}
		if w.Pos.Line != tc.line {
			t.Errorf("%s: warning on line %d, want %d", tc.name, w.Pos.Line, tc.line)
		}
	}
}

func TestSemanticAnalyzer_OnlyOneUnreachableWarningPerBlock(t *testing.T) {
	warnings := analyzeSource(t, "fn f() {\n  return 1\n  print 2\n  print 3\n}")
	count := 0
	for _, w := range warnings {
		if strings.Contains(w.Msg, "unreachable") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d unreachable warnings, want 1: %v", count, warnings)
	}
}

func TestSemanticAnalyzer_WarningsOrdered(t *testing.T) {
	warnings := analyzeSource(t, "print b\nprint a")
	if len(warnings) != 2 {
		t.Fatalf("got %d warnings, want 2", len(warnings))
	}
	if warnings[0].Pos.Line != 1 || warnings[1].Pos.Line != 2 {
		t.Errorf("warnings out of order: %v", warnings)
	}
	if got := warnings[0].String(); got != "warning: line 1, column 7: variable 'b' is never defined" {
		t.Errorf("String() = %q", got)
	}
}

func TestSemanticAnalyzer_CleanProgram(t *testing.T) {
	source := `secure const limit = 3
let total = 0
fn add(a, b) { return a + b }
repeat limit { total = add(total, 1) }
print total`
	if warnings := analyzeSource(t, source); len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}
