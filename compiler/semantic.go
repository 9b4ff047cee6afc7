package compiler

import (
	"fmt"
	"sort"

	"github.com/chazu/falcon/pkg/diag"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: advisory checks on a parsed program
// ---------------------------------------------------------------------------

// Warning is a finding that does not stop compilation.
type Warning struct {
	Pos diag.Pos
	Msg string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: line %d, column %d: %s", w.Pos.Line, w.Pos.Column, w.Msg)
}

// SemanticAnalyzer looks for likely mistakes the compiler accepts:
// variables that are never bound, code after return/break/continue and
// function locals that are never read.
type SemanticAnalyzer struct {
	warnings []Warning

	// Names bound outside the program, e.g. by earlier session snippets.
	knownGlobals map[string]bool

	// Names bound anywhere at top level.
	globals map[string]bool

	// Function scope; nil at top level.
	locals map[string]bool
	reads  map[string]bool
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{
		knownGlobals: make(map[string]bool),
		globals:      make(map[string]bool),
	}
}

// AddKnownGlobal adds a global to the known globals set.
func (s *SemanticAnalyzer) AddKnownGlobal(name string) {
	s.knownGlobals[name] = true
}

// Warnings returns accumulated warnings ordered by position.
func (s *SemanticAnalyzer) Warnings() []Warning {
	sort.SliceStable(s.warnings, func(i, j int) bool {
		a, b := s.warnings[i].Pos, s.warnings[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return s.warnings
}

func (s *SemanticAnalyzer) warnAt(node Node, format string, args ...any) {
	s.warnings = append(s.warnings, Warning{Pos: node.Pos(), Msg: fmt.Sprintf(format, args...)})
}

// AnalyzeProgram analyzes a whole program.
func (s *SemanticAnalyzer) AnalyzeProgram(stmts []Stmt) {
	for name := range boundNames(stmts) {
		s.globals[name] = true
	}
	s.analyzeBlock(stmts)
}

// boundNames returns every name declared or assigned in stmts, outside
// function bodies.
func boundNames(stmts []Stmt) map[string]bool {
	names := make(map[string]bool)
	Inspect(stmts, func(n Node) bool {
		switch n := n.(type) {
		case *VarDecl:
			names[n.Name] = true
		case *Assign:
			names[n.Name] = true
		case *FuncDef:
			return false
		}
		return true
	})
	return names
}

func (s *SemanticAnalyzer) analyzeBlock(stmts []Stmt) {
	for _, stmt := range stmts {
		s.analyzeStmt(stmt)
	}
	s.checkUnreachableCode(stmts)
}

func (s *SemanticAnalyzer) analyzeStmt(stmt Stmt) {
	switch st := stmt.(type) {
	case *VarDecl:
		s.analyzeExpr(st.Value)
	case *Assign:
		s.analyzeExpr(st.Value)
	case *PrintStmt:
		s.analyzeExpr(st.Value)
	case *ExprStmt:
		s.analyzeExpr(st.Expr)
	case *ReturnStmt:
		if st.Value != nil {
			s.analyzeExpr(st.Value)
		}
	case *IfStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeBlock(st.Then)
		s.analyzeBlock(st.Else)
	case *RepeatStmt:
		s.analyzeExpr(st.Count)
		s.analyzeBlock(st.Body)
	case *FuncDef:
		s.analyzeFunction(st)
	}
}

func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	Inspect([]Stmt{&ExprStmt{Expr: expr}}, func(n Node) bool {
		if id, ok := n.(*Identifier); ok {
			s.checkVariableDefined(id)
		}
		return true
	})
}

// analyzeFunction checks a function body in its own scope. Lookups that
// miss the function's environment fall back to globals.
func (s *SemanticAnalyzer) analyzeFunction(fd *FuncDef) {
	s.locals = boundNames(fd.Body)
	for _, p := range fd.Params {
		s.locals[p] = true
	}
	s.reads = make(map[string]bool)

	s.analyzeBlock(fd.Body)

	Inspect(fd.Body, func(n Node) bool {
		if d, ok := n.(*VarDecl); ok && !s.reads[d.Name] {
			s.warnAt(d, "local '%s' is declared but never used", d.Name)
		}
		return true
	})

	s.locals, s.reads = nil, nil
}

// checkVariableDefined warns about a read of a name nothing binds.
func (s *SemanticAnalyzer) checkVariableDefined(id *Identifier) {
	name := id.Name
	if s.locals != nil {
		s.reads[name] = true
		if s.locals[name] {
			return
		}
	}
	if s.globals[name] || s.knownGlobals[name] {
		return
	}
	s.warnAt(id, "variable '%s' is never defined", name)
}

// checkUnreachableCode checks for code after return, break or continue.
func (s *SemanticAnalyzer) checkUnreachableCode(stmts []Stmt) {
	for i, stmt := range stmts {
		var what string
		switch stmt.(type) {
		case *ReturnStmt:
			what = "return"
		case *BreakStmt:
			what = "break"
		case *ContinueStmt:
			what = "continue"
		default:
			continue
		}
		if i < len(stmts)-1 {
			s.warnAt(stmts[i+1], "unreachable code after %s", what)
		}
		return // Only warn once
	}
}

// ---------------------------------------------------------------------------
// Integration
// ---------------------------------------------------------------------------

// Analyze runs semantic analysis on a program. known lists globals bound
// before the program runs.
func Analyze(stmts []Stmt, known ...string) []Warning {
	analyzer := NewSemanticAnalyzer()
	for _, name := range known {
		analyzer.AddKnownGlobal(name)
	}
	analyzer.AnalyzeProgram(stmts)
	return analyzer.Warnings()
}
