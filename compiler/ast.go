package compiler

import (
	"strings"

	"github.com/chazu/falcon/pkg/diag"
)

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Falcon
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() diag.Pos
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	PosVal diag.Pos
	Value  int64
}

func (n *IntLiteral) Pos() diag.Pos { return n.PosVal }
func (n *IntLiteral) node()         {}
func (n *IntLiteral) expr()         {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	PosVal diag.Pos
	Value  float64
}

func (n *FloatLiteral) Pos() diag.Pos { return n.PosVal }
func (n *FloatLiteral) node()         {}
func (n *FloatLiteral) expr()         {}

// StringLiteral represents a string literal with escapes decoded.
type StringLiteral struct {
	PosVal diag.Pos
	Value  string
}

func (n *StringLiteral) Pos() diag.Pos { return n.PosVal }
func (n *StringLiteral) node()         {}
func (n *StringLiteral) expr()         {}

// Identifier represents a variable reference.
type Identifier struct {
	PosVal diag.Pos
	Name   string
}

func (n *Identifier) Pos() diag.Pos { return n.PosVal }
func (n *Identifier) node()         {}
func (n *Identifier) expr()         {}

// BinaryExpr represents a binary operation: Left Op Right.
// Op is the operator token type (TokenPlus, TokenAnd, ...).
type BinaryExpr struct {
	PosVal diag.Pos
	Left   Expr
	Op     TokenType
	Right  Expr
}

func (n *BinaryExpr) Pos() diag.Pos { return n.PosVal }
func (n *BinaryExpr) node()         {}
func (n *BinaryExpr) expr()         {}

// UnaryExpr represents a prefix operation: -x, !x, not x.
type UnaryExpr struct {
	PosVal  diag.Pos
	Op      TokenType
	Operand Expr
}

func (n *UnaryExpr) Pos() diag.Pos { return n.PosVal }
func (n *UnaryExpr) node()         {}
func (n *UnaryExpr) expr()         {}

// CallExpr represents a call of a user-defined function.
type CallExpr struct {
	PosVal diag.Pos
	Name   string
	Args   []Expr
}

func (n *CallExpr) Pos() diag.Pos { return n.PosVal }
func (n *CallExpr) node()         {}
func (n *CallExpr) expr()         {}

// NetworkScanCall represents network.scan(subnet).
type NetworkScanCall struct {
	PosVal diag.Pos
	Subnet Expr
}

func (n *NetworkScanCall) Pos() diag.Pos { return n.PosVal }
func (n *NetworkScanCall) node()         {}
func (n *NetworkScanCall) expr()         {}

// BuiltinCall represents a call of a host built-in other than network.scan
// (crypto.random, time.now, wait). Name is the dispatch name.
type BuiltinCall struct {
	PosVal diag.Pos
	Name   string
	Args   []Expr
}

func (n *BuiltinCall) Pos() diag.Pos { return n.PosVal }
func (n *BuiltinCall) node()         {}
func (n *BuiltinCall) expr()         {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// VarDecl represents let / const / secure let / secure const.
type VarDecl struct {
	PosVal diag.Pos
	Secure bool
	Const  bool
	Name   string
	Value  Expr
}

func (n *VarDecl) Pos() diag.Pos { return n.PosVal }
func (n *VarDecl) node()         {}
func (n *VarDecl) stmt()         {}

// Assign represents name = value.
type Assign struct {
	PosVal diag.Pos
	Name   string
	Value  Expr
}

func (n *Assign) Pos() diag.Pos { return n.PosVal }
func (n *Assign) node()         {}
func (n *Assign) stmt()         {}

// PrintStmt represents print expr.
type PrintStmt struct {
	PosVal diag.Pos
	Value  Expr
}

func (n *PrintStmt) Pos() diag.Pos { return n.PosVal }
func (n *PrintStmt) node()         {}
func (n *PrintStmt) stmt()         {}

// IfStmt represents if/elseif/else. An elseif chain is a nested IfStmt as
// the only statement of Else.
type IfStmt struct {
	PosVal diag.Pos
	Cond   Expr
	Then   []Stmt
	Else   []Stmt // nil when absent
}

func (n *IfStmt) Pos() diag.Pos { return n.PosVal }
func (n *IfStmt) node()         {}
func (n *IfStmt) stmt()         {}

// RepeatStmt represents repeat count { body }.
type RepeatStmt struct {
	PosVal diag.Pos
	Count  Expr
	Body   []Stmt
}

func (n *RepeatStmt) Pos() diag.Pos { return n.PosVal }
func (n *RepeatStmt) node()         {}
func (n *RepeatStmt) stmt()         {}

// FuncDef represents fn name(params) { body }.
type FuncDef struct {
	PosVal diag.Pos
	Name   string
	Params []string
	Body   []Stmt
}

func (n *FuncDef) Pos() diag.Pos { return n.PosVal }
func (n *FuncDef) node()         {}
func (n *FuncDef) stmt()         {}

// Signature renders the definition's header, e.g. "add(a, b)".
func Signature(fd *FuncDef) string {
	return fd.Name + "(" + strings.Join(fd.Params, ", ") + ")"
}

// ReturnStmt represents return [expr]. Value is nil for a bare return.
type ReturnStmt struct {
	PosVal diag.Pos
	Value  Expr
}

func (n *ReturnStmt) Pos() diag.Pos { return n.PosVal }
func (n *ReturnStmt) node()         {}
func (n *ReturnStmt) stmt()         {}

// BreakStmt represents break.
type BreakStmt struct {
	PosVal diag.Pos
}

func (n *BreakStmt) Pos() diag.Pos { return n.PosVal }
func (n *BreakStmt) node()         {}
func (n *BreakStmt) stmt()         {}

// ContinueStmt represents continue.
type ContinueStmt struct {
	PosVal diag.Pos
}

func (n *ContinueStmt) Pos() diag.Pos { return n.PosVal }
func (n *ContinueStmt) node()         {}
func (n *ContinueStmt) stmt()         {}

// ExprStmt is an expression evaluated for its side effects.
type ExprStmt struct {
	PosVal diag.Pos
	Expr   Expr
}

func (n *ExprStmt) Pos() diag.Pos { return n.PosVal }
func (n *ExprStmt) node()         {}
func (n *ExprStmt) stmt()         {}

// ---------------------------------------------------------------------------
// Walking
// ---------------------------------------------------------------------------

// Inspect calls fn for every node of stmts in depth-first order. If fn
// returns false the node's children are skipped.
func Inspect(stmts []Stmt, fn func(Node) bool) {
	for _, s := range stmts {
		inspectNode(s, fn)
	}
}

func inspectNode(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *BinaryExpr:
		inspectNode(n.Left, fn)
		inspectNode(n.Right, fn)
	case *UnaryExpr:
		inspectNode(n.Operand, fn)
	case *CallExpr:
		for _, a := range n.Args {
			inspectNode(a, fn)
		}
	case *BuiltinCall:
		for _, a := range n.Args {
			inspectNode(a, fn)
		}
	case *NetworkScanCall:
		inspectNode(n.Subnet, fn)
	case *VarDecl:
		inspectNode(n.Value, fn)
	case *Assign:
		inspectNode(n.Value, fn)
	case *PrintStmt:
		inspectNode(n.Value, fn)
	case *IfStmt:
		inspectNode(n.Cond, fn)
		Inspect(n.Then, fn)
		Inspect(n.Else, fn)
	case *RepeatStmt:
		inspectNode(n.Count, fn)
		Inspect(n.Body, fn)
	case *FuncDef:
		Inspect(n.Body, fn)
	case *ReturnStmt:
		if n.Value != nil {
			inspectNode(n.Value, fn)
		}
	case *ExprStmt:
		inspectNode(n.Expr, fn)
	}
}
