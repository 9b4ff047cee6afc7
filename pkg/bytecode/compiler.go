package bytecode

import (
	"github.com/chazu/falcon/compiler"
	"github.com/chazu/falcon/pkg/diag"
)

// builtinArity gives the fixed argument count of each reserved built-in.
var builtinArity = map[string]int{
	"network.scan":  1,
	"crypto.random": 1,
	"time.now":      0,
	"wait":          1,
}

// IsBuiltin reports whether name is a reserved built-in call name.
func IsBuiltin(name string) bool {
	_, ok := builtinArity[name]
	return ok
}

// binaryOps maps binary operator tokens to opcodes.
var binaryOps = map[compiler.TokenType]Opcode{
	compiler.TokenPlus:         OpAdd,
	compiler.TokenMinus:        OpSub,
	compiler.TokenStar:         OpMul,
	compiler.TokenSlash:        OpDiv,
	compiler.TokenEqualEqual:   OpEq,
	compiler.TokenNotEqual:     OpNe,
	compiler.TokenLess:         OpLt,
	compiler.TokenLessEqual:    OpLe,
	compiler.TokenGreater:      OpGt,
	compiler.TokenGreaterEqual: OpGe,
	compiler.TokenAnd:          OpAnd,
	compiler.TokenOr:           OpOr,
}

// unaryOps maps prefix operator tokens to opcodes.
var unaryOps = map[compiler.TokenType]Opcode{
	compiler.TokenMinus: OpNeg,
	compiler.TokenBang:  OpNot,
	compiler.TokenNot:   OpNot,
}

// scope tracks names declared const in the current environment: the top
// level or one function body.
type scope struct {
	consts map[string]bool
}

func newScope() *scope {
	return &scope{consts: make(map[string]bool)}
}

// loopContext collects jumps that are patched once a loop's end is known.
type loopContext struct {
	breaks    []int // LoopExit instructions
	continues []int // Jump instructions to RepeatEnd
}

// Compiler converts a Falcon AST to a Program.
type Compiler struct {
	prog      *Program
	functions map[string]*compiler.FuncDef // declared functions, from the pre-pass

	scope      *scope
	loops      []*loopContext
	inFunction bool
}

// Compile compiles a parsed program. It always ends the program with a
// top-level Return.
func Compile(stmts []compiler.Stmt) (*Program, error) {
	c := &Compiler{
		prog:      NewProgram(),
		functions: make(map[string]*compiler.FuncDef),
		scope:     newScope(),
	}

	if err := c.declareFunctions(stmts); err != nil {
		return nil, err
	}

	for _, stmt := range stmts {
		if err := c.compileStatement(stmt); err != nil {
			return nil, err
		}
	}

	end := diag.Pos{}
	if n := len(stmts); n > 0 {
		end = stmts[n-1].Pos()
	}
	c.prog.Emit(OpReturn, 0, "", end)
	return c.prog, nil
}

// CompileSource parses and compiles source text.
func CompileSource(source string) (*Program, error) {
	stmts, err := compiler.Parse(source)
	if err != nil {
		return nil, err
	}
	return Compile(stmts)
}

// declareFunctions records every top-level function so calls may refer to
// functions defined later in the source.
func (c *Compiler) declareFunctions(stmts []compiler.Stmt) error {
	for _, stmt := range stmts {
		fn, ok := stmt.(*compiler.FuncDef)
		if !ok {
			continue
		}
		if _, dup := c.functions[fn.Name]; dup {
			return diag.Errorf(diag.KindCompile, fn.Pos(), "function %q is already defined", fn.Name)
		}
		seen := make(map[string]bool, len(fn.Params))
		for _, p := range fn.Params {
			if seen[p] {
				return diag.Errorf(diag.KindCompile, fn.Pos(), "duplicate parameter %q in function %q", p, fn.Name)
			}
			seen[p] = true
		}
		c.functions[fn.Name] = fn
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStatement(stmt compiler.Stmt) error {
	switch s := stmt.(type) {
	case *compiler.VarDecl:
		return c.compileVarDecl(s)
	case *compiler.Assign:
		return c.compileAssign(s)
	case *compiler.PrintStmt:
		if err := c.compileExpr(s.Value); err != nil {
			return err
		}
		c.prog.Emit(OpPrint, 0, "", s.Pos())
		return nil
	case *compiler.IfStmt:
		return c.compileIf(s)
	case *compiler.RepeatStmt:
		return c.compileRepeat(s)
	case *compiler.FuncDef:
		return c.compileFuncDef(s)
	case *compiler.ReturnStmt:
		return c.compileReturn(s)
	case *compiler.BreakStmt:
		loop := c.currentLoop()
		if loop == nil {
			return diag.Errorf(diag.KindCompile, s.Pos(), "break outside of a repeat loop")
		}
		loop.breaks = append(loop.breaks, c.prog.EmitJump(OpLoopExit, s.Pos()))
		return nil
	case *compiler.ContinueStmt:
		loop := c.currentLoop()
		if loop == nil {
			return diag.Errorf(diag.KindCompile, s.Pos(), "continue outside of a repeat loop")
		}
		loop.continues = append(loop.continues, c.prog.EmitJump(OpJump, s.Pos()))
		return nil
	case *compiler.ExprStmt:
		if err := c.compileExpr(s.Expr); err != nil {
			return err
		}
		c.prog.Emit(OpPop, 0, "", s.Pos())
		return nil
	}
	return diag.Errorf(diag.KindCompile, stmt.Pos(), "unsupported statement type: %T", stmt)
}

func (c *Compiler) compileVarDecl(d *compiler.VarDecl) error {
	if c.scope.consts[d.Name] {
		return diag.Errorf(diag.KindCompile, d.Pos(), "cannot redeclare constant %q", d.Name)
	}
	if err := c.compileExpr(d.Value); err != nil {
		return err
	}
	if d.Const {
		c.scope.consts[d.Name] = true
		c.prog.Emit(OpDefineConst, 0, d.Name, d.Pos())
	} else {
		c.prog.Emit(OpStoreVar, 0, d.Name, d.Pos())
	}
	return nil
}

func (c *Compiler) compileAssign(a *compiler.Assign) error {
	if c.scope.consts[a.Name] {
		return diag.Errorf(diag.KindCompile, a.Pos(), "cannot assign to constant %q", a.Name)
	}
	if err := c.compileExpr(a.Value); err != nil {
		return err
	}
	c.prog.Emit(OpStoreVar, 0, a.Name, a.Pos())
	return nil
}

// compileIf emits:
//
//	cond; JUMP_IF_FALSE else; then...; [JUMP end; else: else...;] end:
func (c *Compiler) compileIf(s *compiler.IfStmt) error {
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	elseJump := c.prog.EmitJump(OpJumpIfFalse, s.Pos())

	if err := c.compileBlock(s.Then); err != nil {
		return err
	}

	if s.Else == nil {
		c.prog.PatchJumpHere(elseJump)
		return nil
	}

	endJump := c.prog.EmitJump(OpJump, s.Pos())
	c.prog.PatchJumpHere(elseJump)
	if err := c.compileBlock(s.Else); err != nil {
		return err
	}
	c.prog.PatchJumpHere(endJump)
	return nil
}

// compileRepeat emits:
//
//	count; REPEAT_START after; body...; REPEAT_END; after:
//
// continue jumps to REPEAT_END, break exits through LOOP_EXIT.
func (c *Compiler) compileRepeat(s *compiler.RepeatStmt) error {
	if err := c.compileExpr(s.Count); err != nil {
		return err
	}
	start := c.prog.EmitJump(OpRepeatStart, s.Pos())

	loop := &loopContext{}
	c.loops = append(c.loops, loop)
	err := c.compileBlock(s.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err != nil {
		return err
	}

	end := c.prog.Emit(OpRepeatEnd, 0, "", s.Pos())
	after := end + 1

	c.prog.PatchJump(start, after)
	for _, at := range loop.continues {
		c.prog.PatchJump(at, end)
	}
	for _, at := range loop.breaks {
		c.prog.PatchJump(at, after)
	}
	return nil
}

// compileFuncDef emits the body inline behind a guard jump:
//
//	JUMP after; entry: body...; RETURN 0; after:
func (c *Compiler) compileFuncDef(fn *compiler.FuncDef) error {
	if c.inFunction {
		return diag.Errorf(diag.KindCompile, fn.Pos(), "nested function %q is not supported", fn.Name)
	}
	guard := c.prog.EmitJump(OpJump, fn.Pos())

	c.prog.Functions[fn.Name] = FunctionInfo{
		Params: append([]string{}, fn.Params...),
		Entry:  len(c.prog.Code),
	}

	outerScope, outerLoops := c.scope, c.loops
	c.scope, c.loops, c.inFunction = newScope(), nil, true
	defer func() {
		c.scope, c.loops, c.inFunction = outerScope, outerLoops, false
	}()

	if err := c.compileBlock(fn.Body); err != nil {
		return err
	}
	c.prog.Emit(OpReturn, 0, "", fn.Pos())
	c.prog.PatchJumpHere(guard)
	return nil
}

func (c *Compiler) compileReturn(r *compiler.ReturnStmt) error {
	if r.Value == nil {
		c.prog.Emit(OpReturn, 0, "", r.Pos())
		return nil
	}
	if err := c.compileExpr(r.Value); err != nil {
		return err
	}
	c.prog.Emit(OpReturn, 1, "", r.Pos())
	return nil
}

func (c *Compiler) compileBlock(stmts []compiler.Stmt) error {
	for _, stmt := range stmts {
		if err := c.compileStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) currentLoop() *loopContext {
	if len(c.loops) == 0 {
		return nil
	}
	return c.loops[len(c.loops)-1]
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(expr compiler.Expr) error {
	switch e := expr.(type) {
	case *compiler.IntLiteral:
		c.emitConstant(IntValue(e.Value), e.Pos())
	case *compiler.FloatLiteral:
		c.emitConstant(FloatValue(e.Value), e.Pos())
	case *compiler.StringLiteral:
		c.emitConstant(StringValue(e.Value), e.Pos())
	case *compiler.Identifier:
		c.prog.Emit(OpLoadVar, 0, e.Name, e.Pos())
	case *compiler.BinaryExpr:
		return c.compileBinary(e)
	case *compiler.UnaryExpr:
		op, ok := unaryOps[e.Op]
		if !ok {
			return diag.Errorf(diag.KindCompile, e.Pos(), "unsupported unary operator %s", e.Op)
		}
		if err := c.compileExpr(e.Operand); err != nil {
			return err
		}
		c.prog.Emit(op, 0, "", e.Pos())
	case *compiler.CallExpr:
		// Argument counts of user functions are checked by CALL at run time.
		if _, ok := c.functions[e.Name]; !ok {
			return diag.Errorf(diag.KindCompile, e.Pos(), "undefined function %q", e.Name)
		}
		return c.compileCall(e.Name, e.Args, e.Pos())
	case *compiler.NetworkScanCall:
		return c.compileCall("network.scan", []compiler.Expr{e.Subnet}, e.Pos())
	case *compiler.BuiltinCall:
		want, ok := builtinArity[e.Name]
		if !ok {
			return diag.Errorf(diag.KindCompile, e.Pos(), "unknown built-in %q", e.Name)
		}
		if len(e.Args) != want {
			return diag.Errorf(diag.KindCompile, e.Pos(), "%s takes %d argument(s), got %d", e.Name, want, len(e.Args))
		}
		return c.compileCall(e.Name, e.Args, e.Pos())
	default:
		return diag.Errorf(diag.KindCompile, expr.Pos(), "unsupported expression type: %T", expr)
	}
	return nil
}

func (c *Compiler) compileBinary(b *compiler.BinaryExpr) error {
	op, ok := binaryOps[b.Op]
	if !ok {
		return diag.Errorf(diag.KindCompile, b.Pos(), "unsupported binary operator %s", b.Op)
	}
	if err := c.compileExpr(b.Left); err != nil {
		return err
	}
	if err := c.compileExpr(b.Right); err != nil {
		return err
	}
	c.prog.Emit(op, 0, "", b.Pos())
	return nil
}

// compileCall evaluates arguments left to right, then emits CALL.
func (c *Compiler) compileCall(name string, args []compiler.Expr, pos diag.Pos) error {
	for _, arg := range args {
		if err := c.compileExpr(arg); err != nil {
			return err
		}
	}
	c.prog.Emit(OpCall, len(args), name, pos)
	return nil
}

func (c *Compiler) emitConstant(v Value, pos diag.Pos) {
	c.prog.Emit(OpLoadConst, c.prog.AddConstant(v), "", pos)
}
