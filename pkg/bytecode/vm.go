package bytecode

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/chazu/falcon/pkg/diag"
	"github.com/tliron/commonlog"
)

// DefaultMaxCallDepth bounds nested calls unless WithMaxCallDepth says
// otherwise.
const DefaultMaxCallDepth = 1024

// Dispatcher executes host built-ins the program calls by name. The VM asks
// Has before Call and never cancels a call in progress.
type Dispatcher interface {
	Has(name string) bool
	Call(name string, args []Value) (Value, error)
}

// environment is one variable namespace: the globals or a single call.
type environment struct {
	vars   map[string]Value
	consts map[string]constSite
}

// constSite is the declaration that bound a constant. Executing the same
// declaration again, as a loop body does, rebinds it.
type constSite struct {
	prog *Program
	ip   int
}

func newEnvironment() *environment {
	return &environment{
		vars:   make(map[string]Value),
		consts: make(map[string]constSite),
	}
}

// CallFrame records what a Return must restore.
type CallFrame struct {
	ReturnAddr int          // instruction after the Call
	SavedEnv   *environment // caller's environment
	StackBase  int          // operand stack height after arguments were popped
	LoopDepth  int          // loop stack height at call time
}

// LoopFrame is an active repeat loop.
type LoopFrame struct {
	Anchor    int   // first body instruction
	Remaining int64 // iterations left, including the current one
}

// VM executes a Program. A VM owns all of its state and is not safe for
// concurrent use; independent VMs may run on separate goroutines.
type VM struct {
	prog     *Program
	out      io.Writer
	builtins Dispatcher
	maxDepth int
	log      commonlog.Logger

	stack   []Value
	globals *environment
	env     *environment
	frames  []CallFrame
	loops   []LoopFrame
	ip      int
	cur     int // index of the executing instruction

	// Debug/trace mode
	Trace bool
}

// Option configures a VM.
type Option func(*VM)

// WithOutput sets where print writes. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithBuiltins sets the dispatcher for host built-ins.
func WithBuiltins(d Dispatcher) Option {
	return func(vm *VM) { vm.builtins = d }
}

// WithMaxCallDepth bounds nested calls. Values below 1 keep the default.
func WithMaxCallDepth(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxDepth = n
		}
	}
}

// WithTrace logs every executed instruction at debug level.
func WithTrace(trace bool) Option {
	return func(vm *VM) { vm.Trace = trace }
}

// NewVM creates a VM for prog.
func NewVM(prog *Program, opts ...Option) *VM {
	vm := &VM{
		prog:     prog,
		out:      os.Stdout,
		maxDepth: DefaultMaxCallDepth,
		log:      commonlog.GetLogger("falcon.vm"),
		stack:    make([]Value, 0, 256),
		globals:  newEnvironment(),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Load replaces the program while keeping global variables, so that a
// session can run one program after another.
func (vm *VM) Load(prog *Program) {
	vm.prog = prog
}

// Global returns the value of a global variable.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals.vars[name]
	return v, ok
}

// GlobalNames returns the defined globals in sorted order.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals.vars))
	for name := range vm.globals.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetOutput redirects print for subsequent runs.
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// Run executes the program from its first instruction until a top-level
// Return or the end of the code.
func (vm *VM) Run() error {
	if err := vm.prog.Validate(); err != nil {
		return err
	}

	vm.ip = 0
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.loops = vm.loops[:0]
	vm.env = vm.globals

	code := vm.prog.Code
	for vm.ip < len(code) {
		vm.cur = vm.ip
		ins := code[vm.ip]
		vm.ip++

		if vm.Trace {
			vm.log.Debugf("%s  stack=%d frames=%d", vm.prog.DisassembleInstruction(vm.cur), len(vm.stack), len(vm.frames))
		}

		done, err := vm.step(ins)
		if err != nil {
			return vm.annotate(err)
		}
		if done {
			return nil
		}
	}
	return nil
}

// step executes one instruction. done reports a top-level Return.
func (vm *VM) step(ins Instruction) (done bool, err error) {
	switch ins.Op {
	// ============ Stack Operations ============
	case OpNop:
		// Do nothing

	case OpPop:
		if _, err := vm.pop(); err != nil {
			return false, err
		}

	// ============ Constants ============
	case OpLoadConst:
		vm.push(vm.prog.Constants[ins.Arg])

	// ============ Variables ============
	case OpLoadVar:
		v, ok := vm.lookup(ins.Name)
		if !ok {
			return false, vm.runtimeErrorf("undefined variable %q", ins.Name)
		}
		vm.push(v)

	case OpStoreVar:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		if _, ok := vm.env.consts[ins.Name]; ok {
			return false, vm.runtimeErrorf("cannot assign to constant %q", ins.Name)
		}
		vm.env.vars[ins.Name] = v

	case OpDefineConst:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		site := constSite{prog: vm.prog, ip: vm.cur}
		if prev, ok := vm.env.consts[ins.Name]; ok && prev != site {
			return false, vm.runtimeErrorf("cannot redeclare constant %q", ins.Name)
		}
		vm.env.vars[ins.Name] = v
		vm.env.consts[ins.Name] = site

	// ============ Arithmetic ============
	case OpAdd, OpSub, OpMul, OpDiv:
		a, b, err := vm.pop2()
		if err != nil {
			return false, err
		}
		r, err := vm.arith(ins.Op, a, b)
		if err != nil {
			return false, err
		}
		vm.push(r)

	case OpNeg:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		switch v.Kind {
		case KindInt:
			if v.Int == math.MinInt64 {
				return false, vm.runtimeErrorf("integer overflow")
			}
			vm.push(IntValue(-v.Int))
		case KindFloat:
			vm.push(FloatValue(-v.Float))
		default:
			return false, vm.runtimeErrorf("cannot negate %s", v.Kind)
		}

	// ============ Comparison ============
	case OpEq, OpNe:
		a, b, err := vm.pop2()
		if err != nil {
			return false, err
		}
		eq := Equal(a, b)
		vm.push(BoolValue(eq == (ins.Op == OpEq)))

	case OpLt, OpLe, OpGt, OpGe:
		a, b, err := vm.pop2()
		if err != nil {
			return false, err
		}
		cmp, err := vm.compare(ins.Op, a, b)
		if err != nil {
			return false, err
		}
		var r bool
		switch ins.Op {
		case OpLt:
			r = cmp < 0
		case OpLe:
			r = cmp <= 0
		case OpGt:
			r = cmp > 0
		case OpGe:
			r = cmp >= 0
		}
		vm.push(BoolValue(r))

	// ============ Logical ============
	case OpNot:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		t, ok := v.Truthy()
		if !ok {
			return false, vm.runtimeErrorf("operand of not must be a number, got %s", v.Kind)
		}
		vm.push(BoolValue(!t))

	case OpAnd, OpOr:
		a, b, err := vm.pop2()
		if err != nil {
			return false, err
		}
		ta, okA := a.Truthy()
		tb, okB := b.Truthy()
		if !okA || !okB {
			return false, vm.runtimeErrorf("operands of %s must be numbers, got %s and %s",
				strings.ToLower(ins.Op.String()), a.Kind, b.Kind)
		}
		if ins.Op == OpAnd {
			vm.push(BoolValue(ta && tb))
		} else {
			vm.push(BoolValue(ta || tb))
		}

	// ============ Output ============
	case OpPrint:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		if _, err := fmt.Fprintln(vm.out, v.String()); err != nil {
			return false, vm.runtimeErrorf("print: %v", err)
		}

	// ============ Control Flow ============
	case OpJump:
		vm.ip = ins.Arg

	case OpJumpIfFalse:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		t, ok := v.Truthy()
		if !ok {
			return false, vm.runtimeErrorf("condition must be a number, got %s", v.Kind)
		}
		if !t {
			vm.ip = ins.Arg
		}

	case OpRepeatStart:
		v, err := vm.pop()
		if err != nil {
			return false, err
		}
		if v.Kind != KindInt {
			return false, vm.runtimeErrorf("repeat count must be an integer, got %s", v.Kind)
		}
		if v.Int <= 0 {
			vm.ip = ins.Arg
			break
		}
		vm.loops = append(vm.loops, LoopFrame{Anchor: vm.ip, Remaining: v.Int})

	case OpRepeatEnd:
		if !vm.inLoop() {
			return false, vm.internalErrorf("REPEAT_END without an active loop")
		}
		top := &vm.loops[len(vm.loops)-1]
		top.Remaining--
		if top.Remaining > 0 {
			vm.ip = top.Anchor
		} else {
			vm.loops = vm.loops[:len(vm.loops)-1]
		}

	case OpLoopExit:
		if !vm.inLoop() {
			return false, vm.internalErrorf("LOOP_EXIT without an active loop")
		}
		vm.loops = vm.loops[:len(vm.loops)-1]
		vm.ip = ins.Arg

	// ============ Calls ============
	case OpCall:
		return false, vm.call(ins.Name, ins.Arg)

	case OpReturn:
		return vm.ret(ins.Arg == 1)

	default:
		return false, vm.internalErrorf("unknown opcode 0x%02X", byte(ins.Op))
	}
	return false, nil
}

// call invokes a user function or, failing that, a host built-in.
func (vm *VM) call(name string, argc int) error {
	if len(vm.stack)-vm.stackFloor() < argc {
		return vm.internalErrorf("stack underflow: call of %q needs %d arguments", name, argc)
	}

	if fn, ok := vm.prog.Functions[name]; ok {
		if len(fn.Params) != argc {
			return vm.runtimeErrorf("function %q takes %d argument(s), got %d", name, len(fn.Params), argc)
		}
		if len(vm.frames) >= vm.maxDepth {
			return vm.runtimeErrorf("call stack overflow (max depth %d)", vm.maxDepth)
		}

		env := newEnvironment()
		args := vm.stack[len(vm.stack)-argc:]
		for i, param := range fn.Params {
			env.vars[param] = args[i]
		}
		vm.stack = vm.stack[:len(vm.stack)-argc]

		vm.frames = append(vm.frames, CallFrame{
			ReturnAddr: vm.ip,
			SavedEnv:   vm.env,
			StackBase:  len(vm.stack),
			LoopDepth:  len(vm.loops),
		})
		vm.env = env
		vm.ip = fn.Entry
		return nil
	}

	if vm.builtins != nil && vm.builtins.Has(name) {
		args := make([]Value, argc)
		copy(args, vm.stack[len(vm.stack)-argc:])
		vm.stack = vm.stack[:len(vm.stack)-argc]

		result, err := vm.builtins.Call(name, args)
		if err != nil {
			return vm.runtimeErrorf("%s: %v", name, err)
		}
		vm.push(result)
		return nil
	}

	return vm.runtimeErrorf("undefined function %q", name)
}

// ret returns from the current call. At top level it ends the program.
func (vm *VM) ret(hasValue bool) (done bool, err error) {
	if len(vm.frames) == 0 {
		return true, nil
	}

	result := Nil
	if hasValue {
		if result, err = vm.pop(); err != nil {
			return false, err
		}
	}

	frame := vm.frames[len(vm.frames)-1]
	if len(vm.stack) != frame.StackBase {
		return false, vm.internalErrorf("stack imbalance on return: height %d, want %d", len(vm.stack), frame.StackBase)
	}
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.loops = vm.loops[:frame.LoopDepth]
	vm.env = frame.SavedEnv
	vm.ip = frame.ReturnAddr
	vm.push(result)
	return false, nil
}

// lookup reads the current environment, then the globals.
func (vm *VM) lookup(name string) (Value, bool) {
	if v, ok := vm.env.vars[name]; ok {
		return v, true
	}
	if vm.env != vm.globals {
		v, ok := vm.globals.vars[name]
		return v, ok
	}
	return Value{}, false
}

func (vm *VM) arith(op Opcode, a, b Value) (Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return Value{}, vm.runtimeErrorf("unsupported operand types for %s: %s and %s", op, a.Kind, b.Kind)
	}

	if a.Kind == KindInt && b.Kind == KindInt {
		x, y := a.Int, b.Int
		if op == OpDiv && y == 0 {
			return Value{}, vm.runtimeErrorf("division by zero")
		}
		r, ok := intArith(op, x, y)
		if !ok {
			return Value{}, vm.runtimeErrorf("integer overflow")
		}
		return IntValue(r), nil
	}

	x, y := a.AsFloat(), b.AsFloat()
	switch op {
	case OpAdd:
		return FloatValue(x + y), nil
	case OpSub:
		return FloatValue(x - y), nil
	case OpMul:
		return FloatValue(x * y), nil
	default:
		if y == 0 {
			return Value{}, vm.runtimeErrorf("division by zero")
		}
		return FloatValue(x / y), nil
	}
}

// intArith applies op to two integers. ok is false when the result does
// not fit in an int64. y is non-zero for OpDiv.
func intArith(op Opcode, x, y int64) (r int64, ok bool) {
	switch op {
	case OpAdd:
		r = x + y
		return r, (r > x) == (y > 0)
	case OpSub:
		r = x - y
		return r, (r < x) == (y > 0)
	case OpMul:
		if x == 0 || y == 0 {
			return 0, true
		}
		r = x * y
		if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return 0, false
		}
		return r, true
	default:
		if x == math.MinInt64 && y == -1 {
			return 0, false
		}
		return x / y, true
	}
}

// compare orders two numbers or two strings.
func (vm *VM) compare(op Opcode, a, b Value) (int, error) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return cmp3(a.Int < b.Int, a.Int > b.Int), nil
	case a.IsNumber() && b.IsNumber():
		x, y := a.AsFloat(), b.AsFloat()
		return cmp3(x < y, x > y), nil
	case a.Kind == KindString && b.Kind == KindString:
		return strings.Compare(a.Str, b.Str), nil
	}
	return 0, vm.runtimeErrorf("cannot compare %s and %s with %s", a.Kind, b.Kind, op)
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

// stackFloor is the lowest stack height the current call may pop to.
func (vm *VM) stackFloor() int {
	if n := len(vm.frames); n > 0 {
		return vm.frames[n-1].StackBase
	}
	return 0
}

func (vm *VM) pop() (Value, error) {
	if len(vm.stack) <= vm.stackFloor() {
		return Value{}, vm.internalErrorf("stack underflow")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v, nil
}

// pop2 pops b then a, returning them in source order.
func (vm *VM) pop2() (a, b Value, err error) {
	if b, err = vm.pop(); err != nil {
		return
	}
	a, err = vm.pop()
	return
}

// inLoop reports whether the current call has an active loop.
func (vm *VM) inLoop() bool {
	base := 0
	if n := len(vm.frames); n > 0 {
		base = vm.frames[n-1].LoopDepth
	}
	return len(vm.loops) > base
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (vm *VM) runtimeErrorf(format string, args ...any) error {
	return vm.errorf(diag.KindRuntime, format, args...)
}

func (vm *VM) internalErrorf(format string, args ...any) error {
	return vm.errorf(diag.KindInternal, format, args...)
}

func (vm *VM) errorf(kind diag.Kind, format string, args ...any) error {
	return &diag.Error{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		Pos:  vm.prog.PosAt(vm.cur),
		Op:   vm.opLabel(),
	}
}

func (vm *VM) opLabel() string {
	return fmt.Sprintf("%04d %s", vm.cur, vm.prog.Code[vm.cur].Op)
}

// annotate makes sure a failure carries the failing instruction.
func (vm *VM) annotate(err error) error {
	if _, ok := err.(*diag.Error); ok {
		return err
	}
	return &diag.Error{Kind: diag.KindRuntime, Msg: err.Error(), Pos: vm.prog.PosAt(vm.cur), Op: vm.opLabel()}
}
