package bytecode

import (
	"fmt"
	"sort"

	"github.com/chazu/falcon/pkg/diag"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// placeholder marks a jump whose target has not been patched yet.
const placeholder = -1

// Instruction is a single VM instruction. Which of Arg and Name are
// meaningful depends on the opcode's OperandKind.
type Instruction struct {
	Op   Opcode `cbor:"1,keyasint"`
	Arg  int    `cbor:"2,keyasint,omitempty"`
	Name string `cbor:"3,keyasint,omitempty"`
}

// FunctionInfo describes a user-defined function.
type FunctionInfo struct {
	Params []string `cbor:"1,keyasint"`
	Entry  int      `cbor:"2,keyasint"` // index of the first body instruction
}

// Program is a compiled Falcon program.
type Program struct {
	Version   uint16                  `cbor:"1,keyasint"`
	Constants []Value                 `cbor:"2,keyasint"`
	Code      []Instruction           `cbor:"3,keyasint"`
	Functions map[string]FunctionInfo `cbor:"4,keyasint"`
	SourceMap []diag.Pos              `cbor:"5,keyasint"` // parallel to Code
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{
		Version:   BytecodeVersion,
		Functions: make(map[string]FunctionInfo),
	}
}

// AddConstant appends a value to the constant pool and returns its index.
// The pool is append-only; equal values get separate slots.
func (p *Program) AddConstant(v Value) int {
	p.Constants = append(p.Constants, v)
	return len(p.Constants) - 1
}

// Emit appends an instruction and returns its index.
func (p *Program) Emit(op Opcode, arg int, name string, pos diag.Pos) int {
	p.Code = append(p.Code, Instruction{Op: op, Arg: arg, Name: name})
	p.SourceMap = append(p.SourceMap, pos)
	return len(p.Code) - 1
}

// EmitJump emits a jump-family instruction with a placeholder target and
// returns its index for later patching.
func (p *Program) EmitJump(op Opcode, pos diag.Pos) int {
	return p.Emit(op, placeholder, "", pos)
}

// PatchJump sets the target of the jump at index at.
func (p *Program) PatchJump(at, target int) {
	p.Code[at].Arg = target
}

// PatchJumpHere points the jump at index at to the next instruction to be
// emitted.
func (p *Program) PatchJumpHere(at int) {
	p.PatchJump(at, len(p.Code))
}

// PosAt returns the source position of the instruction at ip, or the zero
// Pos if unknown.
func (p *Program) PosAt(ip int) diag.Pos {
	if ip >= 0 && ip < len(p.SourceMap) {
		return p.SourceMap[ip]
	}
	return diag.Pos{}
}

// FunctionNames returns the function table's names in sorted order.
func (p *Program) FunctionNames() []string {
	names := make([]string, 0, len(p.Functions))
	for name := range p.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks structural invariants: known opcodes, constant indices
// and jump targets in range, function entries inside the code. A target
// equal to len(Code) is allowed and ends execution.
func (p *Program) Validate() error {
	if p.Version != BytecodeVersion {
		return diag.Errorf(diag.KindInternal, diag.Pos{}, "bytecode version %d, want %d", p.Version, BytecodeVersion)
	}
	if len(p.SourceMap) != 0 && len(p.SourceMap) != len(p.Code) {
		return diag.Errorf(diag.KindInternal, diag.Pos{}, "source map has %d entries for %d instructions", len(p.SourceMap), len(p.Code))
	}
	for ip, ins := range p.Code {
		info := GetOpcodeInfo(ins.Op)
		bad := func(format string, args ...any) error {
			return &diag.Error{
				Kind: diag.KindInternal,
				Pos:  p.PosAt(ip),
				Op:   fmt.Sprintf("%04d %s", ip, info.Name),
				Msg:  fmt.Sprintf(format, args...),
			}
		}
		if !ins.Op.IsValid() {
			return bad("unknown opcode")
		}
		switch info.Operand {
		case OperandConst:
			if ins.Arg < 0 || ins.Arg >= len(p.Constants) {
				return bad("constant index %d out of range", ins.Arg)
			}
		case OperandTarget:
			if ins.Arg < 0 || ins.Arg > len(p.Code) {
				return bad("jump target %d out of range", ins.Arg)
			}
		case OperandName:
			if ins.Name == "" {
				return bad("missing variable name")
			}
		case OperandCall:
			if ins.Name == "" || ins.Arg < 0 {
				return bad("malformed call")
			}
		}
	}
	for name, fn := range p.Functions {
		if fn.Entry < 0 || fn.Entry >= len(p.Code) {
			return diag.Errorf(diag.KindInternal, diag.Pos{}, "function %q entry %d out of range", name, fn.Entry)
		}
	}
	return nil
}
