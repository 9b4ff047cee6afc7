package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop and discard top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpLoadConst Opcode = 0x10 // Push constant: Arg = pool index

	// ========================================================================
	// Variables (0x20-0x2F)
	// ========================================================================

	OpLoadVar     Opcode = 0x20 // Push variable: Name
	OpStoreVar    Opcode = 0x21 // Pop into variable: Name
	OpDefineConst Opcode = 0x22 // Pop into variable and mark it immutable: Name

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient (a / b where b is TOS)
	OpNeg Opcode = 0x54 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x6F)
	// ========================================================================

	OpEq Opcode = 0x60 // Pop two, push 1 if equal else 0
	OpNe Opcode = 0x61 // Pop two, push 1 if not equal else 0
	OpLt Opcode = 0x62 // Pop two, push 1 if a < b else 0
	OpLe Opcode = 0x63 // Pop two, push 1 if a <= b else 0
	OpGt Opcode = 0x64 // Pop two, push 1 if a > b else 0
	OpGe Opcode = 0x65 // Pop two, push 1 if a >= b else 0

	// ========================================================================
	// Logical (0x70-0x7F)
	// ========================================================================

	OpNot Opcode = 0x70 // Pop one, push logical not
	OpAnd Opcode = 0x71 // Pop two, push logical and (both evaluated)
	OpOr  Opcode = 0x72 // Pop two, push logical or (both evaluated)

	// ========================================================================
	// Output (0x80-0x8F)
	// ========================================================================

	OpPrint Opcode = 0x80 // Pop one and write it followed by a newline

	// ========================================================================
	// Control flow (0x90-0x9F)
	// ========================================================================

	OpJump        Opcode = 0x90 // Jump: Arg = target
	OpJumpIfFalse Opcode = 0x91 // Pop condition, jump if zero: Arg = target
	OpRepeatStart Opcode = 0x92 // Pop count, push loop frame or skip: Arg = target after loop
	OpRepeatEnd   Opcode = 0x93 // Decrement loop frame, jump back or pop it
	OpLoopExit    Opcode = 0x94 // Pop loop frame and jump: Arg = target

	// ========================================================================
	// Calls (0xA0-0xAF)
	// ========================================================================

	OpCall   Opcode = 0xA0 // Call function: Name, Arg = argc
	OpReturn Opcode = 0xA1 // Return from call or end program: Arg = 1 if a value is on the stack
)

// OperandKind describes how an instruction's Arg and Name fields are used.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota
	OperandConst              // Arg indexes the constant pool
	OperandName               // Name holds a variable name
	OperandTarget             // Arg is an absolute instruction index
	OperandCall               // Name is the callee, Arg the argument count
	OperandFlag               // Arg is 0 or 1
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string      // Human-readable name
	StackPop  int         // Number of values popped (-1 = variable)
	StackPush int         // Number of values pushed
	Operand   OperandKind // Operand layout
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop: {"NOP", 0, 0, OperandNone},
	OpPop: {"POP", 1, 0, OperandNone},

	// Constants
	OpLoadConst: {"LOAD_CONST", 0, 1, OperandConst},

	// Variables
	OpLoadVar:     {"LOAD_VAR", 0, 1, OperandName},
	OpStoreVar:    {"STORE_VAR", 1, 0, OperandName},
	OpDefineConst: {"DEFINE_CONST", 1, 0, OperandName},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, OperandNone},
	OpSub: {"SUB", 2, 1, OperandNone},
	OpMul: {"MUL", 2, 1, OperandNone},
	OpDiv: {"DIV", 2, 1, OperandNone},
	OpNeg: {"NEG", 1, 1, OperandNone},

	// Comparison
	OpEq: {"EQ", 2, 1, OperandNone},
	OpNe: {"NE", 2, 1, OperandNone},
	OpLt: {"LT", 2, 1, OperandNone},
	OpLe: {"LE", 2, 1, OperandNone},
	OpGt: {"GT", 2, 1, OperandNone},
	OpGe: {"GE", 2, 1, OperandNone},

	// Logical
	OpNot: {"NOT", 1, 1, OperandNone},
	OpAnd: {"AND", 2, 1, OperandNone},
	OpOr:  {"OR", 2, 1, OperandNone},

	// Output
	OpPrint: {"PRINT", 1, 0, OperandNone},

	// Control flow
	OpJump:        {"JUMP", 0, 0, OperandTarget},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 0, OperandTarget},
	OpRepeatStart: {"REPEAT_START", 1, 0, OperandTarget},
	OpRepeatEnd:   {"REPEAT_END", 0, 0, OperandNone},
	OpLoopExit:    {"LOOP_EXIT", 0, 0, OperandTarget},

	// Calls
	OpCall:   {"CALL", -1, 1, OperandCall}, // Pops argc args
	OpReturn: {"RETURN", -1, 0, OperandFlag},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsValid reports whether op is a known opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsJump returns true if the opcode's Arg is a jump target.
func (op Opcode) IsJump() bool {
	return GetOpcodeInfo(op).Operand == OperandTarget
}

// AllOpcodes returns all defined opcodes, in no particular order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		ops = append(ops, op)
	}
	return ops
}
