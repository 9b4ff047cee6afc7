package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeNamesUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, ok := seen[name]; ok {
			t.Errorf("opcodes 0x%02X and 0x%02X share name %q", byte(prev), byte(op), name)
		}
		seen[name] = op
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpPop, "POP"},
		{OpLoadConst, "LOAD_CONST"},
		{OpLoadVar, "LOAD_VAR"},
		{OpStoreVar, "STORE_VAR"},
		{OpDefineConst, "DEFINE_CONST"},
		{OpAdd, "ADD"},
		{OpDiv, "DIV"},
		{OpGe, "GE"},
		{OpNot, "NOT"},
		{OpPrint, "PRINT"},
		{OpJumpIfFalse, "JUMP_IF_FALSE"},
		{OpRepeatStart, "REPEAT_START"},
		{OpRepeatEnd, "REPEAT_END"},
		{OpLoopExit, "LOOP_EXIT"},
		{OpCall, "CALL"},
		{OpReturn, "RETURN"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xEE) // Not defined
	if got := op.String(); got != "UNKNOWN(0xEE)" {
		t.Errorf("String() = %q, want UNKNOWN(0xEE)", got)
	}
	if op.IsValid() {
		t.Error("IsValid() = true for undefined opcode")
	}
}

func TestOpcodeIsJump(t *testing.T) {
	jumps := map[Opcode]bool{
		OpJump:        true,
		OpJumpIfFalse: true,
		OpRepeatStart: true,
		OpLoopExit:    true,
	}
	for _, op := range AllOpcodes() {
		if got := op.IsJump(); got != jumps[op] {
			t.Errorf("%s.IsJump() = %v, want %v", op, got, jumps[op])
		}
	}
}
