package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Falcon Bytecode v%d\n", p.Version))
	sb.WriteString(fmt.Sprintf("; %d instructions, %d constants, %d functions\n",
		len(p.Code), len(p.Constants), len(p.Functions)))
	sb.WriteString("\n")

	// Constants
	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range p.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, displayValue(v)))
		}
		sb.WriteString("\n")
	}

	// Functions
	entries := make(map[int]string, len(p.Functions))
	if len(p.Functions) > 0 {
		sb.WriteString("; Functions:\n")
		for _, fname := range p.FunctionNames() {
			fn := p.Functions[fname]
			entries[fn.Entry] = fname
			sb.WriteString(fmt.Sprintf(";   %s(%s) @ %04d\n", fname, strings.Join(fn.Params, ", "), fn.Entry))
		}
		sb.WriteString("\n")
	}

	// Code
	for ip := range p.Code {
		if fname, ok := entries[ip]; ok {
			sb.WriteString(fname + ":\n")
		}
		sb.WriteString(p.DisassembleInstruction(ip))
		sb.WriteString("\n")
	}

	return sb.String()
}

// DisassembleInstruction renders the instruction at ip on one line:
// index, source position, opcode and operand.
func (p *Program) DisassembleInstruction(ip int) string {
	if ip < 0 || ip >= len(p.Code) {
		return fmt.Sprintf("%04d  <out of range>", ip)
	}
	ins := p.Code[ip]
	line := fmt.Sprintf("%04d  %-7s %-14s %s", ip, p.PosAt(ip), ins.Op, p.operandString(ins))
	return strings.TrimRight(line, " ")
}

func (p *Program) operandString(ins Instruction) string {
	switch GetOpcodeInfo(ins.Op).Operand {
	case OperandConst:
		if ins.Arg >= 0 && ins.Arg < len(p.Constants) {
			return fmt.Sprintf("#%d %s", ins.Arg, displayValue(p.Constants[ins.Arg]))
		}
		return fmt.Sprintf("#%d <invalid>", ins.Arg)
	case OperandName:
		return ins.Name
	case OperandTarget:
		return fmt.Sprintf("-> %04d", ins.Arg)
	case OperandCall:
		return fmt.Sprintf("%s/%d", ins.Name, ins.Arg)
	case OperandFlag:
		if ins.Arg == 1 {
			return "value"
		}
	}
	return ""
}

// displayValue truncates long strings and escapes special characters.
func displayValue(v Value) string {
	if v.Kind != KindString {
		return v.GoString()
	}
	s := v.Str
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return fmt.Sprintf("%q", s)
}
