// Package bytecode compiles a Falcon AST into a flat instruction stream and
// executes it on a stack-based virtual machine.
//
// # Architecture Overview
//
//   - Opcodes: a small closed instruction set covering constants, variables,
//     arithmetic, comparison, logic, output, jumps, counted loops and calls.
//     Each opcode has an OpcodeInfo entry describing its stack effect and
//     operand.
//
//   - Program: the compiled unit. It holds the constant pool, the
//     instruction array, the function table (name to parameters and entry
//     point) and a source map from instruction index to source position.
//     Programs serialize to deterministic CBOR images (".fbc").
//
//   - Compiler: a single pass over the AST. Forward jumps are emitted with a
//     placeholder target and backpatched once the destination is known.
//     Function bodies are emitted inline behind a guard jump so top-level
//     execution never falls into them.
//
//   - VM: executes a Program with an operand stack, a global environment,
//     per-call environments, a call-frame stack and a loop-frame stack.
//     Calls to names that are not user functions go to a Dispatcher that
//     the host supplies (see package builtins).
//
// # Scoping
//
// Top-level code reads and writes the global environment. A function call
// gets a fresh environment holding its parameters; reads fall back to the
// globals, writes always land in the call's own environment.
//
// # Errors
//
// Every failure is a *diag.Error. Compile errors carry the offending node's
// position; runtime errors also carry the failing instruction and its
// source position. Malformed programs (bad targets, stack underflow,
// unbalanced loop frames) are reported as internal errors rather than
// panics.
package bytecode
