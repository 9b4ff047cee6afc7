// Package diag defines the structured error type shared by every phase of
// the Falcon pipeline. Lexing, parsing, compiling and execution all report
// failures as *Error values carrying a kind, a message and, where known, the
// source position that produced them.
package diag

import (
	"errors"
	"fmt"
)

// Pos is a 1-based source location. The zero value means "unknown".
type Pos struct {
	Line   int
	Column int
}

// IsValid reports whether the position refers to a real source location.
func (p Pos) IsValid() bool {
	return p.Line > 0
}

func (p Pos) String() string {
	if !p.IsValid() {
		return "-"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Kind classifies an error by the pipeline phase that raised it.
type Kind int

const (
	KindUnknown Kind = iota
	KindLexical
	KindSyntax
	KindCompile
	KindRuntime
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:  "unknown",
	KindLexical:  "lexical",
	KindSyntax:   "syntax",
	KindCompile:  "compile",
	KindRuntime:  "runtime",
	KindInternal: "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a pipeline failure.
type Error struct {
	Kind Kind
	Msg  string
	Pos  Pos

	// Op names the failing instruction for runtime and internal errors,
	// e.g. "0007 CALL". Empty for front-end errors.
	Op string
}

func (e *Error) Error() string {
	prefix := e.Kind.String() + " error"
	if e.Pos.IsValid() {
		prefix += " at " + e.Pos.String()
	}
	if e.Op != "" {
		prefix += " [" + e.Op + "]"
	}
	return prefix + ": " + e.Msg
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, pos Pos, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries a diag error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
