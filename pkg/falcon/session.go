package falcon

import (
	"io"
	"sort"
	"sync"

	"github.com/chazu/falcon/compiler"
	"github.com/chazu/falcon/pkg/bytecode"
)

// Session evaluates a sequence of snippets against shared state: globals
// survive between calls to Eval, and functions defined by earlier snippets
// stay callable. A later definition of the same name replaces the earlier
// one. Sessions back the REPL and the server's session mode.
type Session struct {
	mu    sync.Mutex
	vm    *bytecode.VM
	funcs []*compiler.FuncDef
	opts  Options
}

// NewSession creates an empty session.
func NewSession(opts Options) *Session {
	return &Session{
		vm:   NewVM(bytecode.NewProgram(), opts),
		opts: opts,
	}
}

// Eval compiles and runs one snippet, writing print output to out. On a
// lexical, syntax or compile error nothing runs and the session is
// unchanged. On a runtime error, assignments made before the failure are
// kept.
func (s *Session) Eval(source string, out io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts, err := compiler.Parse(source)
	if err != nil {
		return err
	}
	program, funcs := s.assemble(stmts)

	prog, err := bytecode.Compile(program)
	if err != nil {
		return err
	}

	s.funcs = funcs
	if out == nil {
		out = io.Discard
	}
	s.vm.SetOutput(out)
	s.vm.Load(prog)
	return s.vm.Run()
}

// Check compiles source against the session's state without running it
// and returns the semantic analyzer's warnings.
func (s *Session) Check(source string) ([]compiler.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmts, err := compiler.Parse(source)
	if err != nil {
		return nil, err
	}
	program, _ := s.assemble(stmts)
	if _, err := bytecode.Compile(program); err != nil {
		return nil, err
	}
	return compiler.Analyze(stmts, s.vm.GlobalNames()...), nil
}

// assemble prepends the session's functions to stmts, leaving out those
// stmts redefines. It returns the program and the resulting function set.
func (s *Session) assemble(stmts []compiler.Stmt) ([]compiler.Stmt, []*compiler.FuncDef) {
	defined := make(map[string]bool)
	var newFuncs []*compiler.FuncDef
	for _, st := range stmts {
		if fd, ok := st.(*compiler.FuncDef); ok {
			defined[fd.Name] = true
			newFuncs = append(newFuncs, fd)
		}
	}

	var kept []*compiler.FuncDef
	program := make([]compiler.Stmt, 0, len(s.funcs)+len(stmts))
	for _, fd := range s.funcs {
		if !defined[fd.Name] {
			kept = append(kept, fd)
			program = append(program, fd)
		}
	}
	program = append(program, stmts...)
	return program, append(kept, newFuncs...)
}

// Names returns the globals and functions the session has defined, for
// completion.
func (s *Session) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var names []string
	for _, n := range s.vm.GlobalNames() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, fd := range s.funcs {
		if !seen[fd.Name] {
			seen[fd.Name] = true
			names = append(names, fd.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Functions returns the signatures of the session's functions.
func (s *Session) Functions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sigs := make([]string, len(s.funcs))
	for i, fd := range s.funcs {
		sigs[i] = compiler.Signature(fd)
	}
	sort.Strings(sigs)
	return sigs
}
