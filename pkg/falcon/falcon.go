// Package falcon wires the pipeline together: source text is compiled
// (optionally through the program cache) and run on a fresh VM with the
// host built-ins configured from falcon.toml.
package falcon

import (
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/falcon/compiler"
	"github.com/chazu/falcon/manifest"
	"github.com/chazu/falcon/pkg/builtins"
	"github.com/chazu/falcon/pkg/bytecode"
	"github.com/chazu/falcon/pkg/store"
)

var log = commonlog.GetLogger("falcon")

// Options configures Run.
type Options struct {
	// Output receives print output. Defaults to os.Stdout.
	Output io.Writer

	// Manifest supplies runtime and built-in settings. Defaults to
	// manifest.Default().
	Manifest *manifest.Manifest

	// Store, when set, caches compiled programs.
	Store *store.Store

	// Builtins overrides the registry built from Manifest.
	Builtins bytecode.Dispatcher
}

// ConfigureLogging sets up the commonlog backend. verbose raises the
// configured verbosity to at least debug.
func ConfigureLogging(m *manifest.Manifest, verbose bool) {
	if m == nil {
		m = manifest.Default()
	}
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 2 {
		verbosity = 2
	}
	var path *string
	if f := m.LogFile(); f != "" {
		path = &f
	}
	commonlog.Configure(verbosity, path)
}

// NewBuiltins returns the host built-ins configured by m.
func NewBuiltins(m *manifest.Manifest) *builtins.Registry {
	if m == nil {
		m = manifest.Default()
	}
	return builtins.NewRegistry(builtins.WithScanConfig(builtins.ScanConfig{
		Port:        m.Builtins.ScanPort,
		Timeout:     m.Builtins.ScanTimeoutDuration,
		First:       m.Builtins.ScanFirst,
		Last:        m.Builtins.ScanLast,
		Concurrency: m.Builtins.ScanConcurrency,
	}))
}

// Compile runs the lexer, parser and compiler over source.
func Compile(source string) (*bytecode.Program, error) {
	start := time.Now()
	prog, err := bytecode.CompileSource(source)
	if err != nil {
		return nil, err
	}
	log.Debugf("compiled %d bytes into %d instructions in %s", len(source), len(prog.Code), time.Since(start))
	return prog, nil
}

// Check compiles source without running it and returns the semantic
// analyzer's warnings. known names globals bound before the program runs.
func Check(source string, known ...string) ([]compiler.Warning, error) {
	stmts, err := compiler.Parse(source)
	if err != nil {
		return nil, err
	}
	if _, err := bytecode.Compile(stmts); err != nil {
		return nil, err
	}
	return compiler.Analyze(stmts, known...), nil
}

// CompileCached is Compile with a lookup in st first. A nil store
// compiles directly. Cache failures are logged and never fail the
// compilation.
func CompileCached(source string, st *store.Store) (*bytecode.Program, error) {
	if st == nil {
		return Compile(source)
	}

	prog, ok, err := st.Get(source)
	if err != nil {
		log.Warningf("program cache: %s", err)
	} else if ok {
		return prog, nil
	}

	prog, err = Compile(source)
	if err != nil {
		return nil, err
	}
	if err := st.Put(source, prog); err != nil {
		log.Warningf("program cache: %s", err)
	}
	return prog, nil
}

// Run compiles and executes source.
func Run(source string, opts Options) error {
	prog, err := CompileCached(source, opts.Store)
	if err != nil {
		return err
	}
	return RunProgram(prog, opts)
}

// RunProgram executes an already compiled program on a fresh VM.
func RunProgram(prog *bytecode.Program, opts Options) error {
	vm := NewVM(prog, opts)
	start := time.Now()
	err := vm.Run()
	log.Debugf("executed in %s", time.Since(start))
	return err
}

// NewVM builds a VM for prog from opts.
func NewVM(prog *bytecode.Program, opts Options) *bytecode.VM {
	m := opts.Manifest
	if m == nil {
		m = manifest.Default()
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	var dispatch bytecode.Dispatcher = opts.Builtins
	if dispatch == nil {
		dispatch = NewBuiltins(m)
	}
	return bytecode.NewVM(prog,
		bytecode.WithOutput(out),
		bytecode.WithBuiltins(dispatch),
		bytecode.WithMaxCallDepth(m.Runtime.MaxCallDepth),
		bytecode.WithTrace(m.Runtime.Trace),
	)
}

// OpenStore opens the program cache configured by m, or returns nil when
// caching is disabled.
func OpenStore(m *manifest.Manifest) (*store.Store, error) {
	if m == nil || !m.Cache.Enabled {
		return nil, nil
	}
	return store.Open(m.CachePath())
}
