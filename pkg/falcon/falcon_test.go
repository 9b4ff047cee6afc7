package falcon

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/falcon/manifest"
	"github.com/chazu/falcon/pkg/builtins"
	"github.com/chazu/falcon/pkg/bytecode"
	"github.com/chazu/falcon/pkg/diag"
	"github.com/chazu/falcon/pkg/store"
)

func TestRun(t *testing.T) {
	var out bytes.Buffer
	err := Run("fn double(n) { return n * 2 }\nprint double(21)", Options{Output: &out})
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunReportsStage(t *testing.T) {
	tests := []struct {
		src  string
		kind diag.Kind
	}{
		{`print "open`, diag.KindLexical},
		{"repeat 3 {", diag.KindSyntax},
		{"print nothing()", diag.KindCompile},
		{"print 5 / 0", diag.KindRuntime},
	}
	for _, tc := range tests {
		err := Run(tc.src, Options{Output: &bytes.Buffer{}})
		if got := diag.KindOf(err); got != tc.kind {
			t.Errorf("Run(%q) kind = %v, want %v (err: %v)", tc.src, got, tc.kind, err)
		}
	}
}

func TestRunUsesManifest(t *testing.T) {
	m := manifest.Default()
	m.Runtime.MaxCallDepth = 3
	err := Run("fn f() { return f() }\nf()", Options{Output: &bytes.Buffer{}, Manifest: m})
	if err == nil || !strings.Contains(err.Error(), "max depth 3") {
		t.Errorf("err = %v, want a depth-3 overflow", err)
	}
}

func TestRunCustomBuiltins(t *testing.T) {
	reg := builtins.NewRegistry()
	reg.Register("time.now", 0, func([]bytecode.Value) (bytecode.Value, error) {
		return bytecode.IntValue(7), nil
	})
	var out bytes.Buffer
	if err := Run("print time.now()", Options{Output: &out, Builtins: reg}); err != nil {
		t.Fatal(err)
	}
	if out.String() != "7\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestCompileCached(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	src := "let x = 3\nprint x * x"
	first, err := CompileCached(src, st)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Get(src); !ok {
		t.Fatal("program not cached after first compile")
	}
	second, err := CompileCached(src, st)
	if err != nil {
		t.Fatal(err)
	}
	if first.Disassemble() != second.Disassemble() {
		t.Error("cached program differs from the compiled one")
	}

	if _, err := CompileCached("let = 1", st); !diag.Is(err, diag.KindSyntax) {
		t.Errorf("err = %v, want a syntax error", err)
	}
	if n, _ := st.Len(); n != 1 {
		t.Errorf("cache holds %d programs, want 1", n)
	}
}

func TestOpenStore(t *testing.T) {
	m := manifest.Default()
	if st, err := OpenStore(m); st != nil || err != nil {
		t.Errorf("disabled cache: store %v, err %v", st, err)
	}

	m.Cache.Enabled = true
	m.Cache.Path = filepath.Join(t.TempDir(), "c.db")
	st, err := OpenStore(m)
	if err != nil || st == nil {
		t.Fatalf("OpenStore: %v", err)
	}
	st.Close()
}

func TestNewBuiltinsFromManifest(t *testing.T) {
	m := manifest.Default()
	m.Builtins.ScanFirst = 5
	m.Builtins.ScanLast = 4
	m.Builtins.ScanTimeoutDuration = time.Millisecond
	reg := NewBuiltins(m)
	if _, err := reg.Call("network.scan", []bytecode.Value{bytecode.StringValue("10.0.0")}); err == nil {
		t.Error("expected the manifest's inverted scan range to be rejected")
	}
}

func TestCheck(t *testing.T) {
	warnings, err := Check("print total", "total")
	if err != nil || len(warnings) != 0 {
		t.Errorf("Check with known global = %v, %v", warnings, err)
	}
	warnings, err = Check("print total")
	if err != nil || len(warnings) != 1 {
		t.Errorf("Check = %v, %v, want one warning", warnings, err)
	}
	if _, err := Check("let = 1"); !diag.Is(err, diag.KindSyntax) {
		t.Errorf("err = %v, want syntax error", err)
	}
}
