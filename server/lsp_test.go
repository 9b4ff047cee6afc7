package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "print total", protocol.Position{Line: 0, Character: 11}, "total"},
		{"at start", "pri", protocol.Position{Line: 0, Character: 3}, "pri"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "let a = 1\nlet b = 2\nprin", protocol.Position{Line: 2, Character: 4}, "prin"},
		{"dotted built-in", "print crypto.ra", protocol.Position{Line: 0, Character: 15}, "crypto.ra"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column beyond line", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
	}
	for _, tc := range tests {
		if got := extractPrefix(tc.text, tc.pos); got != tc.want {
			t.Errorf("%s: extractPrefix = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"at end", "hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first\nsquare(2)", protocol.Position{Line: 1, Character: 3}, "square"},
		{"underscore", "my_var", protocol.Position{Line: 0, Character: 3}, "my_var"},
		{"built-in", "print time.now()", protocol.Position{Line: 0, Character: 8}, "time.now"},
		{"trailing dot", "x.", protocol.Position{Line: 0, Character: 1}, "x"},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tc := range tests {
		if got := extractWord(tc.text, tc.pos); got != tc.want {
			t.Errorf("%s: extractWord = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestBoolPtr(t *testing.T) {
	if p := boolPtr(true); p == nil || !*p {
		t.Error("boolPtr(true) did not point at true")
	}
	if p := boolPtr(false); p == nil || *p {
		t.Error("boolPtr(false) did not point at false")
	}
}

// ---------------------------------------------------------------------------
// Document analysis
// ---------------------------------------------------------------------------

const sampleDoc = `secure const limit = 10
let total = 0
fn add(a, b) {
    return a + b
}
repeat limit { total = add(total, 1) }
`

func TestDeclarations(t *testing.T) {
	decls := declarations(sampleDoc)
	got := make(map[string]declaration)
	for _, d := range decls {
		got[d.name] = d
	}

	if d, ok := got["limit"]; !ok || d.kind != protocol.CompletionItemKindConstant || d.pos.Line != 1 {
		t.Errorf("limit = %+v", d)
	}
	if d, ok := got["total"]; !ok || d.kind != protocol.CompletionItemKindVariable || d.pos.Line != 2 {
		t.Errorf("total = %+v", d)
	}
	if d, ok := got["add"]; !ok || d.detail != "fn add(a, b)" || d.pos.Line != 3 {
		t.Errorf("add = %+v", d)
	}
	if len(decls) != 3 {
		t.Errorf("got %d declarations, want 3: %+v", len(decls), decls)
	}
}

func TestDeclarationsStopAtLexicalError(t *testing.T) {
	decls := declarations("let ok = 1\nlet s = \"open\nlet later = 2")
	if len(decls) != 2 || decls[0].name != "ok" || decls[1].name != "s" {
		t.Errorf("declarations = %+v", decls)
	}
}

func TestDefinition(t *testing.T) {
	const uri = protocol.DocumentUri("file:///sample.fc")

	loc := definition(uri, sampleDoc, "add")
	if loc == nil {
		t.Fatal("definition(add) = nil")
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 2, Character: 3},
		End:   protocol.Position{Line: 2, Character: 6},
	}
	if loc.URI != uri || loc.Range != want {
		t.Errorf("definition(add) = %+v, want %+v", loc, want)
	}

	if loc := definition(uri, sampleDoc, "limit"); loc == nil || loc.Range.Start.Line != 0 {
		t.Errorf("definition(limit) = %+v", loc)
	}
	if loc := definition(uri, sampleDoc, "nowhere"); loc != nil {
		t.Errorf("definition(nowhere) = %+v, want nil", loc)
	}
}

func TestReferences(t *testing.T) {
	const uri = protocol.DocumentUri("file:///sample.fc")

	starts := func(locs []protocol.Location) []protocol.Position {
		var out []protocol.Position
		for _, l := range locs {
			out = append(out, l.Range.Start)
		}
		return out
	}

	all := references(uri, sampleDoc, "total", true)
	want := []protocol.Position{
		{Line: 1, Character: 4},
		{Line: 5, Character: 15},
		{Line: 5, Character: 27},
	}
	if got := starts(all); len(got) != len(want) {
		t.Fatalf("references(total) = %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("reference %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
	if all[0].Range.End.Character != 9 {
		t.Errorf("reference end = %d, want 9", all[0].Range.End.Character)
	}

	uses := references(uri, sampleDoc, "total", false)
	if len(uses) != 2 || uses[0].Range.Start.Line != 5 {
		t.Errorf("references without declaration = %v", starts(uses))
	}

	if got := references(uri, sampleDoc, "missing", true); len(got) != 0 {
		t.Errorf("references(missing) = %v, want none", starts(got))
	}
}

func labels(items []protocol.CompletionItem) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Label)
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestComplete(t *testing.T) {
	tests := []struct {
		prefix  string
		want    []string
		notWant []string
	}{
		{"to", []string{"total"}, []string{"limit"}},
		{"ad", []string{"add"}, nil},
		{"crypto", []string{"crypto.random"}, nil},
		{"rep", []string{"repeat"}, nil},
		{"secure", []string{"secure let", "secure const"}, nil},
		{"WAI", []string{"wait"}, nil},
	}
	for _, tc := range tests {
		got := labels(complete(sampleDoc, tc.prefix))
		for _, w := range tc.want {
			if !contains(got, w) {
				t.Errorf("complete(%q) = %v, missing %q", tc.prefix, got, w)
			}
		}
		for _, w := range tc.notWant {
			if contains(got, w) {
				t.Errorf("complete(%q) = %v, should not offer %q", tc.prefix, got, w)
			}
		}
	}

	// A built-in is offered once, not again as a keyword.
	waits := 0
	for _, l := range labels(complete(sampleDoc, "wait")) {
		if l == "wait" {
			waits++
		}
	}
	if waits != 1 {
		t.Errorf("wait offered %d times", waits)
	}
}

func TestHover(t *testing.T) {
	h := hover(sampleDoc, "add")
	if h == nil {
		t.Fatal("no hover for add")
	}
	content := h.Contents.(protocol.MarkupContent)
	if !strings.Contains(content.Value, "fn add(a, b)") || !strings.Contains(content.Value, "line 3") {
		t.Errorf("hover(add) = %q", content.Value)
	}

	h = hover(sampleDoc, "limit")
	if h == nil || !strings.Contains(h.Contents.(protocol.MarkupContent).Value, "constant") {
		t.Errorf("hover(limit) = %v", h)
	}

	h = hover(sampleDoc, "crypto.random")
	if h == nil || !strings.Contains(h.Contents.(protocol.MarkupContent).Value, "[0, max)") {
		t.Errorf("hover(crypto.random) = %v", h)
	}

	if h := hover(sampleDoc, "unknown"); h != nil {
		t.Errorf("hover(unknown) = %v, want nil", h)
	}
}

func TestDiagnose(t *testing.T) {
	if d := diagnose(sampleDoc); len(d) != 0 {
		t.Errorf("valid document has diagnostics: %+v", d)
	}

	tests := []struct {
		text string
		line uint32
		char uint32
		msg  string
	}{
		{"let x = 1\nprint \"open", 1, 6, "lexical error: unterminated string"},
		{"let x = 1\nlet = 2", 1, 4, "syntax error"},
		{"print missing()", 0, 6, `compile error: undefined function "missing"`},
	}
	for _, tc := range tests {
		d := diagnose(tc.text)
		if len(d) != 1 {
			t.Errorf("diagnose(%q) = %d diagnostics, want 1", tc.text, len(d))
			continue
		}
		if d[0].Range.Start.Line != tc.line || d[0].Range.Start.Character != tc.char {
			t.Errorf("diagnose(%q) at %d:%d, want %d:%d", tc.text,
				d[0].Range.Start.Line, d[0].Range.Start.Character, tc.line, tc.char)
		}
		if !strings.Contains(d[0].Message, tc.msg) {
			t.Errorf("diagnose(%q) message = %q, want %q", tc.text, d[0].Message, tc.msg)
		}
	}
}

func TestDiagnoseWarnings(t *testing.T) {
	d := diagnose("fn f() {\n    return 1\n    print 2\n}\nprint ghost")
	if len(d) != 2 {
		t.Fatalf("got %d diagnostics, want 2: %+v", len(d), d)
	}
	for _, item := range d {
		if item.Severity == nil || *item.Severity != protocol.DiagnosticSeverityWarning {
			t.Errorf("diagnostic %q is not a warning", item.Message)
		}
	}
	if d[0].Range.Start.Line != 2 || !strings.Contains(d[0].Message, "unreachable code after return") {
		t.Errorf("first diagnostic = %+v", d[0])
	}
	if d[1].Range.Start.Line != 4 || d[1].Range.Start.Character != 6 {
		t.Errorf("second diagnostic at %d:%d, want 4:6", d[1].Range.Start.Line, d[1].Range.Start.Character)
	}
}
