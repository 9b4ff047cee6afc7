package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/falcon/compiler"
	"github.com/chazu/falcon/pkg/diag"
	"github.com/chazu/falcon/pkg/falcon"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "falcon-lsp"

// builtinDocs describes the host built-ins for hover.
var builtinDocs = map[string]string{
	"network.scan":  "network.scan(subnet)\n\nProbes subnet.1 through subnet.254 and returns the responsive hosts, comma separated.",
	"crypto.random": "crypto.random(max)\n\nReturns a uniform random integer in [0, max).",
	"time.now":      "time.now()\n\nReturns the current Unix time in milliseconds.",
	"wait":          "wait(ms)\n\nBlocks for ms milliseconds.",
}

// LspServer provides diagnostics, completion and hover for Falcon
// documents.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	log     commonlog.Logger
	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		log:     commonlog.GetLogger("falcon.lsp"),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("Falcon LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	if loc := definition(uri, text, word); loc != nil {
		return loc, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(uri, text, word, params.Context.IncludeDeclaration), nil
}

// --- Document analysis ---

// declaration is a name introduced by the document.
type declaration struct {
	name   string
	kind   protocol.CompletionItemKind
	detail string
	pos    diag.Pos
}

// declarations scans the token stream for let/const/fn names and
// parameters. It stops at the first lexical error, so a document that does
// not parse still yields what precedes the error.
func declarations(text string) []declaration {
	var decls []declaration
	seen := make(map[string]bool)
	add := func(d declaration) {
		if !seen[d.name] {
			seen[d.name] = true
			decls = append(decls, d)
		}
	}

	lx := compiler.NewLexer(text)
	var prev compiler.TokenType
	for {
		tok := lx.NextToken()
		if tok.Type == compiler.TokenEOF || tok.Type == compiler.TokenError {
			break
		}
		if tok.Type == compiler.TokenIdentifier {
			switch prev {
			case compiler.TokenLet, compiler.TokenSecureLet:
				add(declaration{name: tok.Literal, kind: protocol.CompletionItemKindVariable, detail: "variable", pos: tok.Pos})
			case compiler.TokenConst, compiler.TokenSecureConst:
				add(declaration{name: tok.Literal, kind: protocol.CompletionItemKindConstant, detail: "constant", pos: tok.Pos})
			case compiler.TokenFn:
				params := functionParams(lx)
				add(declaration{
					name:   tok.Literal,
					kind:   protocol.CompletionItemKindFunction,
					detail: "fn " + tok.Literal + "(" + strings.Join(params, ", ") + ")",
					pos:    tok.Pos,
				})
				prev = compiler.TokenRParen
				continue
			}
		}
		prev = tok.Type
	}
	return decls
}

// functionParams reads "(a, b)" following a function name.
func functionParams(lx *compiler.Lexer) []string {
	var params []string
	if tok := lx.NextToken(); tok.Type != compiler.TokenLParen {
		return nil
	}
	for {
		tok := lx.NextToken()
		switch tok.Type {
		case compiler.TokenIdentifier:
			params = append(params, tok.Literal)
		case compiler.TokenComma:
		default:
			return params
		}
	}
}

// definition locates the declaration of word, or returns nil when the
// document does not declare it.
func definition(uri protocol.DocumentUri, text, word string) *protocol.Location {
	for _, d := range declarations(text) {
		if d.name == word {
			return &protocol.Location{URI: uri, Range: nameRange(d.pos, word)}
		}
	}
	return nil
}

// references finds every identifier token spelled word, stopping at the
// first lexical error like declarations does.
func references(uri protocol.DocumentUri, text, word string, includeDeclaration bool) []protocol.Location {
	var decl diag.Pos
	if !includeDeclaration {
		for _, d := range declarations(text) {
			if d.name == word {
				decl = d.pos
				break
			}
		}
	}

	locations := []protocol.Location{}
	lx := compiler.NewLexer(text)
	for {
		tok := lx.NextToken()
		if tok.Type == compiler.TokenEOF || tok.Type == compiler.TokenError {
			break
		}
		if tok.Type != compiler.TokenIdentifier || tok.Literal != word || tok.Pos == decl {
			continue
		}
		locations = append(locations, protocol.Location{URI: uri, Range: nameRange(tok.Pos, word)})
	}
	return locations
}

// nameRange spans name starting at pos.
func nameRange(pos diag.Pos, name string) protocol.Range {
	start := lspPosition(pos)
	end := start
	end.Character += protocol.UInteger(utf8.RuneCountInString(name))
	return protocol.Range{Start: start, End: end}
}

func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)
	matches := func(name string) bool {
		return strings.HasPrefix(strings.ToLower(name), lowerPrefix)
	}
	addItem := func(label string, kind protocol.CompletionItemKind, detail string) {
		insert := label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &insert,
		})
	}

	// Names declared in the document
	for _, d := range declarations(text) {
		if matches(d.name) {
			addItem(d.name, d.kind, d.detail)
		}
	}

	// Built-ins
	builtins := falcon.NewBuiltins(nil).Names()
	isBuiltin := make(map[string]bool, len(builtins))
	for _, name := range builtins {
		isBuiltin[name] = true
		if matches(name) {
			addItem(name, protocol.CompletionItemKindFunction, "built-in")
		}
	}

	// Keywords
	keywords := compiler.Keywords()
	sort.Strings(keywords)
	for _, kw := range keywords {
		if !isBuiltin[kw] && matches(kw) {
			addItem(kw, protocol.CompletionItemKindKeyword, "keyword")
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func hover(text, word string) *protocol.Hover {
	var value string
	if doc, ok := builtinDocs[word]; ok {
		value = "```falcon\n" + strings.Replace(doc, "\n\n", "\n```\n\n", 1)
	} else {
		for _, d := range declarations(text) {
			if d.name != word {
				continue
			}
			if d.kind == protocol.CompletionItemKindFunction {
				value = fmt.Sprintf("```falcon\n%s\n```\n\nDefined at line %d", d.detail, d.pos.Line)
			} else {
				value = fmt.Sprintf("**%s** %s\n\nDeclared at line %d", d.name, d.detail, d.pos.Line)
			}
			break
		}
	}
	if value == "" {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// --- Diagnostics ---

// diagnose compiles text and converts a failure into an LSP diagnostic.
func diagnose(text string) []protocol.Diagnostic {
	source := lspName
	warnings, err := falcon.Check(text)
	if err == nil {
		diagnostics := []protocol.Diagnostic{}
		severity := protocol.DiagnosticSeverityWarning
		for _, w := range warnings {
			start := lspPosition(w.Pos)
			end := start
			end.Character++
			diagnostics = append(diagnostics, protocol.Diagnostic{
				Range:    protocol.Range{Start: start, End: end},
				Severity: &severity,
				Source:   &source,
				Message:  w.Msg,
			})
		}
		return diagnostics
	}

	msg := err.Error()
	var start protocol.Position
	var de *diag.Error
	if errors.As(err, &de) {
		msg = de.Kind.String() + " error: " + de.Msg
		start = lspPosition(de.Pos)
	}
	end := start
	end.Character++

	severity := protocol.DiagnosticSeverityError
	return []protocol.Diagnostic{{
		Range:    protocol.Range{Start: start, End: end},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}}
}

// lspPosition converts a 1-based source position to a 0-based LSP one.
func lspPosition(pos diag.Pos) protocol.Position {
	if !pos.IsValid() {
		return protocol.Position{}
	}
	return protocol.Position{
		Line:      protocol.UInteger(pos.Line - 1),
		Character: protocol.UInteger(max(pos.Column-1, 0)),
	}
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(text),
	})
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
// Dots are kept so that "crypto.r" completes to a built-in.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if isWordChar(ch) || ch == '.' {
			start--
		} else {
			break
		}
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor, including a
// dotted built-in name.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if isWordChar(ch) || ch == '.' {
			start--
		} else {
			break
		}
	}

	// Find end
	end := col
	for end < len(line) {
		ch := rune(line[end])
		if isWordChar(ch) || ch == '.' {
			end++
		} else {
			break
		}
	}

	if start == end {
		return ""
	}

	return strings.Trim(line[start:end], ".")
}

func boolPtr(b bool) *bool {
	return &b
}
