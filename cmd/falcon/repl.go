package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/falcon/compiler"
	"github.com/chazu/falcon/pkg/falcon"
)

// runREPL reads snippets from stdin and evaluates them in one session.
// Input is buffered until its braces balance.
func runREPL(opts falcon.Options) {
	fmt.Println("Falcon REPL (type 'exit' to quit, ':help' for commands)")
	fmt.Println()
	repl(os.Stdin, os.Stdout, opts)
}

func repl(in io.Reader, out io.Writer, opts falcon.Options) {
	session := falcon.NewSession(opts)
	scanner := bufio.NewScanner(in)
	lineBuffer := strings.Builder{}

	for {
		if lineBuffer.Len() == 0 {
			fmt.Fprint(out, ">> ")
		} else {
			fmt.Fprint(out, ".. ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if lineBuffer.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "exit" || trimmed == "quit" {
				break
			}
			if strings.HasPrefix(trimmed, ":") {
				handleREPLCommand(session, trimmed, out)
				continue
			}
		}

		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)

		input := lineBuffer.String()
		if !snippetComplete(input) {
			continue
		}
		lineBuffer.Reset()
		if strings.TrimSpace(input) == "" {
			continue
		}
		if err := session.Eval(input, out); err != nil {
			fmt.Fprintln(out, err)
		}
	}
	fmt.Fprintln(out)
}

// snippetComplete reports whether input has no unclosed braces. Lexical
// errors count as complete so the session can report them.
func snippetComplete(input string) bool {
	depth := 0
	l := compiler.NewLexer(input)
	for {
		tok := l.NextToken()
		switch tok.Type {
		case compiler.TokenEOF, compiler.TokenError:
			return depth <= 0 || tok.Type == compiler.TokenError
		case compiler.TokenLBrace:
			depth++
		case compiler.TokenRBrace:
			depth--
		}
	}
}

func handleREPLCommand(session *falcon.Session, cmd string, out io.Writer) {
	switch strings.Fields(cmd)[0] {
	case ":help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  :names   list defined globals and functions")
		fmt.Fprintln(out, "  :fns     list function signatures")
		fmt.Fprintln(out, "  :help    show this help")
		fmt.Fprintln(out, "  exit     leave the REPL")
	case ":names":
		for _, n := range session.Names() {
			fmt.Fprintln(out, n)
		}
	case ":fns":
		for _, sig := range session.Functions() {
			fmt.Fprintln(out, "fn "+sig)
		}
	default:
		fmt.Fprintf(out, "unknown command %s (try :help)\n", cmd)
	}
}
