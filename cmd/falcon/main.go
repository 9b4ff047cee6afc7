// Falcon CLI - runs, compiles and serves FalconCore programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/falcon/compiler"
	"github.com/chazu/falcon/manifest"
	"github.com/chazu/falcon/pkg/bytecode"
	"github.com/chazu/falcon/pkg/falcon"
	"github.com/chazu/falcon/server"
)

// ImageExt is the extension of compiled program images.
const ImageExt = ".fbc"

var log = commonlog.GetLogger("falcon.cli")

func main() {
	verbose := flag.Bool("v", false, "Verbose output (debug logging)")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	disasm := flag.Bool("disasm", false, "Print the bytecode listing instead of running")
	tokens := flag.Bool("tokens", false, "Print the token stream instead of running")
	check := flag.Bool("check", false, "Compile and print warnings instead of running")
	output := flag.String("o", "", "Compile to a bytecode image at this path instead of running")
	configPath := flag.String("config", "", "Path to falcon.toml (default: search upward from the working directory)")
	noCache := flag.Bool("no-cache", false, "Bypass the program cache")
	serveMode := flag.Bool("serve", false, "Start evaluation server (gRPC + Connect HTTP/JSON)")
	servePort := flag.Int("port", 4567, "Evaluation server port (used with --serve)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: falcon [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a FalconCore script (.fc) or compiled image (%s).\n\n", ImageExt)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  falcon main.fc                 # Run a script\n")
		fmt.Fprintf(os.Stderr, "  falcon -disasm main.fc         # Show bytecode\n")
		fmt.Fprintf(os.Stderr, "  falcon -check main.fc          # Report likely mistakes\n")
		fmt.Fprintf(os.Stderr, "  falcon -o main.fbc main.fc     # Compile to an image\n")
		fmt.Fprintf(os.Stderr, "  falcon main.fbc                # Run an image\n")
		fmt.Fprintf(os.Stderr, "  falcon                         # Run the project entry, or start the REPL\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  falcon --serve --port 8080     # Evaluation server on :8080\n")
		fmt.Fprintf(os.Stderr, "  falcon --lsp                   # Language server on stdio\n")
	}
	flag.Parse()

	m, err := loadManifest(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	falcon.ConfigureLogging(m, *verbose)

	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Language server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	opts := falcon.Options{Manifest: m}
	if !*noCache {
		st, err := falcon.OpenStore(m)
		if err != nil {
			log.Warningf("program cache disabled: %s", err)
		} else if st != nil {
			defer st.Close()
			opts.Store = st
		}
	}

	if *serveMode {
		addr := fmt.Sprintf(":%d", *servePort)
		srv := server.New(server.WithOptions(opts))
		defer srv.Stop()
		if err := srv.ListenAndServe(addr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	path := flag.Arg(0)
	if path == "" {
		path = m.EntryPath()
	}
	if *interactive || path == "" {
		runREPL(opts)
		return
	}

	if *check {
		if err := checkPath(path, os.Stdout); err != nil {
			reportError(err)
			os.Exit(1)
		}
		return
	}

	if err := runPath(path, *tokens, *disasm, *output, opts); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// loadManifest loads the manifest named by -config, or searches upward
// from the working directory. Without one, defaults are used.
func loadManifest(configPath string) (*manifest.Manifest, error) {
	if configPath != "" {
		return manifest.LoadFile(configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

// runPath handles a single script or image according to the mode flags.
func runPath(path string, tokens, disasm bool, output string, opts falcon.Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.EqualFold(filepath.Ext(path), ImageExt) {
		if tokens {
			return fmt.Errorf("%s is a compiled image; -tokens needs source", path)
		}
		prog, err := bytecode.UnmarshalImage(data)
		if err != nil {
			return err
		}
		log.Debugf("loaded image %s (%d instructions)", path, len(prog.Code))
		if disasm {
			fmt.Print(prog.DisassembleWithName(path))
			return nil
		}
		return falcon.RunProgram(prog, opts)
	}

	source := string(data)
	if tokens {
		return printTokens(source)
	}

	prog, err := falcon.CompileCached(source, opts.Store)
	if err != nil {
		return err
	}
	switch {
	case disasm:
		fmt.Print(prog.DisassembleWithName(path))
		return nil
	case output != "":
		return writeImage(prog, output)
	}
	return falcon.RunProgram(prog, opts)
}

// checkPath compiles a script and prints the analyzer's warnings.
func checkPath(path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	warnings, err := falcon.Check(string(data))
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(out, "%s:%d:%d: %s\n", path, w.Pos.Line, w.Pos.Column, w.Msg)
	}
	return nil
}

// printTokens prints one token per line with its position.
func printTokens(source string) error {
	toks, err := compiler.Tokenize(source)
	for _, tok := range toks {
		fmt.Printf("%-8s %s\n", tok.Pos, tok)
	}
	return err
}

// writeImage serializes prog to path.
func writeImage(prog *bytecode.Program, path string) error {
	data, err := bytecode.MarshalImage(prog)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes)", path, len(data))
	return nil
}

// reportError prints err to stderr. Pipeline errors already carry their
// kind and position.
func reportError(err error) {
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(os.Stderr, err)
}
