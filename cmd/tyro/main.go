package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/xplshn/tyro/pkg/asm"
	"github.com/xplshn/tyro/pkg/ast"
	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/cli"
	"github.com/xplshn/tyro/pkg/compiler"
	"github.com/xplshn/tyro/pkg/config"
	"github.com/xplshn/tyro/pkg/natives"
	"github.com/xplshn/tyro/pkg/vm"
)

const (
	extSource   = ".ty"
	extAssembly = ".tasm"
	extBytecode = ".tbc"
	extImage    = ".tyi"
)

var log = commonlog.GetLogger("tyro")

type options struct {
	output      string
	configPath  string
	emitAsm     bool
	hex         bool
	image       bool
	compileOnly bool
	trace       bool
	dumpStack   bool
	dumpAST     bool
	dumpIR      bool
	verbose     bool
	stackSize   int
}

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp("tyro")
	app.Usage = "[options] <input>"
	app.Synopsis = "[options] <input.ty|input.tasm|input.tbc|input.tyi>"
	app.Description = "Compiles, assembles and runs Tyro programs on the Tyro virtual machine."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/tyro>"
	app.Since = 2025
	app.Stdout, app.Stderr = stdout, stderr

	var opts options
	fs := app.FlagSet
	fs.String(&opts.output, "output", "o", "", "Place the output into <file>.", "file")
	fs.String(&opts.configPath, "config", "", "", "Read settings from <file> instead of searching for tyro.toml.", "file")
	fs.Bool(&opts.emitAsm, "emit-asm", "S", false, "Write the program as textual assembly instead of running it.")
	fs.Bool(&opts.hex, "hex", "", false, "Print assembly operands in hexadecimal.")
	fs.Bool(&opts.image, "image", "", false, "Write a portable image (.tyi) that keeps function names.")
	fs.Bool(&opts.compileOnly, "compile-only", "c", false, "Write bytecode instead of running it.")
	fs.Bool(&opts.trace, "trace", "", false, "Log every executed instruction.")
	fs.Bool(&opts.dumpStack, "dump-stack", "", false, "Print the stack when the program stops.")
	fs.Bool(&opts.dumpAST, "dump-ast", "", false, "Print the syntax tree of a source input.")
	fs.Bool(&opts.dumpIR, "dump-ir", "d", false, "Print the Op chain of a source input.")
	fs.Bool(&opts.verbose, "verbose", "v", false, "Log pipeline progress.")
	fs.Int(&opts.stackSize, "stack-size", "", 0, "Operand stack size in words (default 256).", "words")

	flagCfg := config.NewConfig()
	warningFlags, featureFlags := flagCfg.SetupFlagGroups(fs)

	app.Action = func(args []string) error {
		err := run(args, &opts, warningFlags, featureFlags, stdout, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("tyro:"), err)
		}
		return err
	}
	return app
}

func run(args []string, opts *options, warningFlags, featureFlags []cli.FlagGroupEntry, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one input file, got %d", len(args))
	}
	input := args[0]

	verbosity := 0
	switch {
	case opts.trace:
		verbosity = 2
	case opts.verbose:
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	cfg, err := loadConfig(opts.configPath, filepath.Dir(input))
	if err != nil {
		return err
	}
	cfg.ApplyFlagGroups(warningFlags, featureFlags)
	if opts.stackSize > 0 {
		cfg.StackSize = opts.stackSize
	}
	hex := opts.hex || cfg.HexListing
	if cfg.Path != "" {
		log.Infof("using settings from %s", cfg.Path)
	}

	fns := natives.Standard(stdout)

	code, err := load(input, cfg, fns, opts, stdout, stderr)
	if err != nil {
		return err
	}
	log.Infof("%s: %d words, fingerprint %016x", input, code.Size(), code.Fingerprint())

	switch {
	case opts.emitAsm:
		if err := code.Rebind(fns); err != nil {
			return err
		}
		return writeOutput(opts.output, stdout, []byte(asm.Disassemble(code, hex)))
	case opts.compileOnly || opts.image:
		return save(code, input, opts, fns)
	case opts.dumpAST || opts.dumpIR:
		return nil
	}

	vmOpts := vm.OptionsFromConfig(cfg)
	vmOpts.Out = stdout
	vmOpts.Trace = opts.trace
	m := vm.NewMachine(vmOpts)
	runErr := m.Execute(code)
	log.Infof("%s after %d instructions", m.State(), m.Steps())
	if opts.dumpStack {
		w := stdout
		if runErr != nil {
			w = stderr
		}
		m.DumpStack(w)
	}
	return runErr
}

func loadConfig(path, inputDir string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.FindAndLoad(inputDir)
}

// load turns any supported input into a container whose function table is
// bound to fns.
func load(input string, cfg *config.Config, fns []*bytecode.Function, opts *options, stdout, stderr io.Writer) (*bytecode.Container, error) {
	switch strings.ToLower(filepath.Ext(input)) {
	case extSource:
		c := compiler.New(cfg, stderr)
		code := bytecode.NewContainer()
		err := c.Compile(input, code, fns)
		if opts.dumpAST && c.Tree() != nil {
			fmt.Fprint(stdout, ast.Dump(c.Tree()))
		}
		if opts.dumpIR {
			fmt.Fprint(stdout, c.IR())
		}
		return code, err

	case extAssembly:
		text, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		code, err := asm.Assemble(string(text), fns)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", input, err)
		}
		return code, nil

	case extBytecode:
		code := bytecode.NewContainer()
		if err := code.Load(input); err != nil {
			return nil, err
		}
		code.SetFunctions(fns)
		return code, nil

	case extImage:
		code, err := bytecode.LoadImage(input)
		if err != nil {
			return nil, err
		}
		if err := code.Link(fns); err != nil {
			return nil, fmt.Errorf("%s: %w", input, err)
		}
		return code, nil
	}
	return nil, fmt.Errorf("%s: unknown input kind, expected %s, %s, %s or %s",
		input, extSource, extAssembly, extBytecode, extImage)
}

func save(code *bytecode.Container, input string, opts *options, fns []*bytecode.Function) error {
	out := opts.output
	image := opts.image || strings.EqualFold(filepath.Ext(out), extImage)
	if out == "" {
		ext := extBytecode
		if image {
			ext = extImage
		}
		out = strings.TrimSuffix(input, filepath.Ext(input)) + ext
	}
	if out == input {
		return fmt.Errorf("refusing to overwrite the input %s", input)
	}

	code.EnsureTerminated()
	if image {
		log.Infof("writing image %s", out)
		return bytecode.SaveImage(code, out)
	}
	// plain bytecode has no function table, so calls must index fns
	if err := code.Rebind(fns); err != nil {
		return err
	}
	log.Infof("writing bytecode %s", out)
	return code.Save(out)
}

func writeOutput(path string, stdout io.Writer, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
