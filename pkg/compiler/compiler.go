// Package compiler drives one compilation from source text to bytecode:
// lex, parse, link natives, check, lower and assemble.
package compiler

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	"github.com/xplshn/tyro/pkg/ast"
	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/codegen"
	"github.com/xplshn/tyro/pkg/config"
	"github.com/xplshn/tyro/pkg/ir"
	"github.com/xplshn/tyro/pkg/lexer"
	"github.com/xplshn/tyro/pkg/parser"
	"github.com/xplshn/tyro/pkg/symbol"
	"github.com/xplshn/tyro/pkg/typeChecker"
	"github.com/xplshn/tyro/pkg/util"
)

var ErrFailed = errors.New("compilation failed")

// Compiler holds the state of a single compilation. It is not safe for
// concurrent use; create one per goroutine.
type Compiler struct {
	cfg     *config.Config
	diag    *util.Diagnostics
	log     commonlog.Logger
	symbols *symbol.Tables
	root    *ast.Node
	prog    *ir.Program
	head    ir.OpID
}

// New returns a compiler whose diagnostics are echoed to diagOut, which may
// be nil to only collect them.
func New(cfg *config.Config, diagOut io.Writer) *Compiler {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &Compiler{
		cfg:  cfg,
		diag: util.NewDiagnostics(cfg, diagOut),
		log:  commonlog.GetLogger("tyro.compiler"),
		head: ir.None,
	}
}

// Compile compiles the file at sourcePath into out with default settings.
func Compile(sourcePath string, out *bytecode.Container, natives []*bytecode.Function) error {
	return New(nil, nil).Compile(sourcePath, out, natives)
}

func (c *Compiler) Diagnostics() *util.Diagnostics { return c.diag }

func (c *Compiler) Symbols() *symbol.Tables { return c.symbols }

// Tree returns the checked syntax tree of the last compilation.
func (c *Compiler) Tree() *ast.Node { return c.root }

// IR renders the Op chain of the last successful compilation.
func (c *Compiler) IR() string {
	if c.prog == nil || c.head == ir.None {
		return ""
	}
	return c.prog.Dump(c.head)
}

func (c *Compiler) Compile(sourcePath string, out *bytecode.Container, natives []*bytecode.Function) error {
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", sourcePath, err)
	}
	return c.CompileSource(sourcePath, string(content), out, natives)
}

// CompileSource compiles src, reported under name, into out. out is cleared
// first; on failure it is left empty and the diagnostics explain why.
func (c *Compiler) CompileSource(name, src string, out *bytecode.Container, natives []*bytecode.Function) error {
	c.diag.Reset()
	c.symbols = symbol.NewTables()
	c.root, c.prog, c.head = nil, nil, ir.None
	out.Clear()

	runes := []rune(src)
	c.diag.SetSourceFiles([]util.SourceFileRecord{{Name: name, Content: runes}})

	c.log.Debugf("parsing %s", name)
	tokens := lexer.NewLexer(runes, 0, c.cfg, c.diag).Tokenize()
	root := parser.NewParser(tokens, c.symbols, c.cfg, c.diag).Parse()
	if root == nil {
		return c.failed()
	}
	c.root = root

	c.symbols.Finalize()
	c.link(out, natives)

	c.log.Debugf("checking %d statement(s)", countStmts(root))
	typeChecker.NewTypeChecker(c.cfg, c.diag, c.symbols).Check(root)
	if c.diag.ErrorCount() > 0 {
		out.Clear()
		return c.failed()
	}

	ctx := codegen.NewContext()
	head, err := ctx.Build(root)
	if err != nil {
		out.Clear()
		return err
	}
	c.prog, c.head = ctx.Program(), head

	if err := codegen.Assemble(c.prog, head, out, c.symbols.Variables.Len()); err != nil {
		out.Clear()
		return err
	}
	c.log.Debugf("%s: %d words, %d function(s)", name, out.Size(), len(out.Functions()))
	return nil
}

// link binds every referenced function to its native descriptor and builds
// the container's function table in symbol index order.
func (c *Compiler) link(out *bytecode.Container, natives []*bytecode.Function) {
	byName := make(map[string]*bytecode.Function, len(natives))
	for _, fn := range natives {
		byName[fn.Name] = fn
	}
	table := make([]*bytecode.Function, c.symbols.Functions.Len())
	for _, sym := range c.symbols.Functions.Symbols() {
		fn, ok := byName[sym.Name]
		if !ok {
			c.diag.Error(sym.Tok, "reference to unknown function '%s'", sym.Name)
			continue
		}
		sym.Native = fn
		table[sym.Index] = fn
	}
	out.SetFunctions(table)
}

func (c *Compiler) failed() error {
	return fmt.Errorf("%w: %d error(s)", ErrFailed, c.diag.ErrorCount())
}

func countStmts(node *ast.Node) int {
	n := 0
	for ; node != nil && node.Type == ast.Stmt; node = node.Children[1] {
		n++
	}
	if node != nil && node.Type != ast.Empty {
		n++
	}
	return n
}
