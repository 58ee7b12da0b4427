package codegen

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/tyro/pkg/ast"
	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/ir"
	"github.com/xplshn/tyro/pkg/symbol"
	"github.com/xplshn/tyro/pkg/token"
)

type B = bytecode.Word

func op(o bytecode.Opcode) B { return B(o) }

type fixture struct {
	symbols *symbol.Tables
}

func newFixture() *fixture { return &fixture{symbols: symbol.NewTables()} }

func (f *fixture) num(text string) *ast.Node {
	return ast.NewInt(token.Token{}, f.symbols.Constants.Get(text, token.Token{}))
}

func (f *fixture) ident(name string) *ast.Node {
	return ast.NewIdent(token.Token{}, f.symbols.Variables.Get(name, token.Token{}))
}

func (f *fixture) assign(name string, rhs *ast.Node) *ast.Node {
	return ast.NewAssign(token.Token{}, f.symbols.Variables.Get(name, token.Token{}), rhs)
}

func (f *fixture) compile(t *testing.T, root *ast.Node) []B {
	t.Helper()
	f.symbols.Finalize()
	ctx := NewContext()
	head, err := ctx.Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out := bytecode.NewContainer()
	if err := Assemble(ctx.Program(), head, out, f.symbols.Variables.Len()); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return append([]B(nil), out.Words()...)
}

func TestWhileLowering(t *testing.T) {
	f := newFixture()
	root := ast.NewWhile(token.Token{}, f.ident("x"), f.assign("x", f.num("0")))
	want := []B{
		op(bytecode.OpLocal), 1,
		op(bytecode.OpLoad), 0, // 2: cond
		op(bytecode.OpIff), 12,
		op(bytecode.OpPush), 0,
		op(bytecode.OpStore), 0,
		op(bytecode.OpGoto), 2,
		op(bytecode.OpSys), B(bytecode.SysExit), // 12: end anchor resolves here
	}
	if diff := cmp.Diff(want, f.compile(t, root)); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestDoWhileLowering(t *testing.T) {
	f := newFixture()
	root := ast.NewDoWhile(token.Token{}, f.assign("x", f.num("1")), f.num("0"))
	want := []B{
		op(bytecode.OpLocal), 1,
		op(bytecode.OpPush), 1, // 2: body
		op(bytecode.OpStore), 0,
		op(bytecode.OpPush), 0,
		op(bytecode.OpIft), 2,
		op(bytecode.OpSys), B(bytecode.SysExit),
	}
	if diff := cmp.Diff(want, f.compile(t, root)); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestIfElseLowering(t *testing.T) {
	f := newFixture()
	cond := ast.NewBinary(token.Token{}, ast.Greater, f.ident("a"), f.num("2"))
	root := ast.NewIf(token.Token{}, cond, f.assign("b", f.num("1")), f.assign("b", f.num("2")))
	want := []B{
		op(bytecode.OpLocal), 2,
		op(bytecode.OpLoad), 0,
		op(bytecode.OpPush), 2,
		op(bytecode.OpIsub), 0,
		op(bytecode.OpIgt), 0,
		op(bytecode.OpIff), 18,
		op(bytecode.OpPush), 1,
		op(bytecode.OpStore), 1,
		op(bytecode.OpGoto), 22,
		op(bytecode.OpPush), 2, // 18: else
		op(bytecode.OpStore), 1,
		op(bytecode.OpSys), B(bytecode.SysExit), // 22: end
	}
	if diff := cmp.Diff(want, f.compile(t, root)); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestCallAndExprLowering(t *testing.T) {
	f := newFixture()
	randSym := f.symbols.Functions.Get("rand", token.Token{})
	printSym := f.symbols.Functions.Get("print", token.Token{})
	inner := ast.NewCall(token.Token{}, randSym, nil)
	sum := ast.NewBinary(token.Token{}, ast.Mod, inner, f.num("0x10"))
	root := ast.NewExpr(token.Token{}, ast.NewCall(token.Token{}, printSym, []*ast.Node{sum, f.num("-1")}))
	want := []B{
		op(bytecode.OpLocal), 0,
		op(bytecode.OpCall), 0,
		op(bytecode.OpPush), 16,
		op(bytecode.OpImod), 0,
		op(bytecode.OpPush), 0xffffffff,
		op(bytecode.OpCall), 1,
		op(bytecode.OpPop), 0,
		op(bytecode.OpSys), B(bytecode.SysExit),
	}
	if diff := cmp.Diff(want, f.compile(t, root)); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleAppendsAfterExistingCode(t *testing.T) {
	prog := ir.NewProgram()
	anchor := prog.Noop()
	head, err := prog.Chain(prog.NewJump(bytecode.OpGoto, anchor), anchor)
	if err != nil {
		t.Fatal(err)
	}
	out := bytecode.NewContainer()
	out.WriteOp(bytecode.OpNoop, 0)
	if err := Assemble(prog, head, out, 0); err != nil {
		t.Fatal(err)
	}
	want := []B{op(bytecode.OpNoop), 0, op(bytecode.OpLocal), 0, op(bytecode.OpGoto), 6, op(bytecode.OpSys), 0}
	if diff := cmp.Diff(want, out.Words()); diff != "" {
		t.Fatalf("words mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleRejectsCycle(t *testing.T) {
	prog := ir.NewProgram()
	a := prog.New(bytecode.OpPush, 1)
	// after assembly the local prefix heads a's chain
	first := ir.OpID(prog.Len())
	if err := Assemble(prog, a, bytecode.NewContainer(), 0); err != nil {
		t.Fatal(err)
	}
	if err := prog.Concat(a, first); !errors.Is(err, ir.ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
}
