// Package codegen lowers a checked AST into an Op chain and assembles the
// chain into bytecode.
package codegen

import (
	"fmt"

	"github.com/xplshn/tyro/pkg/ast"
	"github.com/xplshn/tyro/pkg/bytecode"
	"github.com/xplshn/tyro/pkg/ir"
)

type Context struct {
	prog *ir.Program
	err  error
}

func NewContext() *Context {
	return &Context{prog: ir.NewProgram()}
}

func (ctx *Context) Program() *ir.Program { return ctx.prog }

// Build lowers node and returns the head of its Op chain. The tree must have
// passed the type checker and its symbols must be finalized.
func (ctx *Context) Build(node *ast.Node) (ir.OpID, error) {
	ctx.err = nil
	head := ctx.build(node)
	if ctx.err != nil {
		return ir.None, ctx.err
	}
	return head, nil
}

// chain links ids in order. The first failure is kept and reported by Build.
func (ctx *Context) chain(ids ...ir.OpID) ir.OpID {
	head, err := ctx.prog.Chain(ids...)
	if err != nil && ctx.err == nil {
		ctx.err = err
	}
	if err != nil {
		return ids[0]
	}
	return head
}

var compareOps = map[ast.NodeType]bytecode.Opcode{
	ast.Equal:        bytecode.OpIeq,
	ast.NotEqual:     bytecode.OpIne,
	ast.Less:         bytecode.OpIlt,
	ast.LessEqual:    bytecode.OpIle,
	ast.Greater:      bytecode.OpIgt,
	ast.GreaterEqual: bytecode.OpIge,
}

var arithOps = map[ast.NodeType]bytecode.Opcode{
	ast.BoolAnd: bytecode.OpIand,
	ast.BoolOr:  bytecode.OpIor,
	ast.Add:     bytecode.OpIadd,
	ast.Sub:     bytecode.OpIsub,
	ast.Mul:     bytecode.OpImul,
	ast.Div:     bytecode.OpIdiv,
	ast.Mod:     bytecode.OpImod,
}

func (ctx *Context) build(node *ast.Node) ir.OpID {
	p := ctx.prog
	if node == nil {
		return p.Noop()
	}

	switch node.Type {
	case ast.Error, ast.Empty:
		return p.Noop()

	case ast.Stmt, ast.Param:
		return ctx.chain(ctx.build(node.Children[0]), ctx.buildOptional(node.Children[1]))

	case ast.Call:
		return ctx.chain(ctx.build(node.Children[0]), p.NewSymbol(bytecode.OpCall, node.Symbol))

	case ast.Expr:
		return ctx.chain(ctx.build(node.Children[0]), p.New(bytecode.OpPop, 0))

	case ast.While:
		return ctx.codegenWhile(node)

	case ast.DoWhile:
		body := ctx.build(node.Children[0])
		cond := ctx.build(node.Children[1])
		return ctx.chain(body, cond, p.NewJump(bytecode.OpIft, body))

	case ast.IfThen, ast.IfThenElse:
		return ctx.codegenIf(node)

	case ast.Assign:
		return ctx.chain(ctx.build(node.Children[0]), p.NewSymbol(bytecode.OpStore, node.Symbol))

	case ast.Ident:
		return p.NewSymbol(bytecode.OpLoad, node.Symbol)

	case ast.Int:
		value, _ := node.Symbol.Word()
		return p.New(bytecode.OpPush, value)
	}

	if op, ok := compareOps[node.Type]; ok {
		lhs, rhs := ctx.build(node.Children[0]), ctx.build(node.Children[1])
		return ctx.chain(lhs, rhs, p.New(bytecode.OpIsub, 0), p.New(op, 0))
	}
	if op, ok := arithOps[node.Type]; ok {
		lhs, rhs := ctx.build(node.Children[0]), ctx.build(node.Children[1])
		return ctx.chain(lhs, rhs, p.New(op, 0))
	}

	if ctx.err == nil {
		ctx.err = fmt.Errorf("line %d: cannot generate code for %s node", node.Line(), node.Type)
	}
	return p.Noop()
}

// buildOptional lowers an optional trailing child; a missing one adds nothing.
func (ctx *Context) buildOptional(node *ast.Node) ir.OpID {
	if node == nil {
		return ir.None
	}
	return ctx.build(node)
}

// codegenWhile emits [cond][iff end][body][goto cond][end: noop].
func (ctx *Context) codegenWhile(node *ast.Node) ir.OpID {
	p := ctx.prog
	cond := ctx.build(node.Children[0])
	end := p.Noop()
	exit := p.NewJump(bytecode.OpIff, end)
	body := ctx.build(node.Children[1])
	loop := p.NewJump(bytecode.OpGoto, cond)
	return ctx.chain(cond, exit, body, loop, end)
}

// codegenIf emits [cond][iff end][then][end: noop], or with an else branch
// [cond][iff else][then][goto end][else][end: noop].
func (ctx *Context) codegenIf(node *ast.Node) ir.OpID {
	p := ctx.prog
	cond := ctx.build(node.Children[0])
	end := p.Noop()

	if node.Type == ast.IfThen {
		skip := p.NewJump(bytecode.OpIff, end)
		then := ctx.build(node.Children[1])
		return ctx.chain(cond, skip, then, end)
	}

	toElse := p.NewJump(bytecode.OpIff, ir.None)
	then := ctx.build(node.Children[1])
	toEnd := p.NewJump(bytecode.OpGoto, end)
	elseBody := ctx.build(node.Children[2])
	p.SetTarget(toElse, elseBody)
	return ctx.chain(cond, toElse, then, toEnd, elseBody, end)
}
