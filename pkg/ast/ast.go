// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
package ast

import (
	"fmt"
	"strings"

	"github.com/xplshn/tyro/pkg/symbol"
	"github.com/xplshn/tyro/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	Error NodeType = iota

	// Statements
	Stmt
	Empty
	Param
	Call
	Expr
	While
	DoWhile
	IfThen
	IfThenElse

	// Expressions
	Equal
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	BoolAnd
	BoolOr
	Assign
	Add
	Sub
	Mul
	Div
	Mod
	Ident
	Int
)

var nodeNames = [...]string{
	Error: "Error", Stmt: "Stmt", Empty: "Empty", Param: "Param", Call: "Call", Expr: "Expr",
	While: "While", DoWhile: "DoWhile", IfThen: "IfThen", IfThenElse: "IfThenElse",
	Equal: "Equal", NotEqual: "NotEqual", Less: "Less", LessEqual: "LessEqual",
	Greater: "Greater", GreaterEqual: "GreaterEqual", BoolAnd: "BoolAnd", BoolOr: "BoolOr",
	Assign: "Assign", Add: "Add", Sub: "Sub", Mul: "Mul", Div: "Div", Mod: "Mod",
	Ident: "Ident", Int: "Int",
}

func (t NodeType) String() string {
	if int(t) < len(nodeNames) {
		return nodeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// DataType is the result type the checker infers for a node.
type DataType int

const (
	Unchecked DataType = iota
	Void
	Bool
	Integer
)

func (d DataType) String() string {
	switch d {
	case Void:
		return "void"
	case Bool:
		return "bool"
	case Integer:
		return "int"
	}
	return "unchecked"
}

// Node represents a node in the Abstract Syntax Tree.
//
// Child slots by type: Stmt(first, rest), Param(arg, next), Call(params),
// Expr(expr), While(cond, body), DoWhile(body, cond), IfThen(cond, then),
// IfThenElse(cond, then, else), binary operators (lhs, rhs), Assign(rhs).
// Call, Assign, Ident and Int carry the bound Symbol.
type Node struct {
	Type       NodeType
	Tok        token.Token
	Parent     *Node
	Children   [3]*Node
	Symbol     *symbol.Symbol
	ResultType DataType // Set by the type checker
}

func (n *Node) Line() int { return n.Tok.Line }

func (n *Node) Child(i int) *Node { return n.Children[i] }

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok}
	for i, child := range children {
		node.Children[i] = child
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func NewError(tok token.Token) *Node { return newNode(tok, Error) }
func NewEmpty(tok token.Token) *Node { return newNode(tok, Empty) }

func NewStmt(tok token.Token, first, rest *Node) *Node {
	return newNode(tok, Stmt, first, rest)
}

// NewStmtList chains stmts into right-leaning Stmt nodes. An empty list is a
// single Empty node.
func NewStmtList(tok token.Token, stmts []*Node) *Node {
	if len(stmts) == 0 {
		return NewEmpty(tok)
	}
	if len(stmts) == 1 {
		return stmts[0]
	}
	return NewStmt(stmts[0].Tok, stmts[0], NewStmtList(tok, stmts[1:]))
}

func NewParam(tok token.Token, arg, next *Node) *Node {
	return newNode(tok, Param, arg, next)
}

// NewCall builds a call to fn with args chained through Param nodes in
// source order. A call with no arguments has a single Empty child.
func NewCall(tok token.Token, fn *symbol.Symbol, args []*Node) *Node {
	var params *Node
	for i := len(args) - 1; i >= 0; i-- {
		params = NewParam(args[i].Tok, args[i], params)
	}
	if params == nil {
		params = NewEmpty(tok)
	}
	node := newNode(tok, Call, params)
	node.Symbol = fn
	return node
}

func NewExpr(tok token.Token, expr *Node) *Node { return newNode(tok, Expr, expr) }

func NewWhile(tok token.Token, cond, body *Node) *Node {
	return newNode(tok, While, cond, body)
}

func NewDoWhile(tok token.Token, body, cond *Node) *Node {
	return newNode(tok, DoWhile, body, cond)
}

func NewIf(tok token.Token, cond, thenBody, elseBody *Node) *Node {
	if elseBody == nil {
		return newNode(tok, IfThen, cond, thenBody)
	}
	return newNode(tok, IfThenElse, cond, thenBody, elseBody)
}

func NewBinary(tok token.Token, nodeType NodeType, lhs, rhs *Node) *Node {
	return newNode(tok, nodeType, lhs, rhs)
}

func NewAssign(tok token.Token, variable *symbol.Symbol, rhs *Node) *Node {
	node := newNode(tok, Assign, rhs)
	node.Symbol = variable
	return node
}

func NewIdent(tok token.Token, variable *symbol.Symbol) *Node {
	node := newNode(tok, Ident)
	node.Symbol = variable
	return node
}

func NewInt(tok token.Token, constant *symbol.Symbol) *Node {
	node := newNode(tok, Int)
	node.Symbol = constant
	return node
}

// IsConstant reports whether node is a literal or an operator over literals.
func IsConstant(node *Node) bool {
	if node == nil {
		return false
	}
	switch node.Type {
	case Int:
		return true
	case Equal, NotEqual, Less, LessEqual, Greater, GreaterEqual, BoolAnd, BoolOr, Add, Sub, Mul, Div, Mod:
		return IsConstant(node.Children[0]) && IsConstant(node.Children[1])
	}
	return false
}

// Dump writes an indented outline of the tree, one node per line.
func Dump(node *Node) string {
	var sb strings.Builder
	dump(&sb, node, 0)
	return sb.String()
}

func dump(sb *strings.Builder, node *Node, depth int) {
	if node == nil {
		return
	}
	fmt.Fprintf(sb, "%s%s", strings.Repeat("  ", depth), node.Type)
	if node.Symbol != nil {
		fmt.Fprintf(sb, " %s", node.Symbol.Name)
	}
	if node.ResultType != Unchecked {
		fmt.Fprintf(sb, " : %s", node.ResultType)
	}
	sb.WriteByte('\n')
	for _, child := range node.Children {
		dump(sb, child, depth+1)
	}
}
