package typeChecker

import (
	"github.com/xplshn/tyro/pkg/ast"
	"github.com/xplshn/tyro/pkg/config"
	"github.com/xplshn/tyro/pkg/symbol"
	"github.com/xplshn/tyro/pkg/util"
)

// TypeChecker annotates every node with its result type and checks native
// call arity. Errors accumulate in the diagnostics sink; the walk never stops
// early so that one run surfaces every problem.
type TypeChecker struct {
	cfg     *config.Config
	diag    *util.Diagnostics
	symbols *symbol.Tables
}

func NewTypeChecker(cfg *config.Config, diag *util.Diagnostics, symbols *symbol.Tables) *TypeChecker {
	return &TypeChecker{cfg: cfg, diag: diag, symbols: symbols}
}

var resultTypes = map[ast.NodeType]ast.DataType{
	ast.Stmt: ast.Void, ast.Empty: ast.Void, ast.Expr: ast.Void, ast.Param: ast.Void,
	ast.While: ast.Void, ast.DoWhile: ast.Void, ast.IfThen: ast.Void, ast.IfThenElse: ast.Void,

	ast.Equal: ast.Bool, ast.NotEqual: ast.Bool, ast.Less: ast.Bool, ast.LessEqual: ast.Bool,
	ast.Greater: ast.Bool, ast.GreaterEqual: ast.Bool, ast.BoolAnd: ast.Bool, ast.BoolOr: ast.Bool,

	ast.Add: ast.Integer, ast.Sub: ast.Integer, ast.Mul: ast.Integer, ast.Div: ast.Integer,
	ast.Mod: ast.Integer, ast.Assign: ast.Integer, ast.Ident: ast.Integer, ast.Int: ast.Integer,
	ast.Call: ast.Integer,
}

// Check walks the tree bottom-up and then reports variable usage warnings.
// It returns the number of errors found during this walk.
func (tc *TypeChecker) Check(root *ast.Node) int {
	before := tc.diag.ErrorCount()
	if root != nil {
		tc.checkNode(root)
	}
	if tc.symbols != nil {
		tc.checkVariables()
	}
	return tc.diag.ErrorCount() - before
}

func (tc *TypeChecker) checkNode(node *ast.Node) {
	for _, child := range node.Children {
		if child != nil {
			tc.checkNode(child)
		}
	}

	if typ, ok := resultTypes[node.Type]; ok {
		node.ResultType = typ
	}

	switch node.Type {
	case ast.Call:
		tc.checkFuncCall(node)
	case ast.While, ast.IfThen, ast.IfThenElse:
		tc.checkCondition(node, node.Children[0])
	case ast.DoWhile:
		tc.checkCondition(node, node.Children[1])
	case ast.Expr:
		if expr := node.Children[0]; expr != nil && expr.Type != ast.Assign && expr.Type != ast.Call {
			tc.diag.Warn(config.WarnExtra, node.Tok, "expression result unused; statement has no effect")
		}
	case ast.Int:
		if node.Symbol != nil {
			if _, err := node.Symbol.Word(); err != nil {
				tc.diag.Error(node.Tok, "%v", err)
			}
		}
	}
}

// CountParams counts the arguments of a call: non-empty nodes along the Param
// chain hanging off its first child.
func CountParams(call *ast.Node) int {
	count := 0
	for n := call.Children[0]; n != nil; n = n.Children[1] {
		if n.Type != ast.Empty {
			count++
		}
		if n.Type != ast.Param {
			break
		}
	}
	return count
}

func (tc *TypeChecker) checkFuncCall(node *ast.Node) {
	// Calls to functions that were never linked are reported by the linker.
	if node.Symbol == nil || node.Symbol.Native == nil {
		return
	}
	fn := node.Symbol.Native
	if count := CountParams(node); count != fn.ParamCount {
		tc.diag.Error(node.Tok, "'%s' : function does not take %d parameters", fn.Name, count)
	}
}

func (tc *TypeChecker) checkCondition(stmt, cond *ast.Node) {
	if ast.IsConstant(cond) {
		tc.diag.Warn(config.WarnConstCond, cond.Tok, "%s condition is constant", stmtName(stmt))
	}
}

func stmtName(node *ast.Node) string {
	switch node.Type {
	case ast.While:
		return "while"
	case ast.DoWhile:
		return "do-while"
	}
	return "if"
}

func (tc *TypeChecker) checkVariables() {
	for _, v := range tc.symbols.Variables.Symbols() {
		switch {
		case v.Reads > 0 && v.Writes == 0:
			tc.diag.Warn(config.WarnUninitialized, v.Tok, "'%s' is used but never assigned; it reads as 0", v.Name)
		case v.Writes > 0 && v.Reads == 0:
			tc.diag.Warn(config.WarnUnused, v.Tok, "'%s' is assigned but never used", v.Name)
		}
	}
}
