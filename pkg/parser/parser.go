package parser

import (
	"github.com/xplshn/tyro/pkg/ast"
	"github.com/xplshn/tyro/pkg/config"
	"github.com/xplshn/tyro/pkg/symbol"
	"github.com/xplshn/tyro/pkg/token"
	"github.com/xplshn/tyro/pkg/util"
)

// Parser holds the state for the parsing process. It binds every identifier
// to the compilation's symbol tables as it is first referenced.
type Parser struct {
	tokens   []token.Token
	pos      int
	current  token.Token
	previous token.Token
	symbols  *symbol.Tables
	cfg      *config.Config
	diag     *util.Diagnostics
}

// bailout unwinds the parser on the first syntax error.
type bailout struct{}

// NewParser creates and initializes a new Parser from a token stream
func NewParser(tokens []token.Token, symbols *symbol.Tables, cfg *config.Config, diag *util.Diagnostics) *Parser {
	p := &Parser{tokens: tokens, symbols: symbols, cfg: cfg, diag: diag}
	if len(tokens) > 0 {
		p.current = p.tokens[0]
	}
	return p
}

// Parse parses a whole program. It returns nil after the first syntax
// error, which has been reported to the diagnostics sink.
func (p *Parser) Parse() (root *ast.Node) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			root = nil
		}
	}()

	tok := p.current
	var stmts []*ast.Node
	for !p.check(token.EOF) {
		stmts = append(stmts, p.parseStmt())
	}
	if p.diag.ErrorCount() > 0 {
		return nil
	}
	return ast.NewStmtList(tok, stmts)
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens) {
		p.previous = p.current
		p.pos++
		if p.pos < len(p.tokens) {
			p.current = p.tokens[p.pos]
		}
	}
}

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) match(tokType token.Type) bool {
	if !p.check(tokType) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(tokType token.Type, message string) {
	if p.check(tokType) {
		p.advance()
		return
	}
	p.fail(p.current, "%s", message)
}

func (p *Parser) fail(tok token.Token, format string, args ...any) {
	p.diag.Error(tok, format, args...)
	panic(bailout{})
}

func (p *Parser) constant(tok token.Token, text string) *ast.Node {
	return ast.NewInt(tok, p.symbols.Constants.Get(text, tok))
}

// Expression Parsing
var binaryOps = map[token.Type]struct {
	prec     int
	nodeType ast.NodeType
}{
	token.OrOr:   {1, ast.BoolOr},
	token.AndAnd: {2, ast.BoolAnd},
	token.EqEq:   {3, ast.Equal},
	token.Neq:    {3, ast.NotEqual},
	token.Lt:     {4, ast.Less},
	token.Lte:    {4, ast.LessEqual},
	token.Gt:     {4, ast.Greater},
	token.Gte:    {4, ast.GreaterEqual},
	token.Plus:   {5, ast.Add},
	token.Minus:  {5, ast.Sub},
	token.Star:   {6, ast.Mul},
	token.Slash:  {6, ast.Div},
	token.Rem:    {6, ast.Mod},
}

func (p *Parser) parsePrimaryExpr() *ast.Node {
	tok := p.current
	switch {
	case p.match(token.Number):
		return p.constant(tok, p.previous.Value)
	case p.match(token.True):
		return p.constant(tok, "true")
	case p.match(token.False):
		return p.constant(tok, "false")
	case p.match(token.Ident):
		name := p.previous.Value
		if p.match(token.LParen) {
			return p.parseCall(tok, name)
		}
		variable := p.symbols.Variables.Get(name, tok)
		variable.Reads++
		return ast.NewIdent(tok, variable)
	case p.match(token.LParen):
		expr := p.parseExpr()
		p.expect(token.RParen, "expected ')' after expression")
		return expr
	}
	p.fail(tok, "expected an expression, found '%s'", tok.Type)
	return nil
}

func (p *Parser) parseCall(tok token.Token, name string) *ast.Node {
	fn := p.symbols.Functions.Get(name, tok)
	var args []*ast.Node
	if !p.check(token.RParen) {
		for {
			args = append(args, p.parseExpr())
			if !p.match(token.Comma) {
				break
			}
		}
	}
	p.expect(token.RParen, "expected ')' after function arguments")
	return ast.NewCall(tok, fn, args)
}

func (p *Parser) parseUnaryExpr() *ast.Node {
	tok := p.current
	if p.check(token.Minus) || p.check(token.Not) {
		if !p.cfg.IsFeatureEnabled(config.FeatUnaryOps) {
			p.fail(tok, "unary '%s' is disabled (-Fno-unary-ops)", tok.Type)
		}
		p.advance()
		operand := p.parseUnaryExpr()
		if tok.Type == token.Minus {
			return ast.NewBinary(tok, ast.Sub, p.constant(tok, "0"), operand)
		}
		return ast.NewBinary(tok, ast.Equal, operand, p.constant(tok, "0"))
	}
	return p.parsePrimaryExpr()
}

func (p *Parser) parseBinaryExpr(minPrec int) *ast.Node {
	left := p.parseUnaryExpr()
	for {
		op, ok := binaryOps[p.current.Type]
		if !ok || op.prec < minPrec {
			break
		}
		opTok := p.current
		p.advance()
		right := p.parseBinaryExpr(op.prec + 1)
		left = ast.NewBinary(opTok, op.nodeType, left, right)
	}
	return left
}

func (p *Parser) parseAssignmentExpr() *ast.Node {
	if p.check(token.Ident) && p.peek().Type == token.Eq {
		target := p.current
		p.advance()
		tok := p.current
		p.advance()
		variable := p.symbols.Variables.Get(target.Value, target)
		variable.Writes++
		return ast.NewAssign(tok, variable, p.parseAssignmentExpr())
	}
	left := p.parseBinaryExpr(1)
	if p.check(token.Eq) {
		p.fail(p.current, "invalid target for assignment")
	}
	return left
}

func (p *Parser) parseExpr() *ast.Node {
	return p.parseAssignmentExpr()
}

// Statement Parsing
func (p *Parser) parseBlockStmt() *ast.Node {
	tok := p.current
	p.expect(token.LBrace, "expected '{' to start a block")
	var stmts []*ast.Node
	for !p.check(token.RBrace) && !p.check(token.EOF) {
		stmts = append(stmts, p.parseStmt())
	}
	p.expect(token.RBrace, "expected '}' after block")
	return ast.NewStmtList(tok, stmts)
}

func (p *Parser) parseCondition(keyword string) *ast.Node {
	p.expect(token.LParen, "expected '(' after '"+keyword+"'")
	cond := p.parseExpr()
	p.expect(token.RParen, "expected ')' after "+keyword+" condition")
	return cond
}

func (p *Parser) parseStmt() *ast.Node {
	tok := p.current
	switch {
	case p.match(token.Semi):
		return ast.NewEmpty(tok)
	case p.check(token.LBrace):
		return p.parseBlockStmt()
	case p.match(token.If):
		cond := p.parseCondition("if")
		thenBody := p.parseStmt()
		var elseBody *ast.Node
		if p.match(token.Else) {
			elseBody = p.parseStmt()
		}
		return ast.NewIf(tok, cond, thenBody, elseBody)
	case p.match(token.While):
		cond := p.parseCondition("while")
		return ast.NewWhile(tok, cond, p.parseStmt())
	case p.match(token.Do):
		body := p.parseStmt()
		p.expect(token.While, "expected 'while' after do body")
		cond := p.parseCondition("while")
		p.expect(token.Semi, "expected ';' after do-while statement")
		return ast.NewDoWhile(tok, body, cond)
	case p.check(token.Else):
		p.fail(tok, "'else' without a matching 'if'")
	}

	expr := p.parseExpr()
	p.expect(token.Semi, "expected ';' after expression")
	return ast.NewExpr(tok, expr)
}
