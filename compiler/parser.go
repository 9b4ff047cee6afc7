package compiler

import (
	"strconv"

	"github.com/chazu/falcon/pkg/diag"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Falcon
// ---------------------------------------------------------------------------

// Parser parses Falcon source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token

	// statements keyed on their leading token
	stmtParsers map[TokenType]func() (Stmt, error)

	blockDepth int // 0 at top level
	nesting    int // open expressions, blocks and elseif branches
}

// MaxNesting bounds how deeply expressions and blocks may nest.
const MaxNesting = 1000

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.stmtParsers = map[TokenType]func() (Stmt, error){
		TokenLet:         p.parseVarDecl,
		TokenConst:       p.parseVarDecl,
		TokenSecureLet:   p.parseVarDecl,
		TokenSecureConst: p.parseVarDecl,
		TokenPrint:       p.parsePrint,
		TokenIf:          p.parseIf,
		TokenRepeat:      p.parseRepeat,
		TokenFn:          p.parseFuncDef,
		TokenReturn:      p.parseReturn,
		TokenBreak:       p.parseBreak,
		TokenContinue:    p.parseContinue,
		TokenEndIf:       p.parseLegacyTerminator,
		TokenEndRepeat:   p.parseLegacyTerminator,
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete program.
func Parse(input string) ([]Stmt, error) {
	return NewParser(input).ParseProgram()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect consumes the current token if it has type t.
func (p *Parser) expect(t TokenType) (Token, error) {
	if p.curTokenIs(t) {
		tok := p.curToken
		p.nextToken()
		return tok, nil
	}
	return Token{}, p.unexpected(t.String())
}

// unexpected reports the current token as not being what was wanted. A
// lexer error token surfaces as the lexical error it carries.
func (p *Parser) unexpected(want string) error {
	tok := p.curToken
	switch tok.Type {
	case TokenError:
		return diag.Errorf(diag.KindLexical, tok.Pos, "%s", tok.Literal)
	case TokenEOF:
		return diag.Errorf(diag.KindSyntax, tok.Pos, "unexpected end of input, expected %s", want)
	}
	return diag.Errorf(diag.KindSyntax, tok.Pos, "expected %s, got %s", want, tok.describe())
}

// enter records one more level of nesting. Every successful enter is
// paired with a leave.
func (p *Parser) enter() error {
	if p.nesting >= MaxNesting {
		return diag.Errorf(diag.KindSyntax, p.curToken.Pos, "nesting too deep (limit %d)", MaxNesting)
	}
	p.nesting++
	return nil
}

func (p *Parser) leave() { p.nesting-- }

func (p *Parser) skipSemicolons() {
	for p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses statements until EOF.
func (p *Parser) ParseProgram() ([]Stmt, error) {
	var stmts []Stmt
	for {
		p.skipSemicolons()
		if p.curTokenIs(TokenEOF) {
			return stmts, nil
		}
		stmt, err := p.ParseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// ParseStatement parses a single statement.
func (p *Parser) ParseStatement() (Stmt, error) {
	if fn, ok := p.stmtParsers[p.curToken.Type]; ok {
		return fn()
	}
	if p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenAssign) {
		return p.parseAssign()
	}

	pos := p.curToken.Pos
	expr, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &ExprStmt{PosVal: pos, Expr: expr}, nil
}

// parseBlock parses { stmt* }.
func (p *Parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	p.blockDepth++
	defer func() { p.blockDepth-- }()

	stmts := []Stmt{}
	for {
		p.skipSemicolons()
		if p.curTokenIs(TokenRBrace) {
			p.nextToken()
			return stmts, nil
		}
		if p.curTokenIs(TokenEOF) {
			return nil, p.unexpected("}")
		}
		stmt, err := p.ParseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseVarDecl() (Stmt, error) {
	tok := p.curToken
	p.nextToken()

	name, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenAssign); err != nil {
		return nil, err
	}
	value, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &VarDecl{
		PosVal: tok.Pos,
		Secure: tok.Type == TokenSecureLet || tok.Type == TokenSecureConst,
		Const:  tok.Type == TokenConst || tok.Type == TokenSecureConst,
		Name:   name.Literal,
		Value:  value,
	}, nil
}

func (p *Parser) parseAssign() (Stmt, error) {
	name := p.curToken
	p.nextToken() // identifier
	p.nextToken() // =

	value, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &Assign{PosVal: name.Pos, Name: name.Literal, Value: value}, nil
}

func (p *Parser) parsePrint() (Stmt, error) {
	pos := p.curToken.Pos
	p.nextToken()

	value, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &PrintStmt{PosVal: pos, Value: value}, nil
}

// parseIf parses an if statement. It is also entered on elseif, which
// becomes a nested if inside the enclosing else branch.
func (p *Parser) parseIf() (Stmt, error) {
	pos := p.curToken.Pos
	p.nextToken() // if / elseif

	cond, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{PosVal: pos, Cond: cond, Then: then}

	switch {
	case p.curTokenIs(TokenElseIf):
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		stmt.Else = []Stmt{nested}
	case p.curTokenIs(TokenElse):
		p.nextToken()
		els, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		stmt.Else = els
	}
	return stmt, nil
}

func (p *Parser) parseRepeat() (Stmt, error) {
	pos := p.curToken.Pos
	p.nextToken()

	count, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &RepeatStmt{PosVal: pos, Count: count, Body: body}, nil
}

func (p *Parser) parseFuncDef() (Stmt, error) {
	pos := p.curToken.Pos
	if p.blockDepth > 0 {
		return nil, diag.Errorf(diag.KindSyntax, pos, "function definitions are only allowed at top level")
	}
	p.nextToken()

	name, err := p.expect(TokenIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	params := []string{}
	if !p.curTokenIs(TokenRParen) {
		for {
			param, err := p.expect(TokenIdentifier)
			if err != nil {
				return nil, err
			}
			params = append(params, param.Literal)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &FuncDef{PosVal: pos, Name: name.Literal, Params: params, Body: body}, nil
}

// parseReturn parses return [expr]. The value is omitted when the next token
// closes the block, ends the statement or starts a new line.
func (p *Parser) parseReturn() (Stmt, error) {
	pos := p.curToken.Pos
	p.nextToken()

	if p.curTokenIs(TokenRBrace) || p.curTokenIs(TokenEOF) || p.curTokenIs(TokenSemicolon) ||
		p.curToken.Pos.Line > pos.Line {
		return &ReturnStmt{PosVal: pos}, nil
	}
	value, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	return &ReturnStmt{PosVal: pos, Value: value}, nil
}

func (p *Parser) parseBreak() (Stmt, error) {
	pos := p.curToken.Pos
	p.nextToken()
	return &BreakStmt{PosVal: pos}, nil
}

func (p *Parser) parseContinue() (Stmt, error) {
	pos := p.curToken.Pos
	p.nextToken()
	return &ContinueStmt{PosVal: pos}, nil
}

// parseLegacyTerminator rejects endif / endrepeat.
func (p *Parser) parseLegacyTerminator() (Stmt, error) {
	return nil, diag.Errorf(diag.KindSyntax, p.curToken.Pos,
		"%q is not supported, close blocks with }", p.curToken.Literal)
}

// ---------------------------------------------------------------------------
// Expressions (precedence climbing, loosest first)
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() (Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

// parseBinary parses operand (op operand)* for a left-associative level.
func (p *Parser) parseBinary(operand func() (Expr, error), ops ...TokenType) (Expr, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchAny(ops)
		if !ok {
			return left, nil
		}
		pos := p.curToken.Pos
		p.nextToken()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{PosVal: pos, Left: left, Op: op, Right: right}
	}
}

func (p *Parser) matchAny(ops []TokenType) (TokenType, bool) {
	for _, op := range ops {
		if p.curTokenIs(op) {
			return op, true
		}
	}
	return 0, false
}

func (p *Parser) parseOr() (Expr, error) {
	return p.parseBinary(p.parseAnd, TokenOr)
}

func (p *Parser) parseAnd() (Expr, error) {
	return p.parseBinary(p.parseEquality, TokenAnd)
}

func (p *Parser) parseEquality() (Expr, error) {
	return p.parseBinary(p.parseComparison, TokenEqualEqual, TokenNotEqual)
}

func (p *Parser) parseComparison() (Expr, error) {
	return p.parseBinary(p.parseTerm, TokenLess, TokenGreater, TokenLessEqual, TokenGreaterEqual)
}

func (p *Parser) parseTerm() (Expr, error) {
	return p.parseBinary(p.parseFactor, TokenPlus, TokenMinus)
}

func (p *Parser) parseFactor() (Expr, error) {
	return p.parseBinary(p.parseUnary, TokenStar, TokenSlash)
}

func (p *Parser) parseUnary() (Expr, error) {
	if op, ok := p.matchAny([]TokenType{TokenMinus, TokenBang, TokenNot}); ok {
		pos := p.curToken.Pos
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{PosVal: pos, Op: op, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.curToken

	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, diag.Errorf(diag.KindLexical, tok.Pos, "integer literal %s out of range", tok.Literal)
		}
		return &IntLiteral{PosVal: tok.Pos, Value: v}, nil

	case TokenFloat:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, diag.Errorf(diag.KindLexical, tok.Pos, "float literal %s out of range", tok.Literal)
		}
		return &FloatLiteral{PosVal: tok.Pos, Value: v}, nil

	case TokenString:
		p.nextToken()
		return &StringLiteral{PosVal: tok.Pos, Value: tok.Literal}, nil

	case TokenIdentifier:
		p.nextToken()
		if !p.curTokenIs(TokenLParen) {
			return &Identifier{PosVal: tok.Pos, Name: tok.Literal}, nil
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &CallExpr{PosVal: tok.Pos, Name: tok.Literal, Args: args}, nil

	case TokenLParen:
		p.nextToken()
		expr, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	case TokenNetworkScan:
		p.nextToken()
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		subnet, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &NetworkScanCall{PosVal: tok.Pos, Subnet: subnet}, nil

	case TokenCryptoRandom, TokenTimeNow, TokenWait:
		p.nextToken()
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &BuiltinCall{PosVal: tok.Pos, Name: BuiltinNames[tok.Type], Args: args}, nil
	}

	return nil, p.unexpected("expression")
}

// parseArgs parses ( [expr ("," expr)*] ).
func (p *Parser) parseArgs() ([]Expr, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	args := []Expr{}
	if p.curTokenIs(TokenRParen) {
		p.nextToken()
		return args, nil
	}
	for {
		arg, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return args, nil
}
