// Package parser implements the recursive-descent parser for C4: it
// turns a token stream from pkg/sqlfrontend/lexer into the AST defined
// in pkg/sqlfrontend/ast. It performs no semantic checks; unknown
// entities and attributes are left for the executor to discover.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/lexer"
)

// Error is a ParseError: the offending token's byte offset plus a
// human-readable message.
type Error struct {
	Offset  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Message)
}

var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

var dateFuncs = map[string]bool{
	"YEAR": true, "MONTH": true, "DAY": true, "DATEADD": true, "GETDATE": true,
}

// Parse parses one SQL statement from src.
func Parse(src string) (ast.Statement, error) {
	toks, err := lexer.Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		// A trailing ';' is allowed and consumed by parseStatement where
		// relevant; anything else left over is an error.
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == ";" {
			p.advance()
		}
	}
	if !p.atEOF() {
		return nil, &Error{Offset: p.cur().Offset, Message: "unexpected trailing input"}
	}
	return stmt, nil
}

type parser struct {
	toks []lexer.Token
	pos  int
	gen  int // counter for synthetic alias generation, unused here but kept for callers
}

func (p *parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *parser) atEOF() bool       { return p.cur().Kind == lexer.TokEOF }
func (p *parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	return p.cur().Kind == lexer.TokIdent && p.cur().Upper() == kw
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return &Error{Offset: p.cur().Offset, Message: fmt.Sprintf("expected %q, got %q", kw, p.cur().Text)}
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(s string) error {
	if p.cur().Kind != lexer.TokPunct || p.cur().Text != s {
		return &Error{Offset: p.cur().Offset, Message: fmt.Sprintf("expected %q, got %q", s, p.cur().Text)}
	}
	p.advance()
	return nil
}

func (p *parser) parseStatement() (ast.Statement, error) {
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("BEGIN"):
		return p.parseBlock()
	case p.isKeyword("IF"):
		return p.parseIf()
	default:
		return nil, &Error{Offset: p.cur().Offset, Message: fmt.Sprintf("unexpected token %q at start of statement", p.cur().Text)}
	}
}

func (p *parser) parseBlock() (ast.Statement, error) {
	if err := p.expectKeyword("BEGIN"); err != nil {
		return nil, err
	}
	var stmts []ast.Statement
	for !p.isKeyword("END") {
		if p.atEOF() {
			return nil, &Error{Offset: p.cur().Offset, Message: "unterminated BEGIN block"}
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == ";" {
			p.advance()
		}
	}
	p.advance() // END
	return &ast.BlockStatement{Statements: stmts}, nil
}

func (p *parser) parseIf() (ast.Statement, error) {
	if err := p.expectKeyword("IF"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	stmt := &ast.IfStatement{Condition: cond, Then: then}
	if p.isKeyword("ELSE") {
		p.advance()
		elseStmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmt.Else = elseStmt
	}
	return stmt, nil
}

func (p *parser) parseSelect() (*ast.SelectStatement, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	sel := &ast.SelectStatement{}

	if p.isKeyword("DISTINCT") {
		p.advance()
		sel.Distinct = true
	}
	if p.isKeyword("TOP") {
		p.advance()
		if p.cur().Kind != lexer.TokNumber {
			return nil, &Error{Offset: p.cur().Offset, Message: "expected number after TOP"}
		}
		n, err := strconv.Atoi(p.advance().Text)
		if err != nil {
			return nil, &Error{Offset: p.cur().Offset, Message: "invalid TOP value"}
		}
		sel.Top = n
	}

	cols, err := p.parseSelectColumns()
	if err != nil {
		return nil, err
	}
	sel.Columns = cols

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseTableRef()
	if err != nil {
		return nil, err
	}
	sel.From = from

	for p.isKeyword("JOIN") || p.isKeyword("INNER") || p.isKeyword("LEFT") {
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, join)
	}

	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		sel.Where = where
	}

	if p.isKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
			if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
				p.advance()
				continue
			}
			break
		}
	}

	if p.isKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			item := ast.OrderItem{Expr: e}
			if p.isKeyword("DESC") {
				p.advance()
				item.Descending = true
			} else if p.isKeyword("ASC") {
				p.advance()
			}
			sel.OrderBy = append(sel.OrderBy, item)
			if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
				p.advance()
				continue
			}
			break
		}
	}

	return sel, nil
}

func (p *parser) parseSelectColumns() ([]ast.SelectColumn, error) {
	var cols []ast.SelectColumn
	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	return cols, nil
}

func (p *parser) parseSelectColumn() (ast.SelectColumn, error) {
	e, err := p.parseAdditive()
	if err != nil {
		return ast.SelectColumn{}, err
	}

	col := ast.SelectColumn{Expr: e, Kind: ast.ColPlain}
	switch v := e.(type) {
	case *ast.FuncCall:
		if aggregateFuncs[strings.ToUpper(v.Name)] {
			col.Kind = ast.ColAggregate
		} else {
			col.Kind = ast.ColComputed
		}
	case *ast.ColumnRef:
		col.Kind = ast.ColPlain
	default:
		col.Kind = ast.ColComputed
	}

	if p.isKeyword("AS") {
		p.advance()
		if p.cur().Kind != lexer.TokIdent {
			return ast.SelectColumn{}, &Error{Offset: p.cur().Offset, Message: "expected alias after AS"}
		}
		col.Alias = p.advance().Text
	} else if p.cur().Kind == lexer.TokIdent && !isClauseKeyword(p.cur().Upper()) {
		col.Alias = p.advance().Text
	}
	return col, nil
}

func isClauseKeyword(s string) bool {
	switch s {
	case "FROM", "WHERE", "GROUP", "ORDER", "JOIN", "INNER", "LEFT", "AS", "END", "ELSE":
		return true
	}
	return false
}

func (p *parser) parseTableRef() (ast.TableRef, error) {
	if p.cur().Kind != lexer.TokIdent {
		return ast.TableRef{}, &Error{Offset: p.cur().Offset, Message: "expected table name"}
	}
	ref := ast.TableRef{Name: p.advance().Text}
	if p.isKeyword("AS") {
		p.advance()
		ref.Alias = p.advance().Text
	} else if p.cur().Kind == lexer.TokIdent && !isClauseKeyword(p.cur().Upper()) {
		ref.Alias = p.advance().Text
	}
	return ref, nil
}

func (p *parser) parseJoin() (ast.Join, error) {
	kind := ast.JoinInner
	if p.isKeyword("LEFT") {
		kind = ast.JoinLeft
		p.advance()
		if p.isKeyword("OUTER") {
			p.advance()
		}
	} else if p.isKeyword("INNER") {
		p.advance()
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return ast.Join{}, err
	}
	table, err := p.parseTableRef()
	if err != nil {
		return ast.Join{}, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return ast.Join{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return ast.Join{}, err
	}
	return ast.Join{Kind: kind, Table: table, Condition: cond}, nil
}

func (p *parser) parseInsert() (ast.Statement, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if p.isKeyword("INTO") {
		p.advance()
	}
	if p.cur().Kind != lexer.TokIdent {
		return nil, &Error{Offset: p.cur().Offset, Message: "expected table name"}
	}
	stmt := &ast.InsertStatement{Table: p.advance().Text}

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		if p.cur().Kind != lexer.TokIdent {
			return nil, &Error{Offset: p.cur().Offset, Message: "expected column name"}
		}
		stmt.Columns = append(stmt.Columns, p.advance().Text)
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		e, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, e)
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseUpdate() (ast.Statement, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	if p.cur().Kind != lexer.TokIdent {
		return nil, &Error{Offset: p.cur().Offset, Message: "expected table name"}
	}
	stmt := &ast.UpdateStatement{Table: p.advance().Text}

	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		if p.cur().Kind != lexer.TokIdent {
			return nil, &Error{Offset: p.cur().Offset, Message: "expected column name in SET"}
		}
		col := p.advance().Text
		if err := p.expectOp("="); err != nil {
			return nil, err
		}
		val, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, ast.Assignment{Column: col, Value: val})
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}

	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *parser) expectOp(op string) error {
	if p.cur().Kind != lexer.TokOp || p.cur().Text != op {
		return &Error{Offset: p.cur().Offset, Message: fmt.Sprintf("expected %q, got %q", op, p.cur().Text)}
	}
	p.advance()
	return nil
}

func (p *parser) parseDelete() (ast.Statement, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if p.isKeyword("FROM") {
		p.advance()
	}
	if p.cur().Kind != lexer.TokIdent {
		return nil, &Error{Offset: p.cur().Offset, Message: "expected table name"}
	}
	stmt := &ast.DeleteStatement{Table: p.advance().Text}

	if p.isKeyword("WHERE") {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// parseExpr parses a full boolean expression: OR of ANDs.
func (p *parser) parseExpr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Logical{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.Logical{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.isKeyword("NOT") {
		p.advance()
		if p.isKeyword("EXISTS") {
			return p.parseExists(true)
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.Logical{Op: "not", Left: operand}, nil
	}
	if p.isKeyword("EXISTS") {
		return p.parseExists(false)
	}
	return p.parsePredicate()
}

func (p *parser) parseExists(negate bool) (ast.Expr, error) {
	if err := p.expectKeyword("EXISTS"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	sub, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.Exists{Subquery: sub, Negate: negate}, nil
}

// parsePredicate parses a comparison, IS NULL test, or IN test, with
// parenthesized sub-expressions handled transparently.
func (p *parser) parsePredicate() (ast.Expr, error) {
	if p.cur().Kind == lexer.TokPunct && p.cur().Text == "(" {
		// Could be a parenthesized boolean expression.
		save := p.pos
		p.advance()
		inner, err := p.parseExpr()
		if err == nil && p.cur().Kind == lexer.TokPunct && p.cur().Text == ")" {
			p.advance()
			return inner, nil
		}
		p.pos = save
	}

	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch {
	case p.isKeyword("IS"):
		p.advance()
		negate := false
		if p.isKeyword("NOT") {
			p.advance()
			negate = true
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &ast.NullTest{Expr: left, Negate: negate}, nil

	case p.isKeyword("NOT"):
		p.advance()
		if err := p.expectKeyword("IN"); err != nil {
			return nil, err
		}
		return p.parseInTail(left, true)

	case p.isKeyword("IN"):
		p.advance()
		return p.parseInTail(left, false)

	case p.cur().Kind == lexer.TokOp:
		op := p.advance().Text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: op, Left: left, Right: right}, nil

	default:
		return left, nil
	}
}

func (p *parser) parseInTail(left ast.Expr, negate bool) (ast.Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	if p.isKeyword("SELECT") {
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &ast.InSubquery{Expr: left, Subquery: sub, Negate: negate}, nil
	}

	var values []ast.Expr
	for {
		v, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ast.InList{Expr: left, Values: values, Negate: negate}, nil
}

// parseAdditive parses +/- arithmetic, used both inside boolean
// predicates and for computed SELECT columns / GROUP BY / ORDER BY.
func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.cur().Kind == lexer.TokOp && (p.cur().Text == "+" || p.cur().Text == "-") {
		op := p.advance().Text
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	tok := p.cur()
	switch {
	case tok.Kind == lexer.TokNumber:
		p.advance()
		if strings.Contains(tok.Text, ".") {
			f, err := strconv.ParseFloat(tok.Text, 64)
			if err != nil {
				return nil, &Error{Offset: tok.Offset, Message: "invalid number literal"}
			}
			return &ast.Literal{Value: f}, nil
		}
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return nil, &Error{Offset: tok.Offset, Message: "invalid integer literal"}
		}
		return &ast.Literal{Value: n}, nil

	case tok.Kind == lexer.TokString:
		p.advance()
		return &ast.Literal{Value: tok.Text}, nil

	case tok.Kind == lexer.TokPunct && tok.Text == "*":
		p.advance()
		return &ast.Star{}, nil

	case tok.Kind == lexer.TokPunct && tok.Text == "(":
		p.advance()
		e, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil

	case tok.Kind == lexer.TokIdent:
		return p.parseIdentExpr()

	default:
		return nil, &Error{Offset: tok.Offset, Message: fmt.Sprintf("unexpected token %q", tok.Text)}
	}
}

func (p *parser) parseIdentExpr() (ast.Expr, error) {
	name := p.advance().Text

	if p.cur().Kind == lexer.TokPunct && p.cur().Text == "(" {
		return p.parseFuncCallTail(name)
	}

	if p.cur().Kind == lexer.TokPunct && p.cur().Text == "." {
		p.advance()
		if p.cur().Kind != lexer.TokIdent {
			return nil, &Error{Offset: p.cur().Offset, Message: "expected column name after '.'"}
		}
		col := p.advance().Text
		return &ast.ColumnRef{Table: name, Column: col}, nil
	}

	upper := strings.ToUpper(name)
	if upper == "NULL" {
		return &ast.Literal{Value: nil}, nil
	}
	if upper == "TRUE" {
		return &ast.Literal{Value: true}, nil
	}
	if upper == "FALSE" {
		return &ast.Literal{Value: false}, nil
	}

	return &ast.ColumnRef{Column: name}, nil
}

func (p *parser) parseFuncCallTail(name string) (ast.Expr, error) {
	p.advance() // "("
	call := &ast.FuncCall{Name: strings.ToUpper(name)}

	if p.cur().Kind == lexer.TokPunct && p.cur().Text == ")" {
		p.advance()
		return call, nil
	}

	if p.isKeyword("DISTINCT") {
		p.advance()
		call.Distinct = true
	}

	for {
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == "*" {
			p.advance()
			call.Args = append(call.Args, &ast.Star{})
		} else {
			arg, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		if p.cur().Kind == lexer.TokPunct && p.cur().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return call, nil
}
