package parser

import (
	"testing"

	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleSelect(t *testing.T) {
	stmt, err := Parse("SELECT name, accountnumber FROM account WHERE statecode = 0")
	require.NoError(t, err)

	sel, ok := stmt.(*ast.SelectStatement)
	require.True(t, ok)
	require.Len(t, sel.Columns, 2)
	assert.Equal(t, "name", sel.Columns[0].Expr.(*ast.ColumnRef).Column)
	assert.Equal(t, "account", sel.From.Name)

	cmp, ok := sel.Where.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "=", cmp.Op)
}

func TestParseDistinctTopAlias(t *testing.T) {
	stmt, err := Parse("SELECT DISTINCT TOP 10 name AS n FROM account")
	require.NoError(t, err)
	sel := stmt.(*ast.SelectStatement)
	assert.True(t, sel.Distinct)
	assert.Equal(t, 10, sel.Top)
	assert.Equal(t, "n", sel.Columns[0].Alias)
}

func TestParseAggregateDateGroupBy(t *testing.T) {
	stmt, err := Parse("SELECT YEAR(createdon) AS yr, COUNT(*) FROM account GROUP BY YEAR(createdon)")
	require.NoError(t, err)
	sel := stmt.(*ast.SelectStatement)

	require.Len(t, sel.Columns, 2)
	assert.Equal(t, ast.ColComputed, sel.Columns[0].Kind)
	assert.Equal(t, "yr", sel.Columns[0].Alias)
	assert.Equal(t, ast.ColAggregate, sel.Columns[1].Kind)

	require.Len(t, sel.GroupBy, 1)
	fc, ok := sel.GroupBy[0].(*ast.FuncCall)
	require.True(t, ok)
	assert.Equal(t, "YEAR", fc.Name)
}

func TestParseInSubquery(t *testing.T) {
	sql := "SELECT name FROM account WHERE accountid IN (SELECT accountid FROM opportunity WHERE statecode = 0)"
	stmt, err := Parse(sql)
	require.NoError(t, err)
	sel := stmt.(*ast.SelectStatement)

	in, ok := sel.Where.(*ast.InSubquery)
	require.True(t, ok)
	assert.False(t, in.Negate)
	assert.Equal(t, "opportunity", in.Subquery.From.Name)
}

func TestParseNotExists(t *testing.T) {
	sql := "SELECT name FROM account WHERE NOT EXISTS (SELECT 1 FROM contact c WHERE c.parentcustomerid = account.accountid)"
	stmt, err := Parse(sql)
	require.NoError(t, err)
	sel := stmt.(*ast.SelectStatement)

	ex, ok := sel.Where.(*ast.Exists)
	require.True(t, ok)
	assert.True(t, ex.Negate)
	assert.Equal(t, "contact", ex.Subquery.From.Name)
	assert.Equal(t, "c", ex.Subquery.From.Alias)
}

func TestParseJoinOnOrderBy(t *testing.T) {
	sql := "SELECT a.name FROM account a INNER JOIN contact c ON c.parentcustomerid = a.accountid ORDER BY a.name DESC"
	stmt, err := Parse(sql)
	require.NoError(t, err)
	sel := stmt.(*ast.SelectStatement)

	require.Len(t, sel.Joins, 1)
	assert.Equal(t, ast.JoinInner, sel.Joins[0].Kind)
	assert.Equal(t, "contact", sel.Joins[0].Table.Name)

	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Descending)
}

func TestParseDeleteWithoutWhere(t *testing.T) {
	stmt, err := Parse("DELETE FROM account")
	require.NoError(t, err)
	del := stmt.(*ast.DeleteStatement)
	assert.Equal(t, "account", del.Table)
	assert.Nil(t, del.Where)
}

func TestParseUpdateSet(t *testing.T) {
	stmt, err := Parse("UPDATE account SET name = 'Acme' WHERE accountid = 1")
	require.NoError(t, err)
	upd := stmt.(*ast.UpdateStatement)
	require.Len(t, upd.Assignments, 1)
	assert.Equal(t, "name", upd.Assignments[0].Column)
	assert.NotNil(t, upd.Where)
}

func TestParseIfElseBlock(t *testing.T) {
	sql := "IF 1 = 1 BEGIN SELECT name FROM account END ELSE BEGIN SELECT name FROM contact END"
	stmt, err := Parse(sql)
	require.NoError(t, err)
	ifs, ok := stmt.(*ast.IfStatement)
	require.True(t, ok)
	require.NotNil(t, ifs.Else)
}

func TestParseErrorReportsOffset(t *testing.T) {
	_, err := Parse("SELEKT name FROM account")
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.Offset)
}

func TestParseInList(t *testing.T) {
	stmt, err := Parse("SELECT name FROM account WHERE statecode IN (0, 1)")
	require.NoError(t, err)
	sel := stmt.(*ast.SelectStatement)
	in, ok := sel.Where.(*ast.InList)
	require.True(t, ok)
	assert.Len(t, in.Values, 2)
}

func TestParseIsNull(t *testing.T) {
	stmt, err := Parse("SELECT name FROM account WHERE parentaccountid IS NOT NULL")
	require.NoError(t, err)
	sel := stmt.(*ast.SelectStatement)
	nt, ok := sel.Where.(*ast.NullTest)
	require.True(t, ok)
	assert.True(t, nt.Negate)
}
