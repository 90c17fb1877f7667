package rewrite

import (
	"testing"

	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSelect(t *testing.T, sql string) *ast.SelectStatement {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err)
	sel, ok := stmt.(*ast.SelectStatement)
	require.True(t, ok)
	return sel
}

func TestRewriteInSubqueryBecomesJoin(t *testing.T) {
	sel := parseSelect(t, "SELECT name FROM account WHERE accountid IN (SELECT accountid FROM opportunity WHERE statecode = 0)")

	rewritten, _, err := Rewrite(sel)
	require.NoError(t, err)

	require.Len(t, rewritten.Joins, 1)
	join := rewritten.Joins[0]
	assert.Equal(t, ast.JoinInner, join.Kind)
	assert.Equal(t, "opportunity", join.Table.Name)
	assert.Equal(t, "opportunity_sub0", join.Table.Alias)
	assert.True(t, rewritten.Distinct)

	bin, ok := rewritten.Where.(*ast.BinaryExpr)
	require.True(t, ok)
	ref, ok := bin.Left.(*ast.ColumnRef)
	require.True(t, ok)
	assert.Equal(t, "opportunity_sub0", ref.Table)
	assert.Equal(t, "statecode", ref.Column)
}

func TestRewriteInSubqueryFallsBackForNotIn(t *testing.T) {
	sel := parseSelect(t, "SELECT name FROM account WHERE accountid IN (SELECT accountid FROM opportunity WHERE statecode = 0)")
	sel.Where.(*ast.InSubquery).Negate = true

	rewritten, _, err := Rewrite(sel)
	require.NoError(t, err)
	assert.Empty(t, rewritten.Joins)
	_, stillSubquery := rewritten.Where.(*ast.InSubquery)
	assert.True(t, stillSubquery)
}

func TestRewriteNotExistsBecomesLeftJoinWithNullTest(t *testing.T) {
	sql := "SELECT name FROM account WHERE NOT EXISTS (SELECT 1 FROM contact c WHERE c.parentcustomerid = account.accountid)"
	sel := parseSelect(t, sql)

	rewritten, _, err := Rewrite(sel)
	require.NoError(t, err)

	require.Len(t, rewritten.Joins, 1)
	join := rewritten.Joins[0]
	assert.Equal(t, ast.JoinLeft, join.Kind)
	assert.Equal(t, "contact", join.Table.Name)

	nullTest, ok := rewritten.Where.(*ast.NullTest)
	require.True(t, ok)
	ref := nullTest.Expr.(*ast.ColumnRef)
	assert.Equal(t, join.Table.Alias, ref.Table)
	assert.Equal(t, "parentcustomerid", ref.Column)
}

func TestRewriteExistsBecomesInnerJoin(t *testing.T) {
	sql := "SELECT name FROM account WHERE EXISTS (SELECT 1 FROM contact c WHERE c.parentcustomerid = account.accountid AND c.statecode = 0)"
	sel := parseSelect(t, sql)

	rewritten, _, err := Rewrite(sel)
	require.NoError(t, err)

	require.Len(t, rewritten.Joins, 1)
	assert.Equal(t, ast.JoinInner, rewritten.Joins[0].Kind)
	assert.True(t, rewritten.Distinct)

	bin, ok := rewritten.Where.(*ast.BinaryExpr)
	require.True(t, ok)
	ref := bin.Left.(*ast.ColumnRef)
	assert.Equal(t, rewritten.Joins[0].Table.Alias, ref.Table)
	assert.Equal(t, "statecode", ref.Column)
}

func TestRewriteDateGroupByExtractsAnnotation(t *testing.T) {
	sql := "SELECT YEAR(createdon) AS yr, COUNT(*) FROM account GROUP BY YEAR(createdon)"
	sel := parseSelect(t, sql)

	rewritten, ann, err := Rewrite(sel)
	require.NoError(t, err)

	assert.Empty(t, rewritten.GroupBy, "date-part grouping should be removed from plain GroupBy")
	require.Len(t, ann.DateGroupings, 1)
	dg := ann.DateGroupings[0]
	assert.Equal(t, "year", dg.Part)
	assert.Equal(t, "createdon", dg.Attribute)
	assert.Equal(t, "yr", dg.Alias)
}

func TestRewriteDateGroupByAutoGeneratesAlias(t *testing.T) {
	sql := "SELECT COUNT(*) FROM account GROUP BY MONTH(createdon)"
	sel := parseSelect(t, sql)

	_, ann, err := Rewrite(sel)
	require.NoError(t, err)
	require.Len(t, ann.DateGroupings, 1)
	assert.Equal(t, "month_createdon", ann.DateGroupings[0].Alias)
}
