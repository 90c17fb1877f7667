// Package rewrite implements the bottom-up semantic rewrites (C5)
// that exist because the Service's XML query language has no
// subqueries and no date-part expressions: IN-subquery and
// EXISTS/NOT EXISTS become joins, and date-part GROUP BY becomes
// tagged date-grouping attributes. Every rewrite here must either
// prove semantic equivalence or leave the AST untouched — the caller
// (C6) may then reject an unrewritten construct as Untranspilable.
package rewrite

import (
	"fmt"

	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
)

// DateGrouping is one date-part GROUP BY entry extracted from the
// statement: the emitter renders it as a dategrouping-tagged
// attribute instead of a plain computed column.
type DateGrouping struct {
	Table     string // qualifying alias, "" if unqualified
	Attribute string
	Part      string // "year", "month", "day"
	Alias     string
}

// Annotations carries side information the rewrite stage produces
// that doesn't fit into the plain AST shape.
type Annotations struct {
	DateGroupings []DateGrouping
}

var datePartFuncs = map[string]string{
	"YEAR":  "year",
	"MONTH": "month",
	"DAY":   "day",
}

type aliasGen struct{ n int }

func (g *aliasGen) next(table, purpose string) string {
	alias := fmt.Sprintf("%s_%s%d", table, purpose, g.n)
	g.n++
	return alias
}

// Rewrite applies every rewrite in turn to sel, returning the
// (possibly mutated) statement and the date-grouping annotations the
// emitter needs. sel is mutated in place and also returned for
// convenience.
func Rewrite(sel *ast.SelectStatement) (*ast.SelectStatement, *Annotations, error) {
	gen := &aliasGen{}

	usedAliases := collectAliases(sel)

	if sel.Where != nil {
		newWhere, err := rewriteExpr(sel, sel.Where, gen, usedAliases)
		if err != nil {
			return nil, nil, err
		}
		sel.Where = newWhere
	}

	ann := &Annotations{}
	sel.GroupBy = extractDateGroupings(sel, ann)

	return sel, ann, nil
}

func collectAliases(sel *ast.SelectStatement) map[string]bool {
	used := map[string]bool{sel.From.EffectiveAlias(): true}
	for _, j := range sel.Joins {
		used[j.Table.EffectiveAlias()] = true
	}
	return used
}

// rewriteExpr walks the WHERE tree bottom-up, replacing InSubquery and
// Exists nodes with equivalent joins merged into sel, and recursing
// into AND/OR/NOT structure. Any node type it does not recognize
// passes through unchanged.
func rewriteExpr(sel *ast.SelectStatement, e ast.Expr, gen *aliasGen, used map[string]bool) (ast.Expr, error) {
	switch n := e.(type) {
	case *ast.Logical:
		left, err := rewriteExpr(sel, n.Left, gen, used)
		if err != nil {
			return nil, err
		}
		n.Left = left
		if n.Right != nil {
			right, err := rewriteExpr(sel, n.Right, gen, used)
			if err != nil {
				return nil, err
			}
			n.Right = right
		}
		return n, nil

	case *ast.InSubquery:
		rewritten, ok, err := rewriteInSubquery(sel, n, gen, used)
		if err != nil {
			return nil, err
		}
		if ok {
			return rewritten, nil
		}
		return n, nil

	case *ast.Exists:
		rewritten, ok, err := rewriteExists(sel, n, gen, used)
		if err != nil {
			return nil, err
		}
		if ok {
			return rewritten, nil
		}
		return n, nil

	default:
		return e, nil
	}
}

// rewriteInSubquery implements `outer.col IN (SELECT col FROM T WHERE
// P)` → inner join against a uniquely aliased T, with P re-qualified
// and merged into the outer WHERE, plus DISTINCT. Falls back (ok=false)
// for NOT IN, multi-column projections, or a subquery with GROUP BY.
func rewriteInSubquery(sel *ast.SelectStatement, n *ast.InSubquery, gen *aliasGen, used map[string]bool) (ast.Expr, bool, error) {
	sub := n.Subquery
	if n.Negate || len(sub.Columns) != 1 || len(sub.GroupBy) > 0 || len(sub.Joins) > 0 {
		return n, false, nil
	}

	innerCol, ok := sub.Columns[0].Expr.(*ast.ColumnRef)
	if !ok {
		return n, false, nil
	}

	alias := uniqueAlias(gen, sub.From.Name, "sub", used)
	used[alias] = true

	// Left/right order matches rewriteExists: child (subquery alias)
	// first, parent (outer) second, so emit.joinColumns derives the
	// same (from, to) convention for both rewrite paths.
	joinCond := &ast.BinaryExpr{
		Op:    "=",
		Left:  &ast.ColumnRef{Table: alias, Column: innerCol.Column},
		Right: n.Expr,
	}
	sel.Joins = append(sel.Joins, ast.Join{
		Kind:      ast.JoinInner,
		Table:     ast.TableRef{Name: sub.From.Name, Alias: alias},
		Condition: joinCond,
	})

	var merged ast.Expr = &ast.Literal{Value: true}
	if sub.Where != nil {
		// T is the subquery's only table, so P's unqualified columns
		// belong to it as well.
		merged = requalify(requalify(sub.Where, "", alias), sub.From.EffectiveAlias(), alias)
	}
	sel.Distinct = true

	if sub.Where == nil {
		// No predicate to merge; the join membership test alone is the
		// rewrite's contribution to WHERE.
		return &ast.Literal{Value: true}, true, nil
	}
	return merged, true, nil
}

// rewriteExists implements `[NOT] EXISTS (SELECT 1 FROM T WHERE
// T.fk = outer.pk AND Q)` → a join on the correlated equality
// predicate, with Q re-qualified and merged into the outer WHERE (for
// EXISTS) or the outer-where extended with an IS NULL test on the
// join column (for NOT EXISTS). Falls back if no correlated equality
// predicate can be found.
func rewriteExists(sel *ast.SelectStatement, n *ast.Exists, gen *aliasGen, used map[string]bool) (ast.Expr, bool, error) {
	sub := n.Subquery
	if len(sub.Joins) > 0 || len(sub.GroupBy) > 0 {
		return n, false, nil
	}

	corrEq, rest, ok := extractCorrelatedEquality(sub.Where, sub.From.EffectiveAlias())
	if !ok {
		return n, false, nil
	}

	alias := uniqueAlias(gen, sub.From.Name, "sub", used)
	used[alias] = true

	joinCond := requalify(corrEq, sub.From.EffectiveAlias(), alias)

	kind := ast.JoinInner
	if n.Negate {
		kind = ast.JoinLeft
	}
	sel.Joins = append(sel.Joins, ast.Join{
		Kind:      kind,
		Table:     ast.TableRef{Name: sub.From.Name, Alias: alias},
		Condition: joinCond,
	})

	if n.Negate {
		nullTest := &ast.NullTest{Expr: &ast.ColumnRef{Table: alias, Column: joinColumnOf(joinCond, alias)}}
		if rest != nil {
			merged := requalify(rest, sub.From.EffectiveAlias(), alias)
			return &ast.Logical{Op: "and", Left: nullTest, Right: merged}, true, nil
		}
		return nullTest, true, nil
	}

	sel.Distinct = true
	if rest != nil {
		return requalify(rest, sub.From.EffectiveAlias(), alias), true, nil
	}
	return &ast.Literal{Value: true}, true, nil
}

// joinColumnOf returns the column name on alias's side of an equality
// join condition built by rewriteExists.
func joinColumnOf(cond ast.Expr, alias string) string {
	bin, ok := cond.(*ast.BinaryExpr)
	if !ok {
		return ""
	}
	if c, ok := bin.Left.(*ast.ColumnRef); ok && c.Table == alias {
		return c.Column
	}
	if c, ok := bin.Right.(*ast.ColumnRef); ok && c.Table == alias {
		return c.Column
	}
	return ""
}

// extractCorrelatedEquality finds one top-level AND-conjunct of where
// that is an equality between a column qualified by innerAlias and a
// column qualified by some other table (the correlation to the outer
// query), and returns it plus the remaining conjuncts (nil if none).
func extractCorrelatedEquality(where ast.Expr, innerAlias string) (ast.Expr, ast.Expr, bool) {
	conjuncts := flattenAnd(where)
	var corr ast.Expr
	var rest []ast.Expr
	for _, c := range conjuncts {
		if corr == nil && isCorrelatedEquality(c, innerAlias) {
			corr = c
			continue
		}
		rest = append(rest, c)
	}
	if corr == nil {
		return nil, nil, false
	}
	return corr, rebuildAnd(rest), true
}

func isCorrelatedEquality(e ast.Expr, innerAlias string) bool {
	bin, ok := e.(*ast.BinaryExpr)
	if !ok || bin.Op != "=" {
		return false
	}
	l, lok := bin.Left.(*ast.ColumnRef)
	r, rok := bin.Right.(*ast.ColumnRef)
	if !lok || !rok {
		return false
	}
	return (l.Table == innerAlias && r.Table != innerAlias && r.Table != "") ||
		(r.Table == innerAlias && l.Table != innerAlias && l.Table != "")
}

func flattenAnd(e ast.Expr) []ast.Expr {
	if e == nil {
		return nil
	}
	if l, ok := e.(*ast.Logical); ok && l.Op == "and" {
		return append(flattenAnd(l.Left), flattenAnd(l.Right)...)
	}
	return []ast.Expr{e}
}

func rebuildAnd(exprs []ast.Expr) ast.Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &ast.Logical{Op: "and", Left: out, Right: e}
	}
	return out
}

// requalify rewrites every ColumnRef qualified with from to instead
// qualify with to. Unqualified refs and refs qualified otherwise pass
// through unchanged.
func requalify(e ast.Expr, from, to string) ast.Expr {
	switch n := e.(type) {
	case *ast.ColumnRef:
		if n.Table == from {
			return &ast.ColumnRef{Table: to, Column: n.Column}
		}
		return n
	case *ast.BinaryExpr:
		return &ast.BinaryExpr{Op: n.Op, Left: requalify(n.Left, from, to), Right: requalify(n.Right, from, to)}
	case *ast.Logical:
		right := n.Right
		if right != nil {
			right = requalify(right, from, to)
		}
		return &ast.Logical{Op: n.Op, Left: requalify(n.Left, from, to), Right: right}
	case *ast.NullTest:
		return &ast.NullTest{Expr: requalify(n.Expr, from, to), Negate: n.Negate}
	case *ast.InList:
		return &ast.InList{Expr: requalify(n.Expr, from, to), Values: n.Values, Negate: n.Negate}
	case *ast.FuncCall:
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = requalify(a, from, to)
		}
		return &ast.FuncCall{Name: n.Name, Args: args, Distinct: n.Distinct}
	default:
		return e
	}
}

func uniqueAlias(gen *aliasGen, table, purpose string, used map[string]bool) string {
	for {
		candidate := gen.next(table, purpose)
		if !used[candidate] {
			return candidate
		}
	}
}

// extractDateGroupings scans groupBy for date-part function calls
// (YEAR/MONTH/DAY), removes them from the plain grouping list, and
// returns annotations the emitter renders as dategrouping attributes.
// Aliases come from a matching SELECT computed column when present,
// else are auto-generated as "<part>_<attribute>".
func extractDateGroupings(sel *ast.SelectStatement, ann *Annotations) []ast.Expr {
	var remaining []ast.Expr
	for _, g := range sel.GroupBy {
		fc, ok := g.(*ast.FuncCall)
		if !ok {
			remaining = append(remaining, g)
			continue
		}
		part, isDatePart := datePartFuncs[fc.Name]
		if !isDatePart || len(fc.Args) != 1 {
			remaining = append(remaining, g)
			continue
		}
		col, ok := fc.Args[0].(*ast.ColumnRef)
		if !ok {
			remaining = append(remaining, g)
			continue
		}

		alias := aliasFromSelectColumn(sel, fc)
		if alias == "" {
			alias = part + "_" + col.Column
		}
		ann.DateGroupings = append(ann.DateGroupings, DateGrouping{
			Table:     col.Table,
			Attribute: col.Column,
			Part:      part,
			Alias:     alias,
		})
	}
	return remaining
}

func aliasFromSelectColumn(sel *ast.SelectStatement, target *ast.FuncCall) string {
	for _, c := range sel.Columns {
		fc, ok := c.Expr.(*ast.FuncCall)
		if !ok || fc.Name != target.Name || len(fc.Args) != 1 {
			continue
		}
		tcol, ok1 := fc.Args[0].(*ast.ColumnRef)
		mcol, ok2 := target.Args[0].(*ast.ColumnRef)
		if ok1 && ok2 && tcol.Table == mcol.Table && tcol.Column == mcol.Column && c.Alias != "" {
			return c.Alias
		}
	}
	return ""
}
