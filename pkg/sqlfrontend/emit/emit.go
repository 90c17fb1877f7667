// Package emit implements the XML query emitter (C6): it walks a
// rewritten SELECT AST and serializes it to the Service's XML query
// language. The emitter performs no I/O and never fails on anything
// the rewrite stage already proved equivalent; it only rejects
// constructs that genuinely cannot be expressed (Untranspilable).
package emit

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/rewrite"
)

// fetchXML mirrors the Service's wire element names exactly; field
// order here is output order.
type fetchXML struct {
	XMLName    xml.Name      `xml:"fetch"`
	Aggregate  string        `xml:"aggregate,attr,omitempty"`
	Distinct   string        `xml:"distinct,attr,omitempty"`
	Top        int           `xml:"top,attr,omitempty"`
	Entity     entityXML     `xml:"entity"`
}

type entityXML struct {
	Name       string        `xml:"name,attr"`
	Attributes []attributeXML `xml:"attribute"`
	Links      []linkEntityXML `xml:"link-entity"`
	Filter     *filterXML    `xml:"filter"`
	Orders     []orderXML    `xml:"order"`
}

type attributeXML struct {
	Name         string `xml:"name,attr"`
	Alias        string `xml:"alias,attr,omitempty"`
	GroupBy      string `xml:"groupby,attr,omitempty"`
	Aggregate    string `xml:"aggregate,attr,omitempty"`
	DateGrouping string `xml:"dategrouping,attr,omitempty"`
}

type linkEntityXML struct {
	Name     string         `xml:"name,attr"`
	From     string         `xml:"from,attr"`
	To       string         `xml:"to,attr"`
	LinkType string         `xml:"link-type,attr,omitempty"`
	Alias    string         `xml:"alias,attr,omitempty"`
	Filter   *filterXML     `xml:"filter"`
}

type filterXML struct {
	Type       string        `xml:"type,attr"`
	Conditions []conditionXML `xml:"condition"`
	Filters    []filterXML   `xml:"filter"`
}

type conditionXML struct {
	Attribute string `xml:"attribute,attr"`
	Operator  string `xml:"operator,attr"`
	Value     string `xml:"value,attr,omitempty"`
}

type orderXML struct {
	Attribute  string `xml:"attribute,attr"`
	Descending string `xml:"descending,attr,omitempty"`
}

// Error signals a statement that survived rewriting but cannot be
// expressed in the Service's XML query language.
type Error struct {
	Message string
}

func (e *Error) Error() string { return "untranspilable: " + e.Message }

// Emit serializes sel (with rewrite annotations ann) to the Service's
// XML query language.
func Emit(sel *ast.SelectStatement, ann *rewrite.Annotations) (string, error) {
	isAggregate := len(ann.DateGroupings) > 0
	for _, c := range sel.Columns {
		if c.Kind == ast.ColAggregate {
			isAggregate = true
		}
	}

	fetch := fetchXML{
		Entity: entityXML{Name: sel.From.Name},
	}
	if isAggregate {
		fetch.Aggregate = "true"
	}
	if sel.Distinct {
		fetch.Distinct = "true"
	}
	if sel.Top > 0 {
		fetch.Top = sel.Top
	}

	groupedAliases := map[string]bool{}
	for _, dg := range ann.DateGroupings {
		groupedAliases[dg.Alias] = true
		fetch.Entity.Attributes = append(fetch.Entity.Attributes, attributeXML{
			Name:         dg.Attribute,
			Alias:        dg.Alias,
			GroupBy:      "true",
			DateGrouping: dg.Part,
		})
	}

	for _, col := range sel.Columns {
		if fc, ok := col.Expr.(*ast.FuncCall); ok && len(fc.Args) == 1 {
			if ref, ok := fc.Args[0].(*ast.ColumnRef); ok {
				covered := false
				for _, dg := range ann.DateGroupings {
					if dg.Part == strings.ToLower(fc.Name) && dg.Table == ref.Table && dg.Attribute == ref.Column {
						covered = true
					}
				}
				if covered {
					continue // already emitted above as a dategrouping attribute
				}
			}
		}
		attr, groupedAlias, err := emitColumn(col, isAggregate)
		if err != nil {
			return "", err
		}
		if attr == nil {
			continue
		}
		fetch.Entity.Attributes = append(fetch.Entity.Attributes, *attr)
		if groupedAlias != "" {
			groupedAliases[groupedAlias] = true
		}
	}

	for _, j := range sel.Joins {
		link, err := emitJoin(j)
		if err != nil {
			return "", err
		}
		fetch.Entity.Links = append(fetch.Entity.Links, link)
	}

	if sel.Where != nil {
		f, err := emitWhere(sel.Where)
		if err != nil {
			return "", err
		}
		fetch.Entity.Filter = f
	}

	for _, o := range sel.OrderBy {
		order, err := emitOrder(o, isAggregate, groupedAliases)
		if err != nil {
			return "", err
		}
		fetch.Entity.Orders = append(fetch.Entity.Orders, order)
	}

	out, err := xml.MarshalIndent(fetch, "", "  ")
	if err != nil {
		return "", &Error{Message: err.Error()}
	}
	return string(out), nil
}

func emitColumn(col ast.SelectColumn, isAggregate bool) (*attributeXML, string, error) {
	switch e := col.Expr.(type) {
	case *ast.ColumnRef:
		if isAggregate {
			return &attributeXML{Name: e.Column, Alias: col.Alias, GroupBy: "true"}, col.Alias, nil
		}
		return &attributeXML{Name: e.Column, Alias: col.Alias}, "", nil

	case *ast.FuncCall:
		kind, ok := aggregateKind(e)
		if !ok {
			return nil, "", &Error{Message: fmt.Sprintf("function %s cannot be projected outside an aggregate context", e.Name)}
		}
		attrName := ""
		if len(e.Args) == 1 {
			if c, ok := e.Args[0].(*ast.ColumnRef); ok {
				attrName = c.Column
			}
		}
		if attrName == "" {
			attrName = strings.ToLower(e.Name)
		}
		return &attributeXML{Name: attrName, Alias: col.Alias, Aggregate: kind}, "", nil

	case *ast.Star:
		return nil, "", nil

	default:
		return nil, "", &Error{Message: "computed expression columns are not representable in the Service's query language"}
	}
}

func aggregateKind(fc *ast.FuncCall) (string, bool) {
	switch fc.Name {
	case "COUNT":
		return "countcolumn", true
	case "SUM":
		return "sum", true
	case "AVG":
		return "avg", true
	case "MIN":
		return "min", true
	case "MAX":
		return "max", true
	default:
		return "", false
	}
}

func emitJoin(j ast.Join) (linkEntityXML, error) {
	from, to, err := joinColumns(j.Condition)
	if err != nil {
		return linkEntityXML{}, err
	}
	link := linkEntityXML{
		Name:  j.Table.Name,
		Alias: j.Table.Alias,
		From:  from,
		To:    to,
	}
	if j.Kind == ast.JoinLeft {
		link.LinkType = "outer"
	}
	return link, nil
}

// joinColumns extracts the (childColumn, parentColumn) pair from a
// simple equality join condition qualified on both sides.
func joinColumns(cond ast.Expr) (string, string, error) {
	bin, ok := cond.(*ast.BinaryExpr)
	if !ok || bin.Op != "=" {
		return "", "", &Error{Message: "join condition must be a simple equality"}
	}
	l, lok := bin.Left.(*ast.ColumnRef)
	r, rok := bin.Right.(*ast.ColumnRef)
	if !lok || !rok {
		return "", "", &Error{Message: "join condition must compare two columns"}
	}
	return l.Column, r.Column, nil
}

func emitWhere(e ast.Expr) (*filterXML, error) {
	f := &filterXML{Type: "and"}
	if err := appendToFilter(f, e); err != nil {
		return nil, err
	}
	return f, nil
}

func appendToFilter(f *filterXML, e ast.Expr) error {
	switch n := e.(type) {
	case *ast.Logical:
		switch n.Op {
		case "and":
			if f.Type == "and" {
				if err := appendToFilter(f, n.Left); err != nil {
					return err
				}
				return appendToFilter(f, n.Right)
			}
		case "or":
			child := &filterXML{Type: "or"}
			if err := appendToFilter(child, n.Left); err != nil {
				return err
			}
			if err := appendToFilter(child, n.Right); err != nil {
				return err
			}
			f.Filters = append(f.Filters, *child)
			return nil
		}
		child := &filterXML{Type: n.Op}
		if err := appendToFilter(child, n.Left); err != nil {
			return err
		}
		if n.Right != nil {
			if err := appendToFilter(child, n.Right); err != nil {
				return err
			}
		}
		f.Filters = append(f.Filters, *child)
		return nil

	case *ast.Literal:
		if b, ok := n.Value.(bool); ok && b {
			return nil // trivially-true placeholder from a rewrite with no merged predicate
		}
		return &Error{Message: "literal is not a valid filter condition"}

	default:
		cond, err := emitCondition(e)
		if err != nil {
			return err
		}
		f.Conditions = append(f.Conditions, cond)
		return nil
	}
}

func emitCondition(e ast.Expr) (conditionXML, error) {
	switch n := e.(type) {
	case *ast.BinaryExpr:
		col, ok := n.Left.(*ast.ColumnRef)
		if !ok {
			return conditionXML{}, &Error{Message: "condition left-hand side must be a column"}
		}
		op, err := binaryOperator(n.Op)
		if err != nil {
			return conditionXML{}, err
		}
		return conditionXML{Attribute: col.Column, Operator: op, Value: literalString(n.Right)}, nil

	case *ast.NullTest:
		col, ok := n.Expr.(*ast.ColumnRef)
		if !ok {
			return conditionXML{}, &Error{Message: "IS NULL target must be a column"}
		}
		op := "null"
		if n.Negate {
			op = "not-null"
		}
		return conditionXML{Attribute: col.Column, Operator: op}, nil

	case *ast.InList:
		col, ok := n.Expr.(*ast.ColumnRef)
		if !ok {
			return conditionXML{}, &Error{Message: "IN target must be a column"}
		}
		if n.Negate {
			return conditionXML{}, &Error{Message: "NOT IN with a literal list has no direct representation"}
		}
		values := make([]string, len(n.Values))
		for i, v := range n.Values {
			values[i] = literalString(v)
		}
		return conditionXML{Attribute: col.Column, Operator: "in", Value: strings.Join(values, ",")}, nil

	default:
		return conditionXML{}, &Error{Message: "unsupported WHERE construct for XML emission"}
	}
}

func binaryOperator(op string) (string, error) {
	switch op {
	case "=":
		return "eq", nil
	case "<>":
		return "neq", nil
	case "<":
		return "lt", nil
	case "<=":
		return "le", nil
	case ">":
		return "gt", nil
	case ">=":
		return "ge", nil
	default:
		return "", &Error{Message: "unsupported comparison operator " + op}
	}
}

func literalString(e ast.Expr) string {
	lit, ok := e.(*ast.Literal)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", lit.Value)
}

func emitOrder(o ast.OrderItem, isAggregate bool, groupedAliases map[string]bool) (orderXML, error) {
	col, ok := o.Expr.(*ast.ColumnRef)
	if !ok {
		return orderXML{}, &Error{Message: "ORDER BY must reference a column or alias"}
	}
	if isAggregate && !groupedAliases[col.Column] {
		return orderXML{}, &Error{Message: "an aggregate query's ORDER BY must reference a grouped or aggregate alias"}
	}
	order := orderXML{Attribute: col.Column}
	if o.Descending {
		order.Descending = "true"
	}
	return order, nil
}

// ClassifyEmitError maps an emit-stage failure to the core's stable
// error taxonomy.
func ClassifyEmitError(err error) error {
	if err == nil {
		return nil
	}
	return contracts.WrapError(contracts.CodeUntranspilable, "statement cannot be expressed in the Service's query language", err)
}
