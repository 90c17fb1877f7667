// Package dmlguard implements the DML safety guard (C7): a pure
// structural analyzer over a parsed statement that blocks
// unconditional DELETE/UPDATE and enforces row caps, recursing into
// BEGIN...END and IF...ELSE bodies with worst-case-wins semantics.
package dmlguard

import (
	"context"
	"fmt"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
)

// RowCounter estimates the number of rows a DML statement would
// affect, used only when the caller requests an estimate. Backed by
// the query executor's count facility (C8).
type RowCounter func(ctx context.Context, table string, where ast.Expr) (int64, error)

// Guard evaluates statements against cfg.
type Guard struct {
	cfg     config.DmlGuardConfig
	counter RowCounter
}

// New builds a Guard. counter may be nil if estimate checks are never
// requested.
func New(cfg config.DmlGuardConfig, counter RowCounter) *Guard {
	return &Guard{cfg: cfg, counter: counter}
}

// Check walks stmt (recursing into blocks/if-statements) and returns
// the first blocking violation found, or nil if the statement is
// clear to execute. opts.Confirm must be set for any DML statement;
// opts.Estimate requests a row-cap pre-check via counter; opts.NoLimit
// bypasses the row cap.
func (g *Guard) Check(ctx context.Context, stmt ast.Statement, opts contracts.DmlOptions) error {
	switch s := stmt.(type) {
	case *ast.DeleteStatement:
		return g.checkDelete(ctx, s, opts)
	case *ast.UpdateStatement:
		return g.checkUpdate(ctx, s, opts)
	case *ast.InsertStatement:
		return g.checkConfirm(opts, "INSERT")
	case *ast.BlockStatement:
		for _, inner := range s.Statements {
			if err := g.Check(ctx, inner, opts); err != nil {
				return err
			}
		}
		return nil
	case *ast.IfStatement:
		if err := g.Check(ctx, s.Then, opts); err != nil {
			return err
		}
		if s.Else != nil {
			return g.Check(ctx, s.Else, opts)
		}
		return nil
	default:
		return nil // SELECT and anything else carries no DML risk
	}
}

func (g *Guard) checkDelete(ctx context.Context, s *ast.DeleteStatement, opts contracts.DmlOptions) error {
	if g.cfg.PreventDeleteWithoutWhere && s.Where == nil {
		return blocked(fmt.Sprintf("DELETE without WHERE against %q is blocked", s.Table))
	}
	if err := g.checkConfirm(opts, "DELETE"); err != nil {
		return err
	}
	return g.checkRowCap(ctx, s.Table, s.Where, opts)
}

func (g *Guard) checkUpdate(ctx context.Context, s *ast.UpdateStatement, opts contracts.DmlOptions) error {
	if g.cfg.PreventUpdateWithoutWhere && s.Where == nil {
		return blocked(fmt.Sprintf("UPDATE without WHERE against %q is blocked", s.Table))
	}
	if err := g.checkConfirm(opts, "UPDATE"); err != nil {
		return err
	}
	return g.checkRowCap(ctx, s.Table, s.Where, opts)
}

func (g *Guard) checkConfirm(opts contracts.DmlOptions, verb string) error {
	if !opts.Confirm {
		return blocked(verb + " requires explicit confirmation")
	}
	return nil
}

func (g *Guard) checkRowCap(ctx context.Context, table string, where ast.Expr, opts contracts.DmlOptions) error {
	if opts.NoLimit || g.cfg.RowCap <= 0 || !opts.Estimate || g.counter == nil {
		return nil
	}
	count, err := g.counter(ctx, table, where)
	if err != nil {
		return err
	}
	if count > g.cfg.RowCap {
		return blocked(fmt.Sprintf("estimated %d affected rows on %q exceeds the configured cap of %d", count, table, g.cfg.RowCap))
	}
	return nil
}

func blocked(message string) error {
	return contracts.NewError(contracts.CodeDmlBlocked, message)
}
