package dmlguard

import (
	"context"
	"testing"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteWithoutWhereIsBlocked(t *testing.T) {
	g := New(config.DefaultDmlGuardConfig(), nil)
	stmt, err := parser.Parse("DELETE FROM account")
	require.NoError(t, err)

	err = g.Check(context.Background(), stmt, contracts.DmlOptions{Confirm: true})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeDmlBlocked, contracts.CodeOf(err))
}

func TestDeleteWithWhereRequiresConfirm(t *testing.T) {
	g := New(config.DefaultDmlGuardConfig(), nil)
	stmt, err := parser.Parse("DELETE FROM account WHERE accountid = 1")
	require.NoError(t, err)

	err = g.Check(context.Background(), stmt, contracts.DmlOptions{})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeDmlBlocked, contracts.CodeOf(err))

	err = g.Check(context.Background(), stmt, contracts.DmlOptions{Confirm: true})
	assert.NoError(t, err)
}

func TestUpdateWithoutWhereBlockedWhenFlagOn(t *testing.T) {
	cfg := config.DefaultDmlGuardConfig()
	stmt, err := parser.Parse("UPDATE account SET name = 'x'")
	require.NoError(t, err)

	g := New(cfg, nil)
	err = g.Check(context.Background(), stmt, contracts.DmlOptions{Confirm: true})
	require.Error(t, err)

	cfg.PreventUpdateWithoutWhere = false
	g2 := New(cfg, nil)
	err = g2.Check(context.Background(), stmt, contracts.DmlOptions{Confirm: true})
	assert.NoError(t, err)
}

func TestRowCapBlocksWhenEstimateExceedsCap(t *testing.T) {
	cfg := config.DefaultDmlGuardConfig()
	cfg.RowCap = 10
	counter := func(ctx context.Context, table string, where ast.Expr) (int64, error) {
		return 100, nil
	}
	g := New(cfg, counter)

	stmt, err := parser.Parse("DELETE FROM account WHERE accountid = 1")
	require.NoError(t, err)

	err = g.Check(context.Background(), stmt, contracts.DmlOptions{Confirm: true, Estimate: true})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeDmlBlocked, contracts.CodeOf(err))

	err = g.Check(context.Background(), stmt, contracts.DmlOptions{Confirm: true, Estimate: true, NoLimit: true})
	assert.NoError(t, err)
}

func TestSelectNeverBlocked(t *testing.T) {
	g := New(config.DefaultDmlGuardConfig(), nil)
	stmt, err := parser.Parse("SELECT name FROM account")
	require.NoError(t, err)
	err = g.Check(context.Background(), stmt, contracts.DmlOptions{})
	assert.NoError(t, err)
}

func TestBlockWorstCaseWinsInBlock(t *testing.T) {
	g := New(config.DefaultDmlGuardConfig(), nil)
	stmt, err := parser.Parse("BEGIN SELECT name FROM account; DELETE FROM account END")
	require.NoError(t, err)
	err = g.Check(context.Background(), stmt, contracts.DmlOptions{Confirm: true})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeDmlBlocked, contracts.CodeOf(err))
}
