package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dsnCounter int

func uniqueMemoryDSN() string {
	dsnCounter++
	return fmt.Sprintf("file:app_test_%d?mode=memory&cache=shared", dsnCounter)
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Pool:     config.DefaultPoolConfig(),
		Throttle: config.DefaultThrottleConfig(),
		DmlGuard: config.DefaultDmlGuardConfig(),
	}
	cfg.Pool.Principals = []config.PrincipalConfig{
		{Name: "local", ResourceURL: "https://local.example.com", CredentialRef: "dev", ConfiguredMinimum: 2, HardCeiling: 4},
	}
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	return cfg
}

func TestAppBulkCreateThenQueryRoundTrip(t *testing.T) {
	a, err := New(testConfig(), uniqueMemoryDSN(), nil)
	require.NoError(t, err)
	defer a.Close()

	records := []contracts.BatchRecord{
		{Attributes: map[string]any{"name": "Acme", "statecode": "0"}},
		{Attributes: map[string]any{"name": "Globex", "statecode": "0"}},
	}
	succeeded, failures, err := a.Dispatcher.CreateMany(context.Background(), "account", records, contracts.NoopProgressReporter{})
	require.NoError(t, err)
	assert.Equal(t, 2, succeeded)
	assert.Empty(t, failures)

	result, err := a.SqlService.Execute(context.Background(), "SELECT name FROM account WHERE statecode = 0", contracts.DmlOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
}

func TestAppPoolStatusReportsCapacity(t *testing.T) {
	a, err := New(testConfig(), uniqueMemoryDSN(), nil)
	require.NoError(t, err)
	defer a.Close()

	stats := a.Pool.Stats()
	assert.Equal(t, 4, stats.TotalCapacity)
}
