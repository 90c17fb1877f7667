package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
pool:
  acquire_timeout: 30s
  principals:
    - name: primary
      resource_url: https://org.crm.dynamics.com
      credential_ref: kv://primary
      configured_minimum: 2
      hard_ceiling: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultThrottleConfig(), cfg.Throttle)
	assert.True(t, cfg.Pool.DisableAffinity)
	assert.Equal(t, 3, cfg.Pool.ConsecutiveFaultsToQuarantine)
	assert.Len(t, cfg.Pool.Principals, 1)
	assert.Equal(t, "primary", cfg.Pool.Principals[0].Name)
}

func TestLoadRejectsMissingPrincipals(t *testing.T) {
	path := writeConfigFile(t, `
pool:
  acquire_timeout: 30s
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsCeilingBelowMinimum(t *testing.T) {
	path := writeConfigFile(t, `
pool:
  acquire_timeout: 30s
  principals:
    - name: primary
      resource_url: https://org.crm.dynamics.com
      credential_ref: kv://primary
      configured_minimum: 10
      hard_ceiling: 2
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEffectiveCapacityPrefersLegacyShared(t *testing.T) {
	p := PoolConfig{
		LegacySharedCapacity: 50,
		Principals: []PrincipalConfig{
			{HardCeiling: 10},
			{HardCeiling: 10},
		},
	}
	assert.Equal(t, 50, p.EffectiveCapacity())

	p.LegacySharedCapacity = 0
	assert.Equal(t, 20, p.EffectiveCapacity())
}

func TestDefaultDmlGuardConfigIsConservative(t *testing.T) {
	dg := DefaultDmlGuardConfig()
	assert.True(t, dg.PreventDeleteWithoutWhere)
	assert.True(t, dg.PreventUpdateWithoutWhere)
	assert.Greater(t, dg.RowCap, int64(0))
}
