package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	contracts.NoopServiceInvoker
	principal string
	mu        sync.Mutex
	invalid   bool
}

func (f *fakeClient) ConnectionID() string        { return "" }
func (f *fakeClient) Principal() string           { return f.principal }
func (f *fakeClient) MarkInvalid(reason string)    { f.mu.Lock(); f.invalid = true; f.mu.Unlock() }
func (f *fakeClient) Invalid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalid
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		Principals: []config.PrincipalConfig{
			{Name: "a", ResourceURL: "https://a", CredentialRef: "kv://a", ConfiguredMinimum: 2, HardCeiling: 4},
			{Name: "b", ResourceURL: "https://b", CredentialRef: "kv://b", ConfiguredMinimum: 2, HardCeiling: 4},
		},
		AcquireTimeout:                200 * time.Millisecond,
		ConsecutiveFaultsToQuarantine: 2,
		QuarantinePeriod:              50 * time.Millisecond,
	}
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	cfg := testPoolConfig()
	tc := throttle.New(config.DefaultThrottleConfig(), nil)
	factory := func(ctx context.Context, principal string) (contracts.PooledClient, error) {
		return &fakeClient{principal: principal}, nil
	}
	return New(cfg, tc, factory, nil, nil)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	client, err := p.Acquire(ctx, contracts.AcquireOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, client.ConnectionID())

	stats := p.Stats()
	assert.Equal(t, 1, stats.InUse)

	p.Release(client)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
}

func TestAcquireSaturatesThenTimesOut(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	var held []contracts.PooledClient
	// both principals start at floor=2, total capacity 4
	for i := 0; i < 4; i++ {
		c, err := p.Acquire(ctx, contracts.AcquireOptions{})
		require.NoError(t, err)
		held = append(held, c)
	}

	_, err := p.Acquire(ctx, contracts.AcquireOptions{})
	require.Error(t, err)
	assert.Equal(t, contracts.CodePoolExhausted, contracts.CodeOf(err))

	for _, c := range held {
		p.Release(c)
	}
}

func TestExcludePrincipalIsHonoredWhenAlternativeExists(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	client, err := p.Acquire(ctx, contracts.AcquireOptions{ExcludePrincipal: "a"})
	require.NoError(t, err)
	assert.Equal(t, "b", client.Principal())
}

func TestRepeatedConnectionFailuresQuarantinePrincipal(t *testing.T) {
	p := newTestPool(t)

	p.RecordConnectionFailure("a")
	p.RecordConnectionFailure("a")

	stats := p.Stats()
	assert.True(t, stats.PerPrincipal["a"].Quarantined)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		c, err := p.Acquire(ctx, contracts.AcquireOptions{})
		require.NoError(t, err)
		assert.Equal(t, "b", c.Principal(), "quarantined principal must not be selected")
		p.Release(c)
	}
}
