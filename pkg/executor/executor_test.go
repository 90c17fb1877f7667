package executor

import (
	"context"
	"testing"
	"time"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	contracts.NoopServiceInvoker
	pages [][]map[string]any
	call  int
}

func (f *fakeClient) ConnectionID() string { return "fake" }
func (f *fakeClient) Principal() string    { return "primary" }
func (f *fakeClient) MarkInvalid(string)   {}
func (f *fakeClient) Invalid() bool        { return false }

func (f *fakeClient) RetrieveMultiple(_ context.Context, _ string, cookie string) (*contracts.OrgResponse, error) {
	idx := f.call
	f.call++
	rows := f.pages[idx]
	next := ""
	if idx < len(f.pages)-1 {
		next = "cookie-" + string(rune('a'+idx))
	}
	return &contracts.OrgResponse{Results: map[string]any{
		"columns":      []string{"name"},
		"rows":         rows,
		"pagingCookie": next,
	}}, nil
}

type fakePool struct{ client *fakeClient }

func (p *fakePool) Acquire(context.Context, contracts.AcquireOptions) (contracts.PooledClient, error) {
	return p.client, nil
}
func (p *fakePool) Release(contracts.PooledClient)        {}
func (p *fakePool) RecordAuthFailure(string)               {}
func (p *fakePool) RecordConnectionFailure(string)          {}
func (p *fakePool) RecordThrottle(string, time.Duration)    {}
func (p *fakePool) Stats() contracts.PoolStats              { return contracts.PoolStats{} }

func TestExecuteQueryFollowsPagingCookie(t *testing.T) {
	client := &fakeClient{pages: [][]map[string]any{
		{{"name": "a"}, {"name": "b"}},
		{{"name": "c"}},
	}}
	e := New(&fakePool{client: client}, nil)

	result, err := e.ExecuteQuery(context.Background(), "account", "<fetch/>", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, result.Columns)
	assert.Len(t, result.Rows, 3)
	assert.Equal(t, "a", result.Rows[0][0].Raw)
}

func TestExecuteQueryStopsAtMax(t *testing.T) {
	client := &fakeClient{pages: [][]map[string]any{
		{{"name": "a"}, {"name": "b"}},
		{{"name": "c"}},
	}}
	e := New(&fakePool{client: client}, nil)

	result, err := e.ExecuteQuery(context.Background(), "account", "<fetch/>", 2)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
}

func TestExecuteQueryRespectsCancellation(t *testing.T) {
	client := &fakeClient{pages: [][]map[string]any{{{"name": "a"}}}}
	e := New(&fakePool{client: client}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ExecuteQuery(ctx, "account", "<fetch/>", 0)
	require.Error(t, err)
	assert.Equal(t, contracts.CodeCancelled, contracts.CodeOf(err))
}
