package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	contracts.NoopServiceInvoker
	mu        sync.Mutex
	invalid   bool
	execCalls int32
	exec      func(attempt int32, items []contracts.BatchRecord) ([]contracts.ItemResult, error)
}

func (f *fakeClient) ConnectionID() string { return "fake" }
func (f *fakeClient) Principal() string    { return "primary" }
func (f *fakeClient) MarkInvalid(string)   { f.mu.Lock(); f.invalid = true; f.mu.Unlock() }
func (f *fakeClient) Invalid() bool        { f.mu.Lock(); defer f.mu.Unlock(); return f.invalid }

func (f *fakeClient) ExecuteMultiple(_ context.Context, _ string, _ contracts.OperationKind, items []contracts.BatchRecord) ([]contracts.ItemResult, error) {
	attempt := atomic.AddInt32(&f.execCalls, 1) - 1
	return f.exec(attempt, items)
}

type fakePool struct {
	client *fakeClient
}

func (p *fakePool) Acquire(context.Context, contracts.AcquireOptions) (contracts.PooledClient, error) {
	return p.client, nil
}
func (p *fakePool) Release(contracts.PooledClient)            {}
func (p *fakePool) RecordAuthFailure(string)                  {}
func (p *fakePool) RecordConnectionFailure(string)             {}
func (p *fakePool) RecordThrottle(string, time.Duration)       {}
func (p *fakePool) Stats() contracts.PoolStats                 { return contracts.PoolStats{} }

func allSuccess(items []contracts.BatchRecord) []contracts.ItemResult {
	out := make([]contracts.ItemResult, len(items))
	for i := range items {
		out[i] = contracts.ItemResult{Index: i, Success: true}
	}
	return out
}

func TestDispatchAllSucceed(t *testing.T) {
	client := &fakeClient{exec: func(attempt int32, items []contracts.BatchRecord) ([]contracts.ItemResult, error) {
		return allSuccess(items), nil
	}}
	d := New(&fakePool{client: client}, nil, nil, WithSubBatchSize(10))

	records := make([]contracts.BatchRecord, 25)
	for i := range records {
		records[i] = contracts.BatchRecord{ID: "r"}
	}

	success, failures, err := d.CreateMany(context.Background(), "account", records, nil)
	require.NoError(t, err)
	assert.Equal(t, 25, success)
	assert.Empty(t, failures)
}

func TestDispatchRetriesThrottleThenSucceeds(t *testing.T) {
	client := &fakeClient{exec: func(attempt int32, items []contracts.BatchRecord) ([]contracts.ItemResult, error) {
		if attempt == 0 {
			return nil, errors.New("server returned 429 too many requests")
		}
		return allSuccess(items), nil
	}}
	policies := DefaultRetryPolicies()
	p := policies[contracts.FaultThrottle]
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	policies[contracts.FaultThrottle] = p

	d := New(&fakePool{client: client}, nil, nil, WithRetryPolicies(policies))

	records := []contracts.BatchRecord{{ID: "1"}, {ID: "2"}}
	success, failures, err := d.UpdateMany(context.Background(), "account", records, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, success)
	assert.Empty(t, failures)
	assert.GreaterOrEqual(t, client.execCalls, int32(2))
}

func TestDispatchGivesUpAfterAuthRetriesExhausted(t *testing.T) {
	client := &fakeClient{exec: func(attempt int32, items []contracts.BatchRecord) ([]contracts.ItemResult, error) {
		return nil, errors.New("401 unauthorized")
	}}
	d := New(&fakePool{client: client}, nil, nil)

	records := []contracts.BatchRecord{{ID: "1"}}
	success, failures, err := d.DeleteMany(context.Background(), "account", records, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, success)
	require.Len(t, failures, 1)
	assert.Equal(t, contracts.FaultOther, failures[0].Fault.Class)
}

func TestClassifyErrorMapsKnownSubstrings(t *testing.T) {
	assert.Equal(t, contracts.FaultThrottle, ClassifyError(errors.New("429 Too Many Requests")))
	assert.Equal(t, contracts.FaultAuth, ClassifyError(errors.New("401 Unauthorized")))
	assert.Equal(t, contracts.FaultDeadlock, ClassifyError(errors.New("Deadlock detected")))
	assert.Equal(t, contracts.FaultConnection, ClassifyError(errors.New("dial tcp: connection timeout")))
	assert.Equal(t, contracts.FaultOther, ClassifyError(errors.New("weird")))
	assert.Equal(t, contracts.FaultClass(""), ClassifyError(nil))
}
