package fakeservice

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/solventis/dataverse-access-core/internal/database/postgres"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/dispatch"
)

// FaultSchedule injects synthetic throttle responses and transient
// connection failures on a per-call-count basis, letting tests drive
// the core's retry and throttle-adaptation paths deterministically
// without a real Dataverse-like endpoint.
type FaultSchedule struct {
	// ThrottleEvery, if > 0, makes every Nth call return a throttle
	// fault with RetryAfter.
	ThrottleEvery int
	RetryAfter    time.Duration

	// ConnectionFailEvery, if > 0, makes every Nth call return a
	// connection fault instead of executing.
	ConnectionFailEvery int

	calls atomic.Int64
}

func (f *FaultSchedule) next() error {
	if f == nil {
		return nil
	}
	n := f.calls.Add(1)
	if f.ThrottleEvery > 0 && n%int64(f.ThrottleEvery) == 0 {
		return contracts.NewError(contracts.CodeThrottleError,
			fmt.Sprintf("synthetic throttle (retry after %s)", f.RetryAfter))
	}
	if f.ConnectionFailEvery > 0 && n%int64(f.ConnectionFailEvery) == 0 {
		return contracts.NewError(contracts.CodeConnectionError, "synthetic connection failure")
	}
	return nil
}

// Invoker implements contracts.ServiceInvoker over a Store. It is the
// demo CLI/HTTP surface's default backend and the unit test suite's
// stand-in for a live Dataverse-like endpoint.
type Invoker struct {
	store  Store
	faults *FaultSchedule
}

var _ contracts.ServiceInvoker = (*Invoker)(nil)

// NewInvoker wraps store, optionally injecting faults per faults.
func NewInvoker(store Store, faults *FaultSchedule) *Invoker {
	return &Invoker{store: store, faults: faults}
}

func (i *Invoker) Execute(ctx context.Context, req *contracts.OrgRequest) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	switch req.Name {
	case "minmax":
		return i.minmax(ctx, req)
	default:
		return nil, contracts.NewError(contracts.CodeValidationError, fmt.Sprintf("unknown organization request %q", req.Name))
	}
}

func (i *Invoker) minmax(ctx context.Context, req *contracts.OrgRequest) (*contracts.OrgResponse, error) {
	entity, _ := req.Parameters["entity"].(string)
	attr, _ := req.Parameters["attribute"].(string)
	rows, _, err := i.store.Query(ctx, entity, nil, "", 1<<20)
	if err != nil {
		return nil, err
	}
	var min, max any
	for _, r := range rows {
		v, ok := r.Attributes[attr]
		if !ok {
			continue
		}
		if min == nil || lessThan(v, min) {
			min = v
		}
		if max == nil || lessThan(max, v) {
			max = v
		}
	}
	return &contracts.OrgResponse{Results: map[string]any{"min": min, "max": max}}, nil
}

func lessThan(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	return aok && bok && as < bs
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (i *Invoker) Retrieve(ctx context.Context, entity, id string, columns []string) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	rec, err := i.store.Get(ctx, entity, id)
	if err != nil {
		return nil, classify(err)
	}
	return &contracts.OrgResponse{Results: project(rec, columns)}, nil
}

func (i *Invoker) RetrieveMultiple(ctx context.Context, fetchXML, pagingCookie string) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	entity, filter := parseSyntheticFetch(fetchXML)
	rows, next, err := i.store.Query(ctx, entity, filter, pagingCookie, 0)
	if err != nil {
		return nil, classify(err)
	}

	columns := columnsOf(rows)
	rawRows := make([]map[string]any, len(rows))
	for idx, r := range rows {
		rawRows[idx] = r.Attributes
	}
	return &contracts.OrgResponse{Results: map[string]any{
		"columns":      columns,
		"rows":         rawRows,
		"pagingCookie": next,
		"count":        int64(len(rows)),
	}}, nil
}

func (i *Invoker) Create(ctx context.Context, entity string, attrs map[string]any) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	now := time.Now()
	rec := Record{ID: id, Entity: entity, Attributes: attrs, Owner: "default", CreatedAt: now, ModifiedAt: now}
	if err := i.store.Insert(ctx, rec); err != nil {
		return nil, classify(err)
	}
	return &contracts.OrgResponse{Results: map[string]any{"id": id}}, nil
}

func (i *Invoker) Update(ctx context.Context, entity, id string, attrs map[string]any) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	if err := i.store.Update(ctx, entity, id, attrs); err != nil {
		return nil, classify(err)
	}
	return &contracts.OrgResponse{}, nil
}

func (i *Invoker) Delete(ctx context.Context, entity, id string) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	if err := i.store.Delete(ctx, entity, id); err != nil {
		return nil, classify(err)
	}
	return &contracts.OrgResponse{}, nil
}

func (i *Invoker) Associate(ctx context.Context, entity, id, relationship, relatedEntity, relatedID string) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	return nil, contracts.NewError(contracts.CodeValidationError, "associate is not modeled by the fake organization schema")
}

func (i *Invoker) Disassociate(ctx context.Context, entity, id, relationship, relatedEntity, relatedID string) (*contracts.OrgResponse, error) {
	if err := i.faults.next(); err != nil {
		return nil, err
	}
	return nil, contracts.NewError(contracts.CodeValidationError, "disassociate is not modeled by the fake organization schema")
}

func (i *Invoker) ExecuteMultiple(ctx context.Context, entity string, op contracts.OperationKind, records []contracts.BatchRecord) ([]contracts.ItemResult, error) {
	results := make([]contracts.ItemResult, len(records))
	for idx, rec := range records {
		var opErr error
		switch op {
		case contracts.OpCreate:
			_, opErr = i.Create(ctx, entity, rec.Attributes)
		case contracts.OpUpdate:
			_, opErr = i.Update(ctx, entity, rec.ID, rec.Attributes)
		case contracts.OpDelete:
			_, opErr = i.Delete(ctx, entity, rec.ID)
		default:
			opErr = contracts.NewError(contracts.CodeValidationError, "unsupported batch operation")
		}
		if opErr == nil {
			results[idx] = contracts.ItemResult{Index: idx, Success: true}
			continue
		}
		fault := &contracts.Fault{
			Class:   dispatch.ClassifyError(opErr),
			Message: opErr.Error(),
		}
		if fault.Class == contracts.FaultThrottle && i.faults != nil {
			fault.RetryAfter = int(i.faults.RetryAfter.Seconds())
		}
		results[idx] = contracts.ItemResult{Index: idx, Fault: fault}
	}
	return results, nil
}

func project(rec Record, columns []string) map[string]any {
	if len(columns) == 0 {
		out := make(map[string]any, len(rec.Attributes)+1)
		for k, v := range rec.Attributes {
			out[k] = v
		}
		out["id"] = rec.ID
		return out
	}
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		if c == "id" {
			out[c] = rec.ID
			continue
		}
		out[c] = rec.Attributes[c]
	}
	return out
}

func columnsOf(rows []Record) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for k := range r.Attributes {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// classify turns a Store error into a contracts error. When the
// underlying store is PgStore, a deadlock is reported distinctly from
// a plain connection failure so dispatch.ClassifyError (which keys off
// the message text) routes it to FaultDeadlock rather than
// FaultConnection — a batch dispatcher should retry a deadlock
// immediately, not back off as it would for a dropped connection.
func classify(err error) error {
	if err == ErrNotFound {
		return contracts.NewError(contracts.CodeNotFound, "record not found")
	}
	if postgres.IsDeadlock(err) {
		return contracts.WrapError(contracts.CodeConnectionError, "fake service storage deadlock", err)
	}
	return contracts.WrapError(contracts.CodeConnectionError, "fake service storage error", err)
}
