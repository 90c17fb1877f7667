// Package executor implements the query executor (C8): it drives
// paged reads and row/min/max estimation through the connection pool,
// decoding each returned cell with help from the metadata memoizer.
package executor

import (
	"context"
	"fmt"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
)

const defaultPageSize = 5000

// Executor is the concrete query executor.
type Executor struct {
	pool     contracts.ConnectionPool
	metadata contracts.MetadataService
	pageSize int
}

// New builds an Executor over pool, decoding values with metadata.
func New(pool contracts.ConnectionPool, metadata contracts.MetadataService) *Executor {
	return &Executor{pool: pool, metadata: metadata, pageSize: defaultPageSize}
}

// WithPageSize stores n in place of the default page size (5000). The
// stored value is not sent to the Service: each page holds whatever one
// RetrieveMultiple call returns.
func (e *Executor) WithPageSize(n int) *Executor {
	e.pageSize = n
	return e
}

// ExecuteQuery runs fetchXML against entity, paging until the Service
// stops returning a paging cookie or max is reached (max <= 0 means
// unbounded). Every page acquires and releases its own pooled client.
func (e *Executor) ExecuteQuery(ctx context.Context, entity, fetchXML string, max int) (*contracts.SqlResult, error) {
	result := &contracts.SqlResult{Statement: "select"}
	cookie := ""
	fetched := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, contracts.WrapError(contracts.CodeCancelled, "query execution cancelled", err)
		}

		page, nextCookie, err := e.fetchPage(ctx, entity, fetchXML, cookie)
		if err != nil {
			return nil, err
		}

		if result.Columns == nil {
			result.Columns = page.columns
		}
		result.Rows = append(result.Rows, page.rows...)
		fetched += len(page.rows)

		if nextCookie == "" || (max > 0 && fetched >= max) {
			break
		}
		cookie = nextCookie
	}
	return result, nil
}

// ExecuteCount returns the total record count for entity, honoring an
// optional pre-built filter fetchXML (empty means unfiltered).
func (e *Executor) ExecuteCount(ctx context.Context, entity, fetchXML string) (int64, error) {
	client, err := e.pool.Acquire(ctx, contracts.AcquireOptions{})
	if err != nil {
		return 0, err
	}
	defer e.pool.Release(client)

	resp, err := client.RetrieveMultiple(ctx, fetchXML, "")
	if err != nil {
		return 0, classify(err)
	}
	count, _ := resp.Results["count"].(int64)
	return count, nil
}

// ExecuteMinMax returns the minimum and maximum observed value of attr
// on entity.
func (e *Executor) ExecuteMinMax(ctx context.Context, entity, attr string) (contracts.QueryValue, contracts.QueryValue, error) {
	client, err := e.pool.Acquire(ctx, contracts.AcquireOptions{})
	if err != nil {
		return contracts.QueryValue{}, contracts.QueryValue{}, err
	}
	defer e.pool.Release(client)

	resp, err := client.Execute(ctx, &contracts.OrgRequest{
		Name:       "minmax",
		Parameters: map[string]any{"entity": entity, "attribute": attr},
	})
	if err != nil {
		return contracts.QueryValue{}, contracts.QueryValue{}, classify(err)
	}
	min := e.decode(ctx, entity, attr, resp.Results["min"])
	max := e.decode(ctx, entity, attr, resp.Results["max"])
	return min, max, nil
}

type page struct {
	columns []string
	rows    [][]contracts.QueryValue
}

func (e *Executor) fetchPage(ctx context.Context, entity, fetchXML, cookie string) (page, string, error) {
	client, err := e.pool.Acquire(ctx, contracts.AcquireOptions{})
	if err != nil {
		return page{}, "", err
	}
	defer e.pool.Release(client)

	resp, err := client.RetrieveMultiple(ctx, fetchXML, cookie)
	if err != nil {
		return page{}, "", classify(err)
	}

	cols, _ := resp.Results["columns"].([]string)
	rawRows, _ := resp.Results["rows"].([]map[string]any)
	nextCookie, _ := resp.Results["pagingCookie"].(string)

	rows := make([][]contracts.QueryValue, len(rawRows))
	for i, raw := range rawRows {
		row := make([]contracts.QueryValue, len(cols))
		for j, col := range cols {
			row[j] = e.decode(ctx, entity, col, raw[col])
		}
		rows[i] = row
	}
	return page{columns: cols, rows: rows}, nextCookie, nil
}

// decode maps a raw field value to a QueryValue, consulting metadata
// for reference-typed attributes. Decode failures never abort the
// read; an undecodable cell is surfaced with its raw value and no
// formatting.
func (e *Executor) decode(ctx context.Context, entity, attr string, raw any) contracts.QueryValue {
	qv := contracts.QueryValue{Raw: raw, Formatted: fmt.Sprintf("%v", raw)}
	if e.metadata == nil {
		return qv
	}
	desc, err := e.metadata.Attribute(ctx, entity, attr)
	if err != nil || desc.SemanticType != "lookup" {
		return qv
	}
	if ref, ok := raw.(map[string]any); ok {
		qv.IsReference = true
		qv.ReferenceEntity, _ = ref["entity"].(string)
		qv.ReferenceID, _ = ref["id"].(string)
	}
	return qv
}

func classify(err error) error {
	if contracts.CodeOf(err) != "" {
		return err
	}
	return contracts.WrapError(contracts.CodeConnectionError, "query execution failed", err)
}
