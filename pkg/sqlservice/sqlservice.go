// Package sqlservice composes the SQL frontend (parse, rewrite, DML
// guard, XML emission) and the query executor into the single
// SqlQueryService entry point exposed to callers (§6 C10).
package sqlservice

import (
	"context"
	"log/slog"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/executor"
	"github.com/solventis/dataverse-access-core/pkg/metrics"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/ast"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/dmlguard"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/emit"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/parser"
	"github.com/solventis/dataverse-access-core/pkg/sqlfrontend/rewrite"
)

// Service is the concrete SqlQueryService implementation.
type Service struct {
	guard    *dmlguard.Guard
	executor *executor.Executor
	logger   *slog.Logger
	metrics  *metrics.SqlMetrics
}

var _ contracts.SqlQueryService = (*Service)(nil)

// New builds a Service over the given DML guard and query executor.
func New(guard *dmlguard.Guard, exec *executor.Executor, logger *slog.Logger, m *metrics.SqlMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{guard: guard, executor: exec, logger: logger, metrics: m}
}

// Execute parses sql, applies semantic rewrites, checks the DML
// safety guard, emits XML for SELECTs, and executes SELECTs against
// the Service. A non-SELECT statement that passes the guard is not
// executed: it is returned as a SqlResult naming the statement kind,
// with RowsAffected left at zero.
func (s *Service) Execute(ctx context.Context, sql string, opts contracts.DmlOptions) (*contracts.SqlResult, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		s.recordParse("parse_error")
		return nil, contracts.WrapError(contracts.CodeValidationError, "failed to parse SQL statement", err)
	}
	s.recordParse("ok")

	if err := s.guard.Check(ctx, stmt, opts); err != nil {
		return nil, err
	}

	sel, ok := stmt.(*ast.SelectStatement)
	if !ok {
		// DML statements that pass the guard are handed back as a bare
		// acknowledgement; the caller's ServiceInvoker performs the
		// actual create/update/delete via its typed methods.
		return &contracts.SqlResult{Statement: dmlKind(stmt)}, nil
	}

	rewritten, ann, err := rewrite.Rewrite(sel)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeValidationError, "semantic rewrite failed", err)
	}
	s.recordRewrites(ann)

	xmlQuery, err := emit.Emit(rewritten, ann)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Untranspilable.Inc()
		}
		return nil, emit.ClassifyEmitError(err)
	}

	max := 0
	if rewritten.Top > 0 {
		max = rewritten.Top
	}
	return s.executor.ExecuteQuery(ctx, rewritten.From.Name, xmlQuery, max)
}

func dmlKind(stmt ast.Statement) string {
	switch stmt.(type) {
	case *ast.InsertStatement:
		return "insert"
	case *ast.UpdateStatement:
		return "update"
	case *ast.DeleteStatement:
		return "delete"
	default:
		return "statement"
	}
}

func (s *Service) recordParse(outcome string) {
	if s.metrics != nil {
		s.metrics.ParseTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) recordRewrites(ann *rewrite.Annotations) {
	if s.metrics == nil {
		return
	}
	for range ann.DateGroupings {
		s.metrics.RewriteApplied.WithLabelValues("date_group").Inc()
	}
}
