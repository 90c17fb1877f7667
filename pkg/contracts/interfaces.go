package contracts

import (
	"context"
	"time"
)

// OrgRequest is an opaque organization request carried by a
// ServiceInvoker. Its shape is dictated by the Service, not by the
// core: the core only needs to route it to a pooled client and hand
// the response back.
type OrgRequest struct {
	Name string
	// Parameters carries request-specific payload (entity name,
	// target records, fetch XML, ...). Concrete invokers interpret it.
	Parameters map[string]any
}

// OrgResponse is the opaque counterpart to OrgRequest.
type OrgResponse struct {
	Results map[string]any
}

// ServiceInvoker executes opaque organization requests against the
// Service. Implementations are provided by authentication/transport
// adapters outside the core; the core never serializes the wire
// format itself.
type ServiceInvoker interface {
	Execute(ctx context.Context, req *OrgRequest) (*OrgResponse, error)

	Retrieve(ctx context.Context, entity, id string, columns []string) (*OrgResponse, error)
	RetrieveMultiple(ctx context.Context, fetchXML string, pagingCookie string) (*OrgResponse, error)
	Create(ctx context.Context, entity string, attributes map[string]any) (*OrgResponse, error)
	Update(ctx context.Context, entity, id string, attributes map[string]any) (*OrgResponse, error)
	Delete(ctx context.Context, entity, id string) (*OrgResponse, error)
	Associate(ctx context.Context, entity, id, relationship, targetEntity, targetID string) (*OrgResponse, error)
	Disassociate(ctx context.Context, entity, id, relationship, targetEntity, targetID string) (*OrgResponse, error)

	// ExecuteMultiple is the batch write entry point used by the bulk
	// dispatcher. Each item's outcome is reported at the matching
	// index of the returned slice; len(results) == len(items) unless
	// err is non-nil and unrecoverable for the whole sub-batch.
	ExecuteMultiple(ctx context.Context, entity string, kind OperationKind, items []BatchRecord) ([]ItemResult, error)
}

// OperationKind identifies the kind of write a batch job performs.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// BatchRecord is one same-shape write operation's payload within a
// batch job.
type BatchRecord struct {
	ID         string
	Attributes map[string]any
}

// ItemResult is the per-record outcome of a batch write, mapped back
// to its original index via the response's request-index field.
type ItemResult struct {
	Index   int
	Success bool
	Fault   *Fault
}

// FaultClass classifies a per-item or sub-batch failure so the
// dispatcher can apply the right retry policy.
type FaultClass string

const (
	FaultThrottle    FaultClass = "throttle"
	FaultAuth        FaultClass = "auth"
	FaultDeadlock    FaultClass = "deadlock"
	FaultConnection  FaultClass = "connection"
	FaultOther       FaultClass = "other"
)

// Fault describes a classified per-item or sub-batch failure.
type Fault struct {
	Class      FaultClass
	Message    string
	RetryAfter int // seconds; only meaningful for FaultThrottle
}

// TokenProvider supplies bearer tokens for a resource URL, with
// in-memory caching and silent refresh. The core never sees
// credentials beyond the opaque token string.
type TokenProvider interface {
	GetToken(ctx context.Context, resourceURL string) (string, error)
}

// ProgressReporter receives UI-agnostic progress events. The core
// never writes to any UI directly; adapters translate these calls
// into terminal output, websocket frames, log lines, etc.
type ProgressReporter interface {
	ReportStatus(msg string)
	ReportProgress(current, total int, msg string)
	ReportComplete(msg string)
	ReportError(msg string)
}

// NoopProgressReporter discards every event. Useful as a default when
// a caller has no UI to drive.
type NoopProgressReporter struct{}

func (NoopProgressReporter) ReportStatus(string)                {}
func (NoopProgressReporter) ReportProgress(int, int, string)     {}
func (NoopProgressReporter) ReportComplete(string)               {}
func (NoopProgressReporter) ReportError(string)                  {}

// PooledClient is a short-lived handle exposing the Service's request
// interface, bound to one principal for the lifetime of one caller's
// use. It must be released on every exit path, including cancellation
// and panic, via the ConnectionPool that issued it.
type PooledClient interface {
	ServiceInvoker

	// ConnectionID uniquely identifies this handle instance.
	ConnectionID() string
	// Principal is the name of the owning principal.
	Principal() string
	// MarkInvalid flags the client for destruction (rather than
	// return-to-pool) on Release, recording why.
	MarkInvalid(reason string)
	// Invalid reports whether MarkInvalid has been called.
	Invalid() bool
}

// AcquireOptions configures one Acquire call.
type AcquireOptions struct {
	// ExcludePrincipal, if non-empty, is honored when another
	// eligible principal exists.
	ExcludePrincipal string
}

// ConnectionPool hands out short-lived PooledClients, enforces
// per-principal slot budgets, and selects among principals. See
// SPEC_FULL.md §4.2.
//
// Client-inside-loop rule: callers performing parallel work MUST call
// Acquire inside each parallel iteration, never once before a
// parallel fan-out — holding one client across concurrent work
// defeats the pool's slot accounting.
type ConnectionPool interface {
	Acquire(ctx context.Context, opts AcquireOptions) (PooledClient, error)
	Release(client PooledClient)

	RecordAuthFailure(principal string)
	RecordConnectionFailure(principal string)

	// RecordThrottle reports a throttle signal observed for principal,
	// with the Service's reported Retry-After, back to the adaptive
	// throttle controller (C1).
	RecordThrottle(principal string, retryAfter time.Duration)

	// Stats reports current utilization for observability/tests.
	Stats() PoolStats
}

// PoolStats is a point-in-time snapshot of pool utilization.
type PoolStats struct {
	TotalCapacity int
	InUse         int
	PerPrincipal  map[string]PrincipalStats
}

// PrincipalStats reports per-principal utilization and health.
type PrincipalStats struct {
	InUse               int
	EffectiveParallelism int
	Quarantined         bool
	ConsecutiveFaults   int
}

// BulkExecutor fans write batches out across the pool and aggregates
// partial failures. See SPEC_FULL.md §4.3.
type BulkExecutor interface {
	CreateMany(ctx context.Context, entity string, records []BatchRecord, progress ProgressReporter) (successCount int, failures []FailedRecord, err error)
	UpdateMany(ctx context.Context, entity string, records []BatchRecord, progress ProgressReporter) (successCount int, failures []FailedRecord, err error)
	DeleteMany(ctx context.Context, entity string, records []BatchRecord, progress ProgressReporter) (successCount int, failures []FailedRecord, err error)
}

// FailedRecord carries a record's original batch index and classified
// fault.
type FailedRecord struct {
	Index int
	Fault Fault
}

// DmlOptions configures the DML safety guard for one SqlQueryService
// call.
type DmlOptions struct {
	Confirm      bool
	NoLimit      bool
	Estimate     bool
}

// SqlResult is the outcome of SqlQueryService.Execute: either rows (for
// SELECT) or an affected-row count (for DML), never both.
type SqlResult struct {
	Columns      []string
	Rows         [][]QueryValue
	RowsAffected int64
	Statement    string // "select", "insert", "update", "delete"
}

// QueryValue is one decoded result cell.
type QueryValue struct {
	Raw            any
	Formatted      string
	IsReference    bool
	ReferenceEntity string
	ReferenceID    string
}

// SqlQueryService combines the SQL frontend, rewrites, XML emitter,
// DML guard, and executor into one entry point.
type SqlQueryService interface {
	Execute(ctx context.Context, sql string, opts DmlOptions) (*SqlResult, error)
}

// NoopServiceInvoker implements ServiceInvoker with methods that
// return a not-found error. Embed it in test doubles that only need
// to override a handful of methods.
type NoopServiceInvoker struct{}

func (NoopServiceInvoker) Execute(context.Context, *OrgRequest) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) Retrieve(context.Context, string, string, []string) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) RetrieveMultiple(context.Context, string, string) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) Create(context.Context, string, map[string]any) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) Update(context.Context, string, string, map[string]any) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) Delete(context.Context, string, string) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) Associate(context.Context, string, string, string, string, string) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) Disassociate(context.Context, string, string, string, string, string) (*OrgResponse, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}
func (NoopServiceInvoker) ExecuteMultiple(context.Context, string, OperationKind, []BatchRecord) ([]ItemResult, error) {
	return nil, NewError(CodeNotFound, "not implemented")
}

// AttributeDescriptor describes one entity attribute.
type AttributeDescriptor struct {
	Name             string
	DisplayName      string
	SemanticType     string
	IsCustom         bool
	ValidForCreate   bool
	ValidForUpdate   bool
	RequiredLevel    string
}

// RelationshipDescriptor describes one entity relationship.
type RelationshipDescriptor struct {
	Name           string
	Kind           string // "one-to-many", "many-to-one", "many-to-many"
	RelatedEntity  string
	ReferencingAttribute string
}

// OptionSetValue is one value of an entity option-set attribute.
type OptionSetValue struct {
	Value int
	Label string
}

// EntityDescriptor is the cached metadata for one entity.
type EntityDescriptor struct {
	LogicalName       string
	DisplayName       string
	PrimaryIDAttr     string
	PrimaryNameAttr   string
	OwnershipFlavor   string
	Attributes        map[string]AttributeDescriptor
	Relationships     []RelationshipDescriptor
	AlternateKeys     [][]string
	OptionSets        map[string][]OptionSetValue
}

// MetadataService exposes entity/attribute/relationship/option-set
// accessors, backed by the metadata memoizer.
type MetadataService interface {
	Entity(ctx context.Context, logicalName string) (*EntityDescriptor, error)
	Attribute(ctx context.Context, entityLogicalName, attrName string) (*AttributeDescriptor, error)
	InvalidateAll()
	InvalidateEntity(logicalName string)
}
