// Package dispatch implements the bulk dispatcher (C3): it chunks a
// batch job into sub-batches, fans them out across the connection
// pool with bounded concurrency, classifies per-item and sub-batch
// faults, and retries according to fault class while aggregating
// partial failures for the caller.
package dispatch

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/metrics"
)

const defaultSubBatchSize = 100

// unlimitedRetries marks a RetryPolicy whose sub-batches are never
// abandoned for exhausted retries: only context cancellation ends the
// retry loop. Used for throttle faults, where giving up would turn a
// transient ceiling dip into a permanent failure while C1 is still
// adapting.
const unlimitedRetries = -1

// RetryPolicy controls how many times, and with what backoff, a
// sub-batch is retried for a given fault class. A negative MaxRetries
// (see unlimitedRetries) means retries never exhaust.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

func (p RetryPolicy) exhausted(attempt int) bool {
	return p.MaxRetries >= 0 && attempt >= p.MaxRetries
}

// DefaultRetryPolicies returns the fault-class-to-policy map used when
// the caller supplies none. Throttle faults retry unlimited with
// patient exponential backoff, since the Service is expected to
// recover as C1 collapses the affected principal's ceiling; deadlocks
// get a couple of quick retries; auth and connection faults are the
// pool's job to route around, so dispatch retries them only once in
// case the fault was transient.
func DefaultRetryPolicies() map[contracts.FaultClass]RetryPolicy {
	return map[contracts.FaultClass]RetryPolicy{
		contracts.FaultThrottle: {
			MaxRetries: unlimitedRetries,
			BaseDelay:  1 * time.Second,
			MaxDelay:   30 * time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		},
		contracts.FaultDeadlock: {
			MaxRetries: 3,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		},
		contracts.FaultConnection: {
			MaxRetries: 1,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   500 * time.Millisecond,
			Multiplier: 1.0,
		},
		contracts.FaultAuth: {
			MaxRetries: 1,
			BaseDelay:  0,
			MaxDelay:   0,
			Multiplier: 1.0,
		},
		contracts.FaultOther: {
			MaxRetries: 2,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   2 * time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		},
	}
}

// Dispatcher is the concrete BulkExecutor implementation.
type Dispatcher struct {
	pool         contracts.ConnectionPool
	policies     map[contracts.FaultClass]RetryPolicy
	subBatchSize int
	// maxConcurrent caps fan-out width when non-zero. Left at 0 (the
	// default), fan-out is derived live from the pool's effective
	// parallelism each run, per C1/C2.
	maxConcurrent int
	logger        *slog.Logger
	metrics       *metrics.DispatchMetrics
}

var _ contracts.BulkExecutor = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSubBatchSize overrides the default sub-batch chunk size.
func WithSubBatchSize(n int) Option {
	return func(d *Dispatcher) { d.subBatchSize = n }
}

// WithMaxConcurrent caps how many sub-batches run at once, on top of
// the fan-out width the dispatcher derives from the pool's current
// effective parallelism. Pass 0 (the default) to impose no cap beyond
// the pool-derived width.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) { d.maxConcurrent = n }
}

// WithRetryPolicies replaces the fault-class retry policy map.
func WithRetryPolicies(p map[contracts.FaultClass]RetryPolicy) Option {
	return func(d *Dispatcher) { d.policies = p }
}

// New builds a Dispatcher over pool.
func New(pool contracts.ConnectionPool, logger *slog.Logger, m *metrics.DispatchMetrics, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		pool:         pool,
		policies:     DefaultRetryPolicies(),
		subBatchSize: defaultSubBatchSize,
		logger:       logger,
		metrics:      m,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// effectiveFanOut derives the bounded concurrency to run batches with:
// the sum of each principal's current effective parallelism (C1, via
// C2's Stats), falling back to the pool's static total capacity and
// then to 1 if the pool reports neither. A configured maxConcurrent
// further caps the result; the final width never exceeds the number
// of sub-batches queued, since wider fan-out than work items is moot.
func (d *Dispatcher) effectiveFanOut(numBatches int) int {
	stats := d.pool.Stats()

	fanOut := 0
	for _, ps := range stats.PerPrincipal {
		fanOut += ps.EffectiveParallelism
	}
	if fanOut <= 0 {
		fanOut = stats.TotalCapacity
	}
	if fanOut <= 0 {
		fanOut = 1
	}
	if d.maxConcurrent > 0 && d.maxConcurrent < fanOut {
		fanOut = d.maxConcurrent
	}
	if numBatches > 0 && fanOut > numBatches {
		fanOut = numBatches
	}
	if fanOut < 1 {
		fanOut = 1
	}
	return fanOut
}

func (d *Dispatcher) CreateMany(ctx context.Context, entity string, records []contracts.BatchRecord, progress contracts.ProgressReporter) (int, []contracts.FailedRecord, error) {
	return d.run(ctx, entity, contracts.OpCreate, records, progress)
}

func (d *Dispatcher) UpdateMany(ctx context.Context, entity string, records []contracts.BatchRecord, progress contracts.ProgressReporter) (int, []contracts.FailedRecord, error) {
	return d.run(ctx, entity, contracts.OpUpdate, records, progress)
}

func (d *Dispatcher) DeleteMany(ctx context.Context, entity string, records []contracts.BatchRecord, progress contracts.ProgressReporter) (int, []contracts.FailedRecord, error) {
	return d.run(ctx, entity, contracts.OpDelete, records, progress)
}

type subBatch struct {
	startIndex int
	records    []contracts.BatchRecord
}

func (d *Dispatcher) run(ctx context.Context, entity string, kind contracts.OperationKind, records []contracts.BatchRecord, progress contracts.ProgressReporter) (int, []contracts.FailedRecord, error) {
	if progress == nil {
		progress = contracts.NoopProgressReporter{}
	}
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.BatchDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		}
	}()

	batches := d.chunk(records)
	total := len(records)

	var (
		mu           sync.Mutex
		successCount int
		failures     []contracts.FailedRecord
		done         int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.effectiveFanOut(len(batches)))

	for _, b := range batches {
		b := b
		g.Go(func() error {
			results, err := d.runSubBatchWithRetry(gctx, entity, kind, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for i := range b.records {
					failures = append(failures, contracts.FailedRecord{
						Index: b.startIndex + i,
						Fault: contracts.Fault{Class: contracts.FaultOther, Message: err.Error()},
					})
				}
			} else {
				for _, r := range results {
					if r.Success {
						successCount++
					} else if r.Fault != nil {
						failures = append(failures, contracts.FailedRecord{Index: b.startIndex + r.Index, Fault: *r.Fault})
					}
				}
			}
			done += len(b.records)
			progress.ReportProgress(done, total, "dispatching "+string(kind)+" batch")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		progress.ReportError(err.Error())
		return successCount, failures, err
	}

	if d.metrics != nil {
		d.metrics.RecordsProcessed.WithLabelValues("success").Add(float64(successCount))
		d.metrics.RecordsProcessed.WithLabelValues("failure").Add(float64(len(failures)))
	}

	if len(failures) == 0 {
		progress.ReportComplete("all records processed")
	} else {
		progress.ReportComplete("completed with partial failures")
	}
	return successCount, failures, nil
}

func (d *Dispatcher) chunk(records []contracts.BatchRecord) []subBatch {
	var batches []subBatch
	for i := 0; i < len(records); i += d.subBatchSize {
		end := i + d.subBatchSize
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, subBatch{startIndex: i, records: records[i:end]})
	}
	return batches
}

// runSubBatchWithRetry executes one sub-batch, retrying the whole
// sub-batch when the dominant fault class's policy allows another
// attempt. Per-item faults that survive the final attempt are
// returned as-is for the caller to aggregate.
func (d *Dispatcher) runSubBatchWithRetry(ctx context.Context, entity string, kind contracts.OperationKind, b subBatch) ([]contracts.ItemResult, error) {
	client, err := d.pool.Acquire(ctx, contracts.AcquireOptions{})
	if err != nil {
		return nil, err
	}
	defer d.pool.Release(client)

	var lastResults []contracts.ItemResult
	attempt := 0
	for {
		results, err := client.ExecuteMultiple(ctx, entity, kind, b.records)
		if err == nil {
			lastResults = results
			class := dominantFaultClass(results)
			if class == "" {
				return results, nil
			}
			if d.metrics != nil {
				d.metrics.FaultsByClass.WithLabelValues(string(class)).Inc()
			}
			policy, ok := d.policies[class]
			if !ok || policy.exhausted(attempt) {
				return results, nil
			}
			if class == contracts.FaultThrottle {
				d.pool.RecordThrottle(client.Principal(), dominantFaultRetryAfter(results, class))
			}
			if class == contracts.FaultAuth || class == contracts.FaultConnection {
				client.MarkInvalid(string(class))
			}
			if !d.wait(ctx, policy, attempt) {
				return results, ctx.Err()
			}
			if d.metrics != nil {
				d.metrics.SubBatchRetries.WithLabelValues(string(class)).Inc()
			}
			attempt++
			continue
		}

		class := ClassifyError(err)
		if d.metrics != nil {
			d.metrics.FaultsByClass.WithLabelValues(string(class)).Inc()
		}
		policy, ok := d.policies[class]
		if !ok || policy.exhausted(attempt) {
			return lastResults, err
		}
		if class == contracts.FaultThrottle {
			// A transport-level error carries no structured
			// Retry-After; report the signal with an unknown
			// duration so C1 still sees the throttle event.
			d.pool.RecordThrottle(client.Principal(), 0)
		}
		if class == contracts.FaultAuth || class == contracts.FaultConnection {
			client.MarkInvalid(string(class))
		}
		if !d.wait(ctx, policy, attempt) {
			return lastResults, ctx.Err()
		}
		if d.metrics != nil {
			d.metrics.SubBatchRetries.WithLabelValues(string(class)).Inc()
		}
		attempt++
	}
}

func (d *Dispatcher) wait(ctx context.Context, policy RetryPolicy, attempt int) bool {
	delay := policy.BaseDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}
	if policy.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// dominantFaultClass returns the fault class shared by the most
// failed items in results, or "" if there were no failures.
func dominantFaultClass(results []contracts.ItemResult) contracts.FaultClass {
	counts := make(map[contracts.FaultClass]int)
	for _, r := range results {
		if !r.Success && r.Fault != nil {
			counts[r.Fault.Class]++
		}
	}
	var best contracts.FaultClass
	bestCount := 0
	for class, count := range counts {
		if count > bestCount {
			best, bestCount = class, count
		}
	}
	return best
}

// dominantFaultRetryAfter returns the largest Retry-After reported
// among results' failed items of the given class, as a time.Duration.
// Items the Service didn't annotate (RetryAfter == 0) don't affect the
// result; if none did, it returns 0.
func dominantFaultRetryAfter(results []contracts.ItemResult, class contracts.FaultClass) time.Duration {
	maxSeconds := 0
	for _, r := range results {
		if r.Success || r.Fault == nil || r.Fault.Class != class {
			continue
		}
		if r.Fault.RetryAfter > maxSeconds {
			maxSeconds = r.Fault.RetryAfter
		}
	}
	return time.Duration(maxSeconds) * time.Second
}

// ClassifyError maps a transport-level error to a fault class by
// inspecting common substrings the Service's SOAP/OData faults carry.
// Transport adapters that can classify more precisely should wrap
// errors with contracts.Fault-aware sentinels instead of relying on
// this fallback.
func ClassifyError(err error) contracts.FaultClass {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return contracts.FaultThrottle
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "expired") || strings.Contains(msg, "forbidden"):
		return contracts.FaultAuth
	case strings.Contains(msg, "deadlock"):
		return contracts.FaultDeadlock
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "eof"):
		return contracts.FaultConnection
	default:
		return contracts.FaultOther
	}
}
