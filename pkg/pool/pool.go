// Package pool implements the connection pool (C2): a principal-aware
// client pool that enforces per-principal slot budgets derived from
// the throttle controller, selects among eligible principals, and
// quarantines principals that fault repeatedly.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/pkg/contracts"
	"github.com/solventis/dataverse-access-core/pkg/metrics"
	"github.com/solventis/dataverse-access-core/pkg/throttle"
)

// ClientFactory creates a new PooledClient bound to the named
// principal. Supplied by the authentication/transport adapter; the
// pool itself never constructs wire clients.
type ClientFactory func(ctx context.Context, principal string) (contracts.PooledClient, error)

type principalSlot struct {
	cfg config.PrincipalConfig

	mu                sync.Mutex
	inUse             int
	consecutiveFaults int
	quarantinedUntil  time.Time
}

func (s *principalSlot) quarantined(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.quarantinedUntil)
}

// Pool is the concrete ConnectionPool implementation.
type Pool struct {
	cfg       config.PoolConfig
	throttle  *throttle.Controller
	factory   ClientFactory
	logger    *slog.Logger
	metrics   *metrics.PoolMetrics

	mu       sync.Mutex
	slots    map[string]*principalSlot
	order    []string // stable iteration order for round-robin tiebreak
	rrCursor int
}

var _ contracts.ConnectionPool = (*Pool)(nil)

// New builds a Pool from cfg, wiring principal floors/ceilings into
// throttleCtrl. factory constructs concrete wire clients on demand.
func New(cfg config.PoolConfig, throttleCtrl *throttle.Controller, factory ClientFactory, logger *slog.Logger, m *metrics.PoolMetrics) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:      cfg,
		throttle: throttleCtrl,
		factory:  factory,
		logger:   logger,
		metrics:  m,
		slots:    make(map[string]*principalSlot, len(cfg.Principals)),
	}
	for _, pc := range cfg.Principals {
		p.slots[pc.Name] = &principalSlot{cfg: pc}
		p.order = append(p.order, pc.Name)
		throttleCtrl.Register(pc.Name, pc.ConfiguredMinimum, pc.HardCeiling)
	}
	if m != nil {
		m.SlotsCapacity.Set(float64(cfg.EffectiveCapacity()))
	}
	return p
}

// Acquire selects an eligible, non-quarantined principal with spare
// slot capacity under its current throttle ceiling, and returns a
// bound client. Selection is least-loaded first, round-robin among
// ties.
func (p *Pool) Acquire(ctx context.Context, opts contracts.AcquireOptions) (contracts.PooledClient, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		client, err := p.tryAcquire(ctx, opts)
		if err == nil {
			return client, nil
		}
		if err != errNoCapacity {
			return nil, err
		}
		if time.Now().After(deadline) {
			if p.metrics != nil {
				p.metrics.AcquireTotal.WithLabelValues("timeout").Inc()
			}
			return nil, contracts.NewError(contracts.CodePoolExhausted, "no principal had spare capacity before the acquire timeout elapsed")
		}
		select {
		case <-ctx.Done():
			return nil, contracts.WrapError(contracts.CodeCancelled, "acquire cancelled", ctx.Err())
		case <-time.After(jitterBackoff()):
		}
	}
}

var errNoCapacity = fmt.Errorf("no principal has spare capacity")

func jitterBackoff() time.Duration {
	return time.Duration(25+rand.Intn(50)) * time.Millisecond
}

func (p *Pool) tryAcquire(ctx context.Context, opts contracts.AcquireOptions) (contracts.PooledClient, error) {
	start := time.Now()
	name, slot, err := p.selectPrincipal(opts.ExcludePrincipal)
	if err != nil {
		return nil, err
	}

	client, err := p.factory(ctx, name)
	if err != nil {
		slot.mu.Lock()
		slot.inUse--
		slot.mu.Unlock()
		if p.metrics != nil {
			p.metrics.AcquireTotal.WithLabelValues("factory_error").Inc()
		}
		return nil, contracts.WrapError(contracts.CodeConnectionError, "failed to construct pooled client for "+name, err)
	}

	if p.metrics != nil {
		p.metrics.AcquireTotal.WithLabelValues("ok").Inc()
		p.metrics.AcquireWaitSecs.Observe(time.Since(start).Seconds())
		p.metrics.SlotsInUse.Set(float64(p.totalInUse()))
	}
	return &handle{PooledClient: client, connID: uuid.NewString()}, nil
}

// selectPrincipal picks the least-loaded eligible principal and
// reserves a slot for it atomically, returning errNoCapacity if none
// qualifies right now.
func (p *Pool) selectPrincipal(exclude string) (string, *principalSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var bestName string
	var bestSlot *principalSlot
	bestLoad := -1

	n := len(p.order)
	for i := 0; i < n; i++ {
		idx := (p.rrCursor + i) % n
		name := p.order[idx]
		if name == exclude {
			continue
		}
		slot := p.slots[name]
		if slot.quarantined(now) {
			continue
		}

		ceiling := p.throttle.GetParallelism(name, 0, p.principalCountForThrottle())
		if ceiling <= 0 {
			ceiling = slot.cfg.ConfiguredMinimum
		}

		slot.mu.Lock()
		load := slot.inUse
		hasCapacity := load < ceiling
		slot.mu.Unlock()

		if !hasCapacity {
			continue
		}
		if bestLoad == -1 || load < bestLoad {
			bestLoad = load
			bestName = name
			bestSlot = slot
		}
	}

	if bestSlot == nil {
		return "", nil, errNoCapacity
	}

	bestSlot.mu.Lock()
	bestSlot.inUse++
	bestSlot.mu.Unlock()

	p.rrCursor = (p.rrCursor + 1) % n
	return bestName, bestSlot, nil
}

// principalCountForThrottle returns the principal-count multiplier C1
// applies when recomputing a principal's floor. In the default
// per-principal mode each principal's budget is independent, so the
// multiplier is 1; under LegacySharedCapacity, one logical budget is
// spread across every registered principal, so the floor is scaled by
// the number of principals sharing it.
func (p *Pool) principalCountForThrottle() int {
	if p.cfg.LegacySharedCapacity > 0 {
		return len(p.order)
	}
	return 1
}

func (p *Pool) totalInUse() int {
	total := 0
	for _, s := range p.slots {
		s.mu.Lock()
		total += s.inUse
		s.mu.Unlock()
	}
	return total
}

// Release returns client's slot to the pool. For a valid client it
// records a throttle success and clears the principal's consecutive
// fault count; an invalid client is only logged. Clients are never
// recycled: every Acquire builds a new one through the factory.
func (p *Pool) Release(client contracts.PooledClient) {
	h, ok := client.(*handle)
	if !ok {
		return
	}
	name := h.Principal()
	p.mu.Lock()
	slot, ok := p.slots[name]
	p.mu.Unlock()
	if !ok {
		return
	}

	slot.mu.Lock()
	slot.inUse--
	if slot.inUse < 0 {
		slot.inUse = 0
	}
	slot.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SlotsInUse.Set(float64(p.totalInUse()))
	}

	if !h.Invalid() {
		p.throttle.RecordSuccess(name)
		p.resetFaults(slot)
		return
	}
	p.logger.Warn("destroying pooled client", "principal", name, "connection_id", h.ConnectionID())
}

func (p *Pool) resetFaults(slot *principalSlot) {
	slot.mu.Lock()
	slot.consecutiveFaults = 0
	slot.mu.Unlock()
}

// RecordAuthFailure quarantines principal after ConsecutiveFaultsToQuarantine
// consecutive authentication failures.
func (p *Pool) RecordAuthFailure(principal string) {
	p.recordFault(principal)
}

// RecordConnectionFailure quarantines principal after
// ConsecutiveFaultsToQuarantine consecutive connection failures.
func (p *Pool) RecordConnectionFailure(principal string) {
	p.recordFault(principal)
}

// RecordThrottle reports a throttle signal for principal, with the
// Service's reported Retry-After, to the throttle controller.
func (p *Pool) RecordThrottle(principal string, retryAfter time.Duration) {
	p.throttle.RecordThrottle(principal, retryAfter)
}

func (p *Pool) recordFault(principal string) {
	p.mu.Lock()
	slot, ok := p.slots[principal]
	p.mu.Unlock()
	if !ok {
		return
	}

	slot.mu.Lock()
	slot.consecutiveFaults++
	quarantine := slot.consecutiveFaults >= p.cfg.ConsecutiveFaultsToQuarantine
	if quarantine {
		slot.quarantinedUntil = time.Now().Add(p.cfg.QuarantinePeriod)
	}
	slot.mu.Unlock()

	if quarantine {
		p.logger.Warn("quarantining principal after repeated faults", "principal", principal, "period", p.cfg.QuarantinePeriod)
		p.throttle.Reset(principal)
		if p.metrics != nil {
			p.metrics.Quarantined.Inc()
		}
	}
}

// Stats reports current pool utilization.
func (p *Pool) Stats() contracts.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := contracts.PoolStats{
		TotalCapacity: p.cfg.EffectiveCapacity(),
		PerPrincipal:  make(map[string]contracts.PrincipalStats, len(p.slots)),
	}
	principalCount := p.principalCountForThrottle()
	for name, slot := range p.slots {
		slot.mu.Lock()
		ps := contracts.PrincipalStats{
			InUse:                slot.inUse,
			EffectiveParallelism: p.throttle.GetParallelism(name, 0, principalCount),
			Quarantined:          now.Before(slot.quarantinedUntil),
			ConsecutiveFaults:    slot.consecutiveFaults,
		}
		slot.mu.Unlock()
		out.InUse += ps.InUse
		out.PerPrincipal[name] = ps
	}
	return out
}

// handle wraps a factory-produced client with pool-local bookkeeping
// (a fresh connection ID, invalidity flag).
type handle struct {
	contracts.PooledClient
	connID  string
	invalid bool
	mu      sync.Mutex
}

func (h *handle) ConnectionID() string { return h.connID }

func (h *handle) MarkInvalid(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalid = true
	h.PooledClient.MarkInvalid(reason)
}

func (h *handle) Invalid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invalid || h.PooledClient.Invalid()
}
