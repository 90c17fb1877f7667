// Package throttle implements the adaptive per-principal parallelism
// controller (C1): an AIMD control law that raises a principal's
// allowed concurrency on sustained success and collapses it on a
// throttle signal from the Service.
package throttle

import (
	"sync"
	"time"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/solventis/dataverse-access-core/pkg/metrics"
)

// Controller tracks, per principal, the current parallelism ceiling
// and the running state needed to decide when to raise it.
type Controller struct {
	cfg     config.ThrottleConfig
	metrics *metrics.ThrottleMetrics

	mu    sync.Mutex
	state map[string]*principalState
}

type principalState struct {
	floorBase int // configured minimum, before recommended/principalCount scaling
	floor     int // current computed floor: max(floorBase, recommended) * principalCount, clamped to ceiling
	ceiling   int // hard ceiling
	current   int

	// lastKnownGood is the highest current achieved before the most
	// recent drop (throttle signal or a floor recompute that forced a
	// jump). RecordSuccess takes a larger step while current sits
	// below it, modeling the "recovery region" of the control law.
	lastKnownGood int

	// postThrottleCeiling/postThrottleExpiry implement the ephemeral
	// ceiling a RecordThrottle call imposes on top of the hard
	// ceiling, expiring on its own once the Service's Retry-After plus
	// a stabilization window has elapsed.
	postThrottleCeiling int
	postThrottleExpiry  time.Time

	consecutiveSuccesses int
	lastIncrease         time.Time
	lastActivity         time.Time
}

// New returns a Controller tuned by cfg, recording into m. m may be
// nil, in which case metrics are skipped.
func New(cfg config.ThrottleConfig, m *metrics.ThrottleMetrics) *Controller {
	return &Controller{
		cfg:     cfg,
		metrics: m,
		state:   make(map[string]*principalState),
	}
}

// Register establishes the floor (configured minimum) and hard
// ceiling for a principal. Parallelism starts at the floor. Calling
// Register again for a known principal is a no-op.
func (c *Controller) Register(principal string, floor, ceiling int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state[principal]; ok {
		return
	}
	now := time.Now()
	c.state[principal] = &principalState{
		floorBase:     floor,
		floor:         floor,
		ceiling:       ceiling,
		current:       floor,
		lastKnownGood: floor,
		lastActivity:  now,
	}
	c.observe(principal, floor)
}

// GetParallelism returns the current allowed parallelism for
// principal. recommended is the Service-reported recommended
// parallelism (0 if none has been observed yet); principalCount scales
// the floor for pools running in legacy shared-capacity mode, where
// one logical budget is spread across several principals. Unknown
// principals return 0.
func (c *Controller) GetParallelism(principal string, recommended, principalCount int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[principal]
	if !ok {
		return 0
	}
	c.maybeIdleReset(principal, st)
	c.recomputeFloor(st, recommended, principalCount)

	now := time.Now()
	if eff := c.effectiveCeiling(st, now); st.current > eff {
		st.current = eff
	}
	return st.current
}

// recomputeFloor updates principal's floor to
// max(floorBase, recommended) * principalCount, clamped to the hard
// ceiling. A rising floor pulls current up to meet it immediately,
// marking the pre-jump value as the new last-known-good so the
// recovery region still applies below the old operating point. Caller
// must hold c.mu.
func (c *Controller) recomputeFloor(st *principalState, recommended, principalCount int) {
	if principalCount < 1 {
		principalCount = 1
	}
	base := st.floorBase
	if recommended > base {
		base = recommended
	}
	newFloor := base * principalCount
	if newFloor > st.ceiling {
		newFloor = st.ceiling
	}
	if newFloor == st.floor {
		return
	}

	raised := newFloor > st.floor
	st.floor = newFloor
	if raised && st.current < newFloor {
		if st.current > st.lastKnownGood {
			st.lastKnownGood = st.current
		}
		st.current = newFloor
	}
}

// effectiveCeiling returns the ceiling currently in force for st: the
// hard ceiling, or the ephemeral post-throttle ceiling if one is still
// active. An expired post-throttle ceiling is cleared as a side
// effect. Caller must hold c.mu.
func (c *Controller) effectiveCeiling(st *principalState, now time.Time) int {
	if st.postThrottleExpiry.IsZero() {
		return st.ceiling
	}
	if !now.Before(st.postThrottleExpiry) {
		st.postThrottleCeiling = 0
		st.postThrottleExpiry = time.Time{}
		return st.ceiling
	}
	if st.postThrottleCeiling < st.ceiling {
		return st.postThrottleCeiling
	}
	return st.ceiling
}

// RecordSuccess notes that a unit of work completed without a
// throttle signal. After StabilizationBatches consecutive successes,
// with at least MinIncreaseInterval elapsed since the last increase,
// parallelism rises by IncreaseStep, or by IncreaseStep *
// RecoveryMultiplier while current is still below the principal's
// last-known-good level, capped at the effective ceiling.
func (c *Controller) RecordSuccess(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[principal]
	if !ok {
		return
	}
	now := time.Now()
	st.lastActivity = now
	st.consecutiveSuccesses++

	if st.consecutiveSuccesses < c.cfg.StabilizationBatches {
		return
	}
	if !st.lastIncrease.IsZero() && now.Sub(st.lastIncrease) < c.cfg.MinIncreaseInterval {
		return
	}
	eff := c.effectiveCeiling(st, now)
	if st.current >= eff {
		return
	}

	step := c.cfg.IncreaseStep
	if st.current < st.lastKnownGood {
		recoveryStep := int(float64(c.cfg.IncreaseStep) * c.cfg.RecoveryMultiplier)
		if recoveryStep > step {
			step = recoveryStep
		}
	}

	next := st.current + step
	if next > eff {
		next = eff
	}
	st.current = next
	st.lastIncrease = now
	st.consecutiveSuccesses = 0
	if st.current > st.lastKnownGood {
		st.lastKnownGood = st.current
	}

	if c.metrics != nil {
		c.metrics.IncreaseEvents.WithLabelValues(principal).Inc()
	}
	c.observe(principal, st.current)
}

// RecordThrottle notes that the Service signalled congestion for
// principal, reporting retryAfter (its Retry-After). It imposes an
// ephemeral post-throttle ceiling of current * reductionFactor(retryAfter)
// — a larger overshoot produces a larger reduction, clamped to
// [0.5, 1.0] of current — expiring retryAfter plus a stabilization
// window from now. Parallelism also collapses immediately,
// multiplicatively (DecreaseFactor), never below the configured floor,
// and the stabilization counter resets.
func (c *Controller) RecordThrottle(principal string, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[principal]
	if !ok {
		return
	}
	now := time.Now()
	st.lastActivity = now
	st.consecutiveSuccesses = 0
	if st.current > st.lastKnownGood {
		st.lastKnownGood = st.current
	}

	st.postThrottleCeiling = int(float64(st.current) * reductionFactor(retryAfter))
	if st.postThrottleCeiling < st.floor {
		st.postThrottleCeiling = st.floor
	}
	st.postThrottleExpiry = now.Add(retryAfter).Add(c.stabilizationWindow())

	next := int(float64(st.current) * c.cfg.DecreaseFactor)
	if next < st.floor {
		next = st.floor
	}
	st.current = next

	if c.metrics != nil {
		c.metrics.ThrottleEvents.WithLabelValues(principal).Inc()
	}
	c.observe(principal, st.current)
}

// reductionFactor maps a Retry-After duration to the fraction of
// current parallelism the post-throttle ceiling retains: longer
// Retry-After values mean a larger observed overshoot and a stronger
// reduction, clamped to [0.5, 1.0].
func reductionFactor(retryAfter time.Duration) float64 {
	factor := 1 - retryAfter.Seconds()/600
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 1.0 {
		factor = 1.0
	}
	return factor
}

// stabilizationWindow is the grace period added on top of a
// Retry-After before the post-throttle ceiling expires, giving the
// principal time to accumulate a stabilization run before the normal
// ceiling reapplies. Caller must hold c.mu.
func (c *Controller) stabilizationWindow() time.Duration {
	return c.cfg.MinIncreaseInterval * time.Duration(c.cfg.StabilizationBatches)
}

// Reset collapses principal back to its floor immediately, discarding
// stabilization progress and any ephemeral post-throttle ceiling. The
// pool calls it when it quarantines a principal.
func (c *Controller) Reset(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[principal]
	if !ok {
		return
	}
	st.current = st.floor
	st.lastKnownGood = st.floor
	st.consecutiveSuccesses = 0
	st.lastIncrease = time.Time{}
	st.postThrottleCeiling = 0
	st.postThrottleExpiry = time.Time{}
	st.lastActivity = time.Now()
	c.observe(principal, st.current)
}

// maybeIdleReset collapses parallelism back to the floor if no
// activity has been recorded for IdleResetPeriod; a principal that
// goes quiet should not re-enter traffic at a stale, possibly
// oversized ceiling. Caller must hold c.mu.
func (c *Controller) maybeIdleReset(principal string, st *principalState) {
	if time.Since(st.lastActivity) < c.cfg.IdleResetPeriod {
		return
	}
	if st.current == st.floor && st.postThrottleExpiry.IsZero() {
		return
	}
	st.current = st.floor
	st.lastKnownGood = st.floor
	st.consecutiveSuccesses = 0
	st.lastIncrease = time.Time{}
	st.postThrottleCeiling = 0
	st.postThrottleExpiry = time.Time{}
	if c.metrics != nil {
		c.metrics.IdleResets.WithLabelValues(principal).Inc()
	}
	c.observe(principal, st.current)
}

func (c *Controller) observe(principal string, current int) {
	if c.metrics == nil {
		return
	}
	c.metrics.CurrentParallelism.WithLabelValues(principal).Set(float64(current))
}
