package throttle

import (
	"testing"
	"time"

	"github.com/solventis/dataverse-access-core/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ThrottleConfig {
	return config.ThrottleConfig{
		StabilizationBatches: 3,
		MinIncreaseInterval:  0,
		IncreaseStep:         2,
		RecoveryMultiplier:   2.0,
		DecreaseFactor:       0.5,
		IdleResetPeriod:      50 * time.Millisecond,
	}
}

func TestRegisterStartsAtFloor(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 4, 20)
	assert.Equal(t, 4, c.GetParallelism("primary", 0, 1))
}

func TestRegisterIsIdempotent(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 4, 20)
	c.RecordThrottle("primary", time.Minute) // drop it, bounded by floor
	c.Register("primary", 4, 20)
	assert.Equal(t, 4, c.GetParallelism("primary", 0, 1))
}

func TestRecordSuccessRaisesAfterStabilization(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 4, 20)

	c.RecordSuccess("primary")
	c.RecordSuccess("primary")
	assert.Equal(t, 4, c.GetParallelism("primary", 0, 1), "should not raise before stabilization window elapses")

	c.RecordSuccess("primary")
	assert.Equal(t, 6, c.GetParallelism("primary", 0, 1))
}

func TestRecordSuccessNeverExceedsCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.IncreaseStep = 100
	c := New(cfg, nil)
	c.Register("primary", 4, 20)

	for i := 0; i < 3; i++ {
		c.RecordSuccess("primary")
	}
	assert.Equal(t, 20, c.GetParallelism("primary", 0, 1))
}

func TestRecordThrottleCollapsesButNeverBelowFloor(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 4, 20)
	for i := 0; i < 3; i++ {
		c.RecordSuccess("primary")
	}
	require.Equal(t, 6, c.GetParallelism("primary", 0, 1))

	c.RecordThrottle("primary", 5*time.Minute)
	assert.Equal(t, 4, c.GetParallelism("primary", 0, 1))

	c.RecordThrottle("primary", 5*time.Minute)
	assert.Equal(t, 4, c.GetParallelism("primary", 0, 1), "must never drop below floor")
}

func TestRecordThrottleUnchangedWhenFloorEqualsCeiling(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 10, 10)
	require.Equal(t, 10, c.GetParallelism("primary", 0, 1))

	c.RecordThrottle("primary", 5*time.Minute)
	assert.Equal(t, 10, c.GetParallelism("primary", 0, 1), "no room below a floor that equals the ceiling")
}

func TestReductionFactorClampedBoundaries(t *testing.T) {
	assert.InDelta(t, 0.5, reductionFactor(5*time.Minute), 0.001)
	assert.InDelta(t, 0.95, reductionFactor(30*time.Second), 0.001)
	assert.Equal(t, 1.0, reductionFactor(0))
	assert.Equal(t, 0.5, reductionFactor(20*time.Minute), "factor never drops below 0.5")
}

func TestPostThrottleCeilingCapsRecoveryWithLargerRecoveryStep(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 4, 20)

	for c.GetParallelism("primary", 0, 1) < 10 {
		c.RecordSuccess("primary")
	}
	require.Equal(t, 10, c.GetParallelism("primary", 0, 1))

	c.RecordThrottle("primary", 30*time.Second)
	assert.Equal(t, 5, c.GetParallelism("primary", 0, 1))

	c.RecordSuccess("primary")
	c.RecordSuccess("primary")
	c.RecordSuccess("primary")
	assert.Equal(t, 9, c.GetParallelism("primary", 0, 1),
		"recovery region takes a larger step (IncreaseStep * RecoveryMultiplier), capped at the ephemeral post-throttle ceiling")
}

func TestGetParallelismRecomputesFloorFromRecommendedAndPrincipalCount(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 4, 20)

	assert.Equal(t, 8, c.GetParallelism("primary", 0, 2), "floor scales with principalCount in shared-capacity mode")
	assert.Equal(t, 12, c.GetParallelism("primary", 6, 2), "a higher Service-recommended value raises the floor further")
}

func TestResetReturnsToFloor(t *testing.T) {
	c := New(testConfig(), nil)
	c.Register("primary", 4, 20)
	for i := 0; i < 3; i++ {
		c.RecordSuccess("primary")
	}
	require.Equal(t, 6, c.GetParallelism("primary", 0, 1))

	c.Reset("primary")
	assert.Equal(t, 4, c.GetParallelism("primary", 0, 1))
}

func TestIdleResetCollapsesStaleCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.IdleResetPeriod = 10 * time.Millisecond
	c := New(cfg, nil)
	c.Register("primary", 4, 20)
	for i := 0; i < 3; i++ {
		c.RecordSuccess("primary")
	}
	require.Equal(t, 6, c.GetParallelism("primary", 0, 1))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, c.GetParallelism("primary", 0, 1))
}

func TestUnknownPrincipalReturnsZero(t *testing.T) {
	c := New(testConfig(), nil)
	assert.Equal(t, 0, c.GetParallelism("ghost", 0, 1))
}
