// Package config loads and validates the Dataverse Access Core's
// configuration: the principal set and pool sizing, throttle tuning
// constants, and DML safety guard policy.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for a core instance.
type Config struct {
	Pool     PoolConfig     `mapstructure:"pool" validate:"required"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	DmlGuard DmlGuardConfig `mapstructure:"dml_guard"`
	Log      LogConfig      `mapstructure:"log"`
}

// PrincipalConfig describes one service principal's identity and
// budget. CredentialRef is an opaque lookup key resolved by the
// caller's TokenProvider; the core never reads credentials itself.
type PrincipalConfig struct {
	Name              string `mapstructure:"name" validate:"required"`
	ResourceURL       string `mapstructure:"resource_url" validate:"required,url"`
	CredentialRef     string `mapstructure:"credential_ref" validate:"required"`
	ConfiguredMinimum int    `mapstructure:"configured_minimum" validate:"gte=1"`
	HardCeiling       int    `mapstructure:"hard_ceiling" validate:"gtefield=ConfiguredMinimum"`
}

// PoolConfig configures the connection pool (C2).
type PoolConfig struct {
	Principals []PrincipalConfig `mapstructure:"principals" validate:"required,min=1,dive"`

	// LegacySharedCapacity, when non-zero, takes precedence over the
	// sum of per-principal ceilings. See DESIGN.md for the Open
	// Question this resolves.
	LegacySharedCapacity int `mapstructure:"legacy_shared_capacity" validate:"gte=0"`

	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`

	// SelectionStrategy is loaded but not read by the pool, which always
	// selects least-loaded-then-round-robin; no other strategy exists.
	SelectionStrategy string `mapstructure:"selection_strategy"`

	// ConsecutiveFaultsToQuarantine is the number of consecutive hard
	// faults (auth or connection) after which a principal is taken
	// out of rotation for QuarantinePeriod.
	ConsecutiveFaultsToQuarantine int           `mapstructure:"consecutive_faults_to_quarantine" validate:"gte=1"`
	QuarantinePeriod              time.Duration `mapstructure:"quarantine_period" validate:"gt=0"`

	// DisableAffinity keeps the Service's session-affinity routing
	// token off pooled clients. This must stay true in production —
	// see SPEC_FULL.md §4.2. Exposed only so tests can exercise the
	// degraded path.
	DisableAffinity bool `mapstructure:"disable_affinity"`
}

// ThrottleConfig tunes the adaptive throttle controller (C1). These
// are genuinely tuning parameters, not invariants — see the Open
// Question in DESIGN.md for how the defaults below were chosen.
type ThrottleConfig struct {
	StabilizationBatches int           `mapstructure:"stabilization_batches" validate:"gte=1"`
	MinIncreaseInterval  time.Duration `mapstructure:"min_increase_interval" validate:"gt=0"`
	IncreaseStep         int           `mapstructure:"increase_step" validate:"gte=1"`
	RecoveryMultiplier   float64       `mapstructure:"recovery_multiplier" validate:"gte=1"`
	DecreaseFactor       float64       `mapstructure:"decrease_factor" validate:"gt=0,lt=1"`
	IdleResetPeriod      time.Duration `mapstructure:"idle_reset_period" validate:"gt=0"`
}

// DmlGuardConfig configures the DML safety guard (C7).
type DmlGuardConfig struct {
	PreventDeleteWithoutWhere bool  `mapstructure:"prevent_delete_without_where"`
	PreventUpdateWithoutWhere bool  `mapstructure:"prevent_update_without_where"`
	RowCap                    int64 `mapstructure:"row_cap" validate:"gte=0"`
}

// LogConfig configures the shared logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultThrottleConfig returns the tuning defaults used when no
// configuration overrides them. See DESIGN.md for how these numbers
// were picked.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		StabilizationBatches: 5,
		MinIncreaseInterval:  15 * time.Second,
		IncreaseStep:         2,
		RecoveryMultiplier:   2.0,
		DecreaseFactor:       0.5,
		IdleResetPeriod:      10 * time.Minute,
	}
}

// DefaultPoolConfig returns sensible pool defaults; Principals is left
// empty and must be supplied by the caller.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		AcquireTimeout:                60 * time.Second,
		ConsecutiveFaultsToQuarantine: 3,
		QuarantinePeriod:              2 * time.Minute,
		DisableAffinity:               true,
	}
}

// DefaultDmlGuardConfig returns the conservative defaults: both
// prevention flags on, row cap at the Service's typical bulk-batch
// size.
func DefaultDmlGuardConfig() DmlGuardConfig {
	return DmlGuardConfig{
		PreventDeleteWithoutWhere: true,
		PreventUpdateWithoutWhere: true,
		RowCap:                    5000,
	}
}

// Load reads configuration from the given file path (if non-empty),
// environment variables prefixed DVCORE_, and the defaults above, then
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DVCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	dt := DefaultThrottleConfig()
	v.SetDefault("throttle.stabilization_batches", dt.StabilizationBatches)
	v.SetDefault("throttle.min_increase_interval", dt.MinIncreaseInterval)
	v.SetDefault("throttle.increase_step", dt.IncreaseStep)
	v.SetDefault("throttle.recovery_multiplier", dt.RecoveryMultiplier)
	v.SetDefault("throttle.decrease_factor", dt.DecreaseFactor)
	v.SetDefault("throttle.idle_reset_period", dt.IdleResetPeriod)

	dp := DefaultPoolConfig()
	v.SetDefault("pool.acquire_timeout", dp.AcquireTimeout)
	v.SetDefault("pool.consecutive_faults_to_quarantine", dp.ConsecutiveFaultsToQuarantine)
	v.SetDefault("pool.quarantine_period", dp.QuarantinePeriod)
	v.SetDefault("pool.disable_affinity", dp.DisableAffinity)

	dg := DefaultDmlGuardConfig()
	v.SetDefault("dml_guard.prevent_delete_without_where", dg.PreventDeleteWithoutWhere)
	v.SetDefault("dml_guard.prevent_update_without_where", dg.PreventUpdateWithoutWhere)
	v.SetDefault("dml_guard.row_cap", dg.RowCap)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// EffectiveCapacity returns the pool's total capacity per the §9 Open
// Question: legacy shared capacity wins whenever it is non-zero,
// otherwise capacity is the sum of per-principal hard ceilings.
func (p PoolConfig) EffectiveCapacity() int {
	if p.LegacySharedCapacity > 0 {
		return p.LegacySharedCapacity
	}
	total := 0
	for _, pr := range p.Principals {
		total += pr.HardCeiling
	}
	return total
}
