package shared

import (
	"errors"
	"fmt"
	"time"
)

// RiskConfig represents the risk parameters for the decision engine.
// Immutable per run, changes only apply at tick boundaries, never mid-tick.
type RiskConfig struct {
	// RiskPerTrade is the fraction of equity committed to a single entry.
	RiskPerTrade float64
	// MaxExposure is the ceiling on the total fraction of equity committed
	// to open positions.
	MaxExposure float64
	// StopLossPct is the loss fraction from entry that forces an exit.
	StopLossPct float64
	// TrailingTriggerPct is the gain fraction from entry that arms the
	// trailing stop.
	TrailingTriggerPct float64
	// TrailingPct is the drop fraction from the high water mark that
	// triggers a trailing stop exit.
	TrailingPct float64
	// EarningsLookaheadDays is the calendar window for upcoming earnings.
	EarningsLookaheadDays int
	// CheckInterval is the spacing between decision ticks.
	CheckInterval time.Duration
	// SignalThresholds partitions sentiment scores into signal bands.
	SignalThresholds SignalThresholds
}

// DefaultRiskConfig returns the default risk parameters.
func DefaultRiskConfig() *RiskConfig {
	return &RiskConfig{
		RiskPerTrade:          0.015,
		MaxExposure:           0.45,
		StopLossPct:           0.05,
		TrailingTriggerPct:    0.10,
		TrailingPct:           0.05,
		EarningsLookaheadDays: 7,
		CheckInterval:         time.Hour,
		SignalThresholds:      DefaultSignalThresholds(),
	}
}

// Validate asserts the risk config has sane inputs.
func (cfg *RiskConfig) Validate() error {
	var errs error

	if cfg.RiskPerTrade <= 0 || cfg.RiskPerTrade > 1 {
		errs = errors.Join(errs, fmt.Errorf("risk per trade must be in (0,1], got %v", cfg.RiskPerTrade))
	}
	if cfg.MaxExposure <= 0 || cfg.MaxExposure > 1 {
		errs = errors.Join(errs, fmt.Errorf("max exposure must be in (0,1], got %v", cfg.MaxExposure))
	}
	if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1 {
		errs = errors.Join(errs, fmt.Errorf("stop loss percent must be in (0,1), got %v", cfg.StopLossPct))
	}
	if cfg.TrailingTriggerPct <= 0 {
		errs = errors.Join(errs, fmt.Errorf("trailing trigger percent must be positive, got %v", cfg.TrailingTriggerPct))
	}
	if cfg.TrailingPct <= 0 || cfg.TrailingPct >= 1 {
		errs = errors.Join(errs, fmt.Errorf("trailing percent must be in (0,1), got %v", cfg.TrailingPct))
	}
	if cfg.EarningsLookaheadDays <= 0 {
		errs = errors.Join(errs, fmt.Errorf("earnings lookahead days must be positive, got %d", cfg.EarningsLookaheadDays))
	}
	if cfg.CheckInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("check interval must be positive, got %v", cfg.CheckInterval))
	}
	if err := cfg.SignalThresholds.Validate(); err != nil {
		errs = errors.Join(errs, err)
	}

	return errs
}
