package shared

import (
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestRiskConfigValidate(t *testing.T) {
	// Ensure the defaults are valid.
	assert.NoError(t, DefaultRiskConfig().Validate())

	tests := []struct {
		name    string
		mutate  func(cfg *RiskConfig)
		wantErr string
	}{
		{
			name:    "zero risk per trade",
			mutate:  func(cfg *RiskConfig) { cfg.RiskPerTrade = 0 },
			wantErr: "risk per trade",
		},
		{
			name:    "max exposure above one",
			mutate:  func(cfg *RiskConfig) { cfg.MaxExposure = 1.5 },
			wantErr: "max exposure",
		},
		{
			name:    "full stop loss",
			mutate:  func(cfg *RiskConfig) { cfg.StopLossPct = 1 },
			wantErr: "stop loss percent",
		},
		{
			name:    "zero trailing trigger",
			mutate:  func(cfg *RiskConfig) { cfg.TrailingTriggerPct = 0 },
			wantErr: "trailing trigger percent",
		},
		{
			name:    "zero trailing percent",
			mutate:  func(cfg *RiskConfig) { cfg.TrailingPct = 0 },
			wantErr: "trailing percent",
		},
		{
			name:    "zero lookahead",
			mutate:  func(cfg *RiskConfig) { cfg.EarningsLookaheadDays = 0 },
			wantErr: "earnings lookahead days",
		},
		{
			name:    "zero check interval",
			mutate:  func(cfg *RiskConfig) { cfg.CheckInterval = 0 },
			wantErr: "check interval",
		},
		{
			name:    "decreasing thresholds",
			mutate:  func(cfg *RiskConfig) { cfg.SignalThresholds.SellCut = 90 },
			wantErr: "threshold",
		},
	}

	for _, test := range tests {
		cfg := DefaultRiskConfig()
		test.mutate(cfg)

		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected an error, got none", test.name)
			continue
		}
		if !strings.Contains(err.Error(), test.wantErr) {
			t.Errorf("%s: expected error to contain %q, got %v", test.name, test.wantErr, err)
		}
	}
}
