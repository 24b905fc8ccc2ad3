package config

import (
	"strings"
	"testing"
	"time"
)

func validRiskConfig() RiskConfig {
	return RiskConfig{
		StopLoss:   StopLossConfig{Enabled: true, Percentage: 2.0, CooldownSeconds: 60},
		TakeProfit: TakeProfitConfig{Enabled: true, Percentage: 5.0, CooldownSeconds: 60},
		TrailingStop: TrailingStopConfig{
			Enabled:              true,
			TrailingPercentage:   1.5,
			ActivationPercentage: 3.0,
		},
		ExposureLimit: ExposureLimitConfig{
			Enabled:        true,
			MaxPerAsset:    10000,
			MaxPerExchange: 30000,
			MaxTotal:       50000,
		},
		MaxConcurrentTrades: MaxConcurrentTradesConfig{
			Enabled:        true,
			MaxPerAsset:    2,
			MaxPerExchange: 5,
			MaxTrades:      10,
		},
		DrawdownControl: DrawdownControlConfig{
			Enabled:                 true,
			MaxDrawdownPercentage:   15.0,
			PauseOnBreach:           true,
			EmergencyExitEnabled:    true,
			EmergencyExitPercentage: 20.0,
		},
		CheckInterval: 30 * time.Second,
	}
}

func TestRiskConfigValidate_Passes(t *testing.T) {
	cfg := validRiskConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestRiskConfigValidate_TrailingActivationMustExceedTrailing(t *testing.T) {
	cfg := validRiskConfig()
	cfg.TrailingStop.TrailingPercentage = 5
	cfg.TrailingStop.ActivationPercentage = 3

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error for activation <= trailing")
	}
	if !strings.Contains(err.Error(), "activation_percentage") {
		t.Fatalf("expected activation_percentage in error, got %v", err)
	}
}

func TestRiskConfigValidate_ExposureOrdering(t *testing.T) {
	cfg := validRiskConfig()
	cfg.ExposureLimit.MaxPerAsset = 40000
	cfg.ExposureLimit.MaxPerExchange = 30000

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for max_per_asset > max_per_exchange")
	}
}

func TestRiskConfigValidate_StopMustBeBelowTake(t *testing.T) {
	cfg := validRiskConfig()
	cfg.StopLoss.Percentage = 6.0

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for stop_loss >= take_profit")
	}
}

func TestRiskConfigValidate_EmergencyMustExceedMaxDrawdown(t *testing.T) {
	cfg := validRiskConfig()
	cfg.DrawdownControl.EmergencyExitPercentage = 10.0

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for emergency <= max drawdown")
	}
}

func TestRiskConfigValidate_PartialCloseRange(t *testing.T) {
	cfg := validRiskConfig()
	cfg.TakeProfit.PartialClose = true
	cfg.TakeProfit.PartialClosePercentage = 100

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for partial close percentage out of range")
	}
}

func TestRiskConfigValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validRiskConfig()
	cfg.StopLoss.Percentage = 0
	cfg.CheckInterval = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	if !strings.Contains(err.Error(), "stop_loss") || !strings.Contains(err.Error(), "check_interval") {
		t.Fatalf("expected both violations reported, got %v", err)
	}
}
