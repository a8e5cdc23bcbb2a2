package config

import (
	"dualthrust-bt-go/internal/calendar"
	"dualthrust-bt-go/internal/models"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"200601021504",
}

// Validate checks cfg once before the run and resolves Start/End into StartTime/EndTime.
// Every failure is a *models.ConfigError.
func Validate(cfg *models.Config) error {
	if cfg.Instrument == "" {
		return &models.ConfigError{Field: "instrument", Reason: "is required"}
	}
	if cfg.LookbackBars < 1 {
		return &models.ConfigError{Field: "lookback_bars", Reason: "must be at least 1"}
	}
	if cfg.TrendWindow < 1 {
		return &models.ConfigError{Field: "trend_window", Reason: "must be at least 1"}
	}
	if cfg.K1.IsNegative() {
		return &models.ConfigError{Field: "k1", Reason: "must not be negative"}
	}
	if cfg.K2.IsNegative() {
		return &models.ConfigError{Field: "k2", Reason: "must not be negative"}
	}
	if cfg.LotSize < 1 {
		return &models.ConfigError{Field: "lot_size", Reason: "must be at least 1"}
	}
	if !cfg.TickSize.IsPositive() {
		return &models.ConfigError{Field: "tick_size", Reason: "must be positive"}
	}
	if cfg.MaxPosition < cfg.LotSize {
		return &models.ConfigError{Field: "max_position", Reason: fmt.Sprintf("must be at least one lot (%d)", cfg.LotSize)}
	}
	if !cfg.StopLoss.IsPositive() || cfg.StopLoss.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &models.ConfigError{Field: "stop_loss", Reason: "must be in (0, 1)"}
	}
	if !cfg.InitialCapital.IsPositive() {
		return &models.ConfigError{Field: "initial_capital", Reason: "must be positive"}
	}
	if cfg.CheckpointEvery < 0 {
		return &models.ConfigError{Field: "checkpoint_every", Reason: "must not be negative"}
	}
	if err := validateFees(cfg.Fees); err != nil {
		return err
	}
	if err := validateSweep(cfg.Sweep); err != nil {
		return err
	}

	if _, err := calendar.New(cfg.Calendar); err != nil {
		return &models.ConfigError{Field: "calendar", Reason: err.Error()}
	}
	loc, err := calendar.Location(cfg.Calendar)
	if err != nil {
		return &models.ConfigError{Field: "calendar.timezone", Reason: err.Error()}
	}

	cfg.StartTime, cfg.EndTime = time.Time{}, time.Time{}
	if cfg.Start != "" {
		if cfg.StartTime, err = ParseTimestamp(cfg.Start, loc); err != nil {
			return &models.ConfigError{Field: "start", Reason: err.Error()}
		}
	}
	if cfg.End != "" {
		if cfg.EndTime, err = ParseTimestamp(cfg.End, loc); err != nil {
			return &models.ConfigError{Field: "end", Reason: err.Error()}
		}
	}
	if !cfg.StartTime.IsZero() && !cfg.EndTime.IsZero() && cfg.EndTime.Before(cfg.StartTime) {
		return &models.ConfigError{Field: "end", Reason: "is before start"}
	}
	return nil
}

// ParseTimestamp accepts RFC3339, "YYYY-MM-DD[ HH:MM[:SS]]" and "YYYYMMDDHHMM" in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func validateFees(f models.FeeConfig) error {
	rates := map[string]decimal.Decimal{
		"fees.commission_rate":  f.CommissionRate,
		"fees.min_commission":   f.MinCommission,
		"fees.stamp_duty_rate":  f.StampDutyRate,
		"fees.levy_rate":        f.LevyRate,
		"fees.trading_fee_rate": f.TradingFeeRate,
	}
	for _, field := range []string{"fees.commission_rate", "fees.min_commission", "fees.stamp_duty_rate", "fees.levy_rate", "fees.trading_fee_rate"} {
		if rates[field].IsNegative() {
			return &models.ConfigError{Field: field, Reason: "must not be negative"}
		}
	}
	return nil
}

func validateSweep(s models.SweepConfig) error {
	if s.Parallelism < 0 {
		return &models.ConfigError{Field: "sweep.parallelism", Reason: "must not be negative"}
	}
	for _, k := range s.K1 {
		if k.IsNegative() {
			return &models.ConfigError{Field: "sweep.k1", Reason: "must not contain negative values"}
		}
	}
	for _, k := range s.K2 {
		if k.IsNegative() {
			return &models.ConfigError{Field: "sweep.k2", Reason: "must not contain negative values"}
		}
	}
	return nil
}
