package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV observation. Bars are never mutated after they are loaded.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// ChannelState is the breakout channel derived for one bar.
// Ready is false when the trailing window was too short to compute it.
type ChannelState struct {
	Ready       bool            `json:"ready"`
	Range       decimal.Decimal `json:"range"`
	UpperBand   decimal.Decimal `json:"upper_band"`
	LowerBand   decimal.Decimal `json:"lower_band"`
	TrendFilter decimal.Decimal `json:"trend_filter"`
}

// Decision is the outcome of evaluating one bar.
type Decision string

const (
	Hold      Decision = "HOLD"
	EnterLong Decision = "ENTER_LONG"
	ExitLong  Decision = "EXIT_LONG"
	StopOut   Decision = "STOP_OUT"
)

// Side 定义了成交方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
	Stop Side = "STOP"
)

// SideFor maps a trading decision to the side of the fill it produces.
func SideFor(d Decision) (Side, bool) {
	switch d {
	case EnterLong:
		return Buy, true
	case ExitLong:
		return Sell, true
	case StopOut:
		return Stop, true
	}
	return "", false
}

// Signal is what the strategy asks the simulator to do on a bar.
type Signal struct {
	Decision Decision
	Quantity int64  // target shares for ENTER_LONG, held shares for exits
	Reason   string // short human-readable trigger description
}
