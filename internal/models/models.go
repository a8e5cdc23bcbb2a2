package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every parameter of a backtest run. It is read-only once the run starts.
type Config struct {
	Instrument      string          `json:"instrument" yaml:"instrument"`             // e.g. "HK.00700"
	BarPeriod       string          `json:"bar_period" yaml:"bar_period"`             // e.g. "5m"
	LookbackBars    int             `json:"lookback_bars" yaml:"lookback_bars"`       // channel window N
	TrendWindow     int             `json:"trend_window" yaml:"trend_window"`         // moving-average window, independent of N
	K1              decimal.Decimal `json:"k1" yaml:"k1"`                             // upper band multiplier
	K2              decimal.Decimal `json:"k2" yaml:"k2"`                             // lower band multiplier
	LotSize         int64           `json:"lot_size" yaml:"lot_size"`                 // shares per lot
	TickSize        decimal.Decimal `json:"tick_size" yaml:"tick_size"`               // minimum price increment
	MaxPosition     int64           `json:"max_position" yaml:"max_position"`         // max shares held
	StopLoss        decimal.Decimal `json:"stop_loss" yaml:"stop_loss"`               // fraction of entry price, e.g. 0.05
	InitialCapital  decimal.Decimal `json:"initial_capital" yaml:"initial_capital"`   // starting cash
	Start           string          `json:"start,omitempty" yaml:"start"`             // first evaluated bar, calendar time zone
	End             string          `json:"end,omitempty" yaml:"end"`                 // last evaluated bar, calendar time zone
	CheckpointEvery int             `json:"checkpoint_every,omitempty" yaml:"checkpoint_every"` // 0 disables periodic checkpoints
	DBPath          string          `json:"db_path,omitempty" yaml:"db_path"`         // badger directory for checkpoints and bar cache

	Fees      FeeConfig      `json:"fees" yaml:"fees"`
	Calendar  CalendarConfig `json:"calendar" yaml:"calendar"`
	Output    OutputConfig   `json:"output" yaml:"output"`
	Sweep     SweepConfig    `json:"sweep,omitempty" yaml:"sweep"`
	LogConfig LogConfig      `json:"log" yaml:"log"`

	// Populated by config.Validate.
	StartTime time.Time `json:"-" yaml:"-"`
	EndTime   time.Time `json:"-" yaml:"-"`
}

// FeeConfig describes the commission schedule. Rates are fractions of notional.
type FeeConfig struct {
	CommissionRate decimal.Decimal `json:"commission_rate" yaml:"commission_rate"`
	MinCommission  decimal.Decimal `json:"min_commission" yaml:"min_commission"`
	StampDutyRate  decimal.Decimal `json:"stamp_duty_rate" yaml:"stamp_duty_rate"` // charged on both sides, rounded up to a whole unit
	LevyRate       decimal.Decimal `json:"levy_rate" yaml:"levy_rate"`
	TradingFeeRate decimal.Decimal `json:"trading_fee_rate" yaml:"trading_fee_rate"`
}

// CalendarConfig selects the session calendar of the instrument.
type CalendarConfig struct {
	Market   string          `json:"market" yaml:"market"`     // "HK", "24x7" or "custom"
	Timezone string          `json:"timezone,omitempty" yaml:"timezone"`
	Sessions []SessionConfig `json:"sessions,omitempty" yaml:"sessions"` // required for "custom"
	Holidays []string        `json:"holidays,omitempty" yaml:"holidays"` // YYYY-MM-DD
	// BarStamp says which end of its interval a bar's timestamp marks: "start", "end",
	// or "both" (the default) when both session ends are tradable.
	BarStamp string `json:"bar_stamp,omitempty" yaml:"bar_stamp"`
}

// SessionConfig is one intraday trading interval in local wall-clock time.
type SessionConfig struct {
	Open  string `json:"open" yaml:"open"`   // "09:30"
	Close string `json:"close" yaml:"close"` // "12:00"
}

// OutputConfig controls where the run artifacts go.
type OutputConfig struct {
	Dir        string `json:"dir,omitempty" yaml:"dir"`
	SQLitePath string `json:"sqlite_path,omitempty" yaml:"sqlite_path"`
}

// SweepConfig lists the k1/k2 grid explored by sweep mode.
type SweepConfig struct {
	K1          []decimal.Decimal `json:"k1,omitempty" yaml:"k1"`
	K2          []decimal.Decimal `json:"k2,omitempty" yaml:"k2"`
	Parallelism int               `json:"parallelism,omitempty" yaml:"parallelism"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // MB
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // days
	Compress   bool   `json:"compress" yaml:"compress"`
}
