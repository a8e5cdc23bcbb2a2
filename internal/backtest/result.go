package backtest

import (
	"crypto/sha256"
	"dualthrust-bt-go/internal/models"
	"encoding/json"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// Result holds every output stream of one run. On a fatal error it holds what was
// accumulated up to the faulting bar.
type Result struct {
	RunID          string
	Instrument     string
	InitialCapital decimal.Decimal

	Funds   []models.FundsPoint
	Trades  []models.TradeRecord
	Closes  []models.ClosedPosition
	Signals []models.SignalRecord

	BarsProcessed int // bars evaluated by the strategy
	WarmupBars    int // bars used only as history
	SkippedBars   int // bars outside the session calendar

	FinalPosition models.PositionState
	FinalAccount  models.AccountState
	MaxExposure   decimal.Decimal
	Snapshot      *models.RunSnapshot
	Aborted       bool
}

// EndedFlat reports whether the run finished without an open position.
func (r *Result) EndedFlat() bool { return r.FinalPosition.IsFlat() }

// runKey lists the parameters that identify a run. Output and logging settings are excluded.
type runKey struct {
	Instrument     string                `json:"instrument"`
	BarPeriod      string                `json:"bar_period"`
	LookbackBars   int                   `json:"lookback_bars"`
	TrendWindow    int                   `json:"trend_window"`
	K1             decimal.Decimal       `json:"k1"`
	K2             decimal.Decimal       `json:"k2"`
	LotSize        int64                 `json:"lot_size"`
	TickSize       decimal.Decimal       `json:"tick_size"`
	MaxPosition    int64                 `json:"max_position"`
	StopLoss       decimal.Decimal       `json:"stop_loss"`
	InitialCapital decimal.Decimal       `json:"initial_capital"`
	Start          string                `json:"start"`
	End            string                `json:"end"`
	Fees           models.FeeConfig      `json:"fees"`
	Calendar       models.CalendarConfig `json:"calendar"`
}

// RunID derives a stable identifier from the run parameters: base62 of a SHA-256 digest.
func RunID(cfg *models.Config) string {
	key := runKey{
		Instrument:     cfg.Instrument,
		BarPeriod:      cfg.BarPeriod,
		LookbackBars:   cfg.LookbackBars,
		TrendWindow:    cfg.TrendWindow,
		K1:             cfg.K1,
		K2:             cfg.K2,
		LotSize:        cfg.LotSize,
		TickSize:       cfg.TickSize,
		MaxPosition:    cfg.MaxPosition,
		StopLoss:       cfg.StopLoss,
		InitialCapital: cfg.InitialCapital,
		Start:          cfg.Start,
		End:            cfg.End,
		Fees:           cfg.Fees,
		Calendar:       cfg.Calendar,
	}
	data, err := json.Marshal(key)
	if err != nil {
		// every field is a plain value; Marshal cannot fail here
		panic(err)
	}
	sum := sha256.Sum256(data)
	return base62.EncodeToString(sum[:16])
}
