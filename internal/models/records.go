package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one fill. Append-only.
type TradeRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	Fee         decimal.Decimal `json:"fee"`
	CashAfter   decimal.Decimal `json:"cash_after"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // zero on buys
}

// ClosedPosition 记录一笔完成的往返交易（开仓和平仓）
type ClosedPosition struct {
	ID           string          `json:"id"`
	EntryTime    time.Time       `json:"entry_time"`
	ExitTime     time.Time       `json:"exit_time"`
	HoldDuration time.Duration   `json:"hold_duration"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	Quantity     int64           `json:"quantity"`
	Fees         decimal.Decimal `json:"fees"` // entry + exit
	PnL          decimal.Decimal `json:"pnl"`  // net of Fees
	ExitSide     Side            `json:"exit_side"`
}

// SignalRecord is written for every evaluated bar, including holds.
type SignalRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	Close          decimal.Decimal `json:"close"`
	Channel        ChannelState    `json:"channel"`
	Requested      Decision        `json:"requested"` // what the strategy asked for
	Decision       Decision        `json:"decision"`  // what was executed
	PositionBefore int64           `json:"position_before"`
	PositionAfter  int64           `json:"position_after"`
	Note           string          `json:"note,omitempty"`
}

// FundsPoint is one row of the funds curve.
type FundsPoint struct {
	Timestamp      time.Time       `json:"timestamp"`
	Date           string          `json:"date"` // YYYYMMDD in the calendar time zone
	Close          decimal.Decimal `json:"close"`
	Position       int64           `json:"position"`
	Cash           decimal.Decimal `json:"cash"`
	DynamicBalance decimal.Decimal `json:"dynamic_balance"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	Fees           decimal.Decimal `json:"fees"`
}
