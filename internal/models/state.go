package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// PositionKind tags the two states of the strategy's state machine.
type PositionKind int

const (
	Flat PositionKind = iota
	Long
)

func (k PositionKind) String() string {
	if k == Long {
		return "LONG"
	}
	return "FLAT"
}

// PositionState is the holding in the instrument. Quantity is never negative.
// A flat position carries a zero AvgEntryPrice and a zero EntryTime.
type PositionState struct {
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	EntryTime     time.Time       `json:"entry_time"`
	EntryFees     decimal.Decimal `json:"entry_fees"` // fees paid to build the open position
}

// Kind derives the state-machine tag from the quantity.
func (p PositionState) Kind() PositionKind {
	if p.Quantity > 0 {
		return Long
	}
	return Flat
}

// IsFlat reports whether nothing is held.
func (p PositionState) IsFlat() bool { return p.Quantity == 0 }

// AccountState is the cash side of the run.
type AccountState struct {
	Cash           decimal.Decimal `json:"cash"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	DynamicBalance decimal.Decimal `json:"dynamic_balance"` // cash + quantity × last close
	TotalFees      decimal.Decimal `json:"total_fees"`
}

// RunSnapshot is the persisted checkpoint of a run.
type RunSnapshot struct {
	RunID          string          `json:"run_id"`
	Instrument     string          `json:"instrument"`
	Version        int             `json:"version"` // snapshot schema version
	BarsProcessed  int             `json:"bars_processed"`
	LastBarTime    time.Time       `json:"last_bar_time"`
	LastDecision   Decision        `json:"last_decision"`
	LastEntryPrice decimal.Decimal `json:"last_entry_price"`
	Position       PositionState   `json:"position"`
	Account        AccountState    `json:"account"`
	Completed      bool            `json:"completed"`

	// Streams is stored under its own key; see persistence.BadgerRepository.
	Streams RunStreams `json:"-"`
}

// RunStreams is everything a run has emitted up to its checkpoint, so a resumed run
// can reproduce the full outputs.
type RunStreams struct {
	Funds       []FundsPoint     `json:"funds"`
	Trades      []TradeRecord    `json:"trades"`
	Closes      []ClosedPosition `json:"closes"`
	Signals     []SignalRecord   `json:"signals"`
	WarmupBars  int              `json:"warmup_bars"`
	SkippedBars int              `json:"skipped_bars"`
	MaxExposure decimal.Decimal  `json:"max_exposure"`
}

// Clone returns a copy of s that shares no slice with it.
func (s *RunSnapshot) Clone() *RunSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Streams.Funds = slices.Clone(s.Streams.Funds)
	c.Streams.Trades = slices.Clone(s.Streams.Trades)
	c.Streams.Closes = slices.Clone(s.Streams.Closes)
	c.Streams.Signals = slices.Clone(s.Streams.Signals)
	return &c
}

// SnapshotVersion is the current RunSnapshot schema version.
// Version 1 snapshots carried no streams and cannot be resumed.
const SnapshotVersion = 2
