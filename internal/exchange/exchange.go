package exchange

import (
	"dualthrust-bt-go/internal/models"
)

// Executor 定义了执行层必须提供的方法。
// Simulator is the backtest implementation.
type Executor interface {
	Apply(sig models.Signal, bar models.Bar) (Fill, error)
	MarkToMarket(bar models.Bar) models.FundsPoint
	Position() models.PositionState
	Account() models.AccountState
}

var _ Executor = (*Simulator)(nil)

// Fill is the outcome of applying one signal.
type Fill struct {
	Decision models.Decision        // executed decision; HOLD when the request degraded
	Trade    *models.TradeRecord    // nil when nothing traded
	Closed   *models.ClosedPosition // set on sells
	Note     string
}
