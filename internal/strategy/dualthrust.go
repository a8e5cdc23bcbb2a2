package strategy

import (
	"dualthrust-bt-go/internal/models"
	"fmt"

	"github.com/shopspring/decimal"
)

// Input is everything the strategy looks at for one bar.
type Input struct {
	Bar      models.Bar
	Channel  models.ChannelState // Channel.Ready is false while history is short
	Position models.PositionState
	Cash     decimal.Decimal
}

// DualThrust is a long-only channel breakout state machine keyed on the position kind.
type DualThrust struct {
	lotSize     int64
	maxPosition int64
	stopLoss    decimal.Decimal
}

// NewDualThrust 根据配置创建策略实例
func NewDualThrust(cfg *models.Config) *DualThrust {
	return &DualThrust{
		lotSize:     cfg.LotSize,
		maxPosition: cfg.MaxPosition,
		stopLoss:    cfg.StopLoss,
	}
}

// Evaluate decides what to do on in.Bar. A long position is checked against the stop
// before anything else; ties on a band never trigger.
func (s *DualThrust) Evaluate(in Input) models.Signal {
	price := in.Bar.Close

	switch in.Position.Kind() {
	case models.Long:
		if s.stopTriggered(price, in.Position.AvgEntryPrice) {
			return models.Signal{
				Decision: models.StopOut,
				Quantity: in.Position.Quantity,
				Reason:   fmt.Sprintf("close %s breached stop from entry %s", price, in.Position.AvgEntryPrice),
			}
		}
		if !in.Channel.Ready {
			return models.Signal{Decision: models.Hold, Reason: "insufficient history"}
		}
		if price.LessThan(in.Channel.LowerBand) && price.LessThan(in.Channel.TrendFilter) {
			return models.Signal{
				Decision: models.ExitLong,
				Quantity: in.Position.Quantity,
				Reason:   fmt.Sprintf("close %s below lower band %s and trend %s", price, in.Channel.LowerBand, in.Channel.TrendFilter),
			}
		}
	case models.Flat:
		if !in.Channel.Ready {
			return models.Signal{Decision: models.Hold, Reason: "insufficient history"}
		}
		if price.GreaterThan(in.Channel.UpperBand) && price.GreaterThan(in.Channel.TrendFilter) {
			return models.Signal{
				Decision: models.EnterLong,
				Quantity: s.TargetQuantity(price, in.Cash),
				Reason:   fmt.Sprintf("close %s above upper band %s and trend %s", price, in.Channel.UpperBand, in.Channel.TrendFilter),
			}
		}
	}
	return models.Signal{Decision: models.Hold}
}

// stopTriggered reports (price − entry) / entry ≤ −stopLoss.
func (s *DualThrust) stopTriggered(price, entry decimal.Decimal) bool {
	if !entry.IsPositive() {
		return false
	}
	loss := price.Sub(entry).Div(entry)
	return loss.LessThanOrEqual(s.stopLoss.Neg())
}

// TargetQuantity is the entry size: the configured maximum or what cash affords at price,
// whichever is smaller, rounded down to whole lots. Fees are checked by the simulator.
func (s *DualThrust) TargetQuantity(price, cash decimal.Decimal) int64 {
	maxQty := RoundDownToLots(s.maxPosition, s.lotSize)
	if !price.IsPositive() || !cash.IsPositive() {
		return 0
	}
	affordable := cash.Div(price).Floor().IntPart()
	affordable = RoundDownToLots(affordable, s.lotSize)
	if affordable < maxQty {
		return affordable
	}
	return maxQty
}

// RoundDownToLots truncates qty to a whole number of lots.
func RoundDownToLots(qty, lotSize int64) int64 {
	if lotSize <= 0 || qty <= 0 {
		return 0
	}
	return qty / lotSize * lotSize
}
