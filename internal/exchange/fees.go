package exchange

import (
	"dualthrust-bt-go/internal/models"

	"github.com/shopspring/decimal"
)

// FeeSchedule prices the cost of one fill.
type FeeSchedule interface {
	Fee(side models.Side, price decimal.Decimal, qty int64) decimal.Decimal
}

// RateSchedule is a notional-proportional schedule in the style of the HK cash market:
// commission with a floor, stamp duty rounded up to a whole unit, plus levy and trading fee.
// The total is rounded to cents.
type RateSchedule struct {
	commissionRate decimal.Decimal
	minCommission  decimal.Decimal
	stampDutyRate  decimal.Decimal
	levyRate       decimal.Decimal
	tradingFeeRate decimal.Decimal
}

// NewRateSchedule 根据费率配置创建手续费计算器
func NewRateSchedule(cfg models.FeeConfig) *RateSchedule {
	return &RateSchedule{
		commissionRate: cfg.CommissionRate,
		minCommission:  cfg.MinCommission,
		stampDutyRate:  cfg.StampDutyRate,
		levyRate:       cfg.LevyRate,
		tradingFeeRate: cfg.TradingFeeRate,
	}
}

func (r *RateSchedule) Fee(_ models.Side, price decimal.Decimal, qty int64) decimal.Decimal {
	if qty <= 0 || !price.IsPositive() {
		return decimal.Zero
	}
	notional := price.Mul(decimal.NewFromInt(qty))

	commission := notional.Mul(r.commissionRate)
	if commission.LessThan(r.minCommission) {
		commission = r.minCommission
	}
	stamp := notional.Mul(r.stampDutyRate).Ceil()
	levy := notional.Mul(r.levyRate)
	trading := notional.Mul(r.tradingFeeRate)

	return commission.Add(stamp).Add(levy).Add(trading).Round(2)
}

// ZeroFees charges nothing.
type ZeroFees struct{}

func (ZeroFees) Fee(models.Side, decimal.Decimal, int64) decimal.Decimal { return decimal.Zero }
