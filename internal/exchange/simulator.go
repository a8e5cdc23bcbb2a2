package exchange

import (
	"dualthrust-bt-go/internal/models"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// closedNamespace seeds the deterministic round-trip IDs.
var closedNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dualthrust-bt/closed-position"))

// Simulator 模拟现货账户的成交、持仓和资金变化。
// It owns the run's PositionState and AccountState; fills happen at the bar close rounded to the tick.
type Simulator struct {
	instrument     string
	lotSize        int64
	tickSize       decimal.Decimal
	initialCapital decimal.Decimal
	fees           FeeSchedule
	loc            *time.Location
	logger         *zap.Logger
	mu             sync.Mutex

	position    models.PositionState
	account     models.AccountState
	maxExposure decimal.Decimal // peak position value / dynamic balance
	fills       int
}

// NewSimulator creates a flat simulator holding cfg.InitialCapital in cash.
func NewSimulator(cfg *models.Config, fees FeeSchedule, loc *time.Location, logger *zap.Logger) *Simulator {
	if fees == nil {
		fees = ZeroFees{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		instrument:     cfg.Instrument,
		lotSize:        cfg.LotSize,
		tickSize:       cfg.TickSize,
		initialCapital: cfg.InitialCapital,
		fees:           fees,
		loc:            loc,
		logger:         logger,
		account: models.AccountState{
			Cash:           cfg.InitialCapital,
			DynamicBalance: cfg.InitialCapital,
		},
	}
}

// Apply executes sig at bar's close. Entries that cannot afford one lot including the fee
// degrade to HOLD; a sell larger than the holding is an *models.OverdraftError.
func (s *Simulator) Apply(sig models.Signal, bar models.Bar) (Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch sig.Decision {
	case models.EnterLong:
		return s.buy(sig, bar), nil
	case models.ExitLong, models.StopOut:
		return s.sell(sig, bar)
	}
	return Fill{Decision: models.Hold}, nil
}

// buy 处理开仓。必须在持有锁的情况下调用。
func (s *Simulator) buy(sig models.Signal, bar models.Bar) Fill {
	price := RoundToTick(bar.Close, s.tickSize)
	qty := roundDownToLots(sig.Quantity, s.lotSize)

	var fee, cost decimal.Decimal
	for ; qty > 0; qty -= s.lotSize {
		fee = s.fees.Fee(models.Buy, price, qty)
		cost = price.Mul(decimal.NewFromInt(qty)).Add(fee)
		if cost.LessThanOrEqual(s.account.Cash) {
			break
		}
	}
	if qty <= 0 {
		s.logger.Debug("Entry degraded to HOLD",
			zap.Time("bar", bar.Timestamp),
			zap.Int64("requested", sig.Quantity),
			zap.String("price", price.String()),
			zap.String("cash", s.account.Cash.String()))
		return Fill{Decision: models.Hold, Note: "insufficient cash for one lot"}
	}

	held := decimal.NewFromInt(s.position.Quantity)
	added := decimal.NewFromInt(qty)
	if s.position.IsFlat() {
		s.position.EntryTime = bar.Timestamp
		s.position.AvgEntryPrice = price
	} else {
		s.position.AvgEntryPrice = s.position.AvgEntryPrice.Mul(held).Add(price.Mul(added)).Div(held.Add(added))
	}
	s.position.Quantity += qty
	s.position.EntryFees = s.position.EntryFees.Add(fee)

	s.account.Cash = s.account.Cash.Sub(cost)
	s.account.TotalFees = s.account.TotalFees.Add(fee)
	s.fills++

	trade := &models.TradeRecord{
		Timestamp:   bar.Timestamp,
		Side:        models.Buy,
		Price:       price,
		Quantity:    qty,
		Fee:         fee,
		CashAfter:   s.account.Cash,
		RealizedPnL: decimal.Zero,
	}
	s.logFill(trade)

	fill := Fill{Decision: models.EnterLong, Trade: trade}
	if qty < sig.Quantity {
		fill.Note = fmt.Sprintf("reduced from %d to %d", sig.Quantity, qty)
	}
	return fill
}

// sell 处理平仓和止损。必须在持有锁的情况下调用。
func (s *Simulator) sell(sig models.Signal, bar models.Bar) (Fill, error) {
	if sig.Quantity > s.position.Quantity {
		return Fill{}, &models.OverdraftError{Timestamp: bar.Timestamp, Requested: sig.Quantity, Held: s.position.Quantity}
	}
	if sig.Quantity <= 0 {
		return Fill{Decision: models.Hold, Note: "nothing to sell"}, nil
	}

	side, _ := models.SideFor(sig.Decision)
	price := RoundToTick(bar.Close, s.tickSize)
	qty := sig.Quantity
	sold := decimal.NewFromInt(qty)

	fee := s.fees.Fee(side, price, qty)
	entryFees := s.position.EntryFees
	if qty < s.position.Quantity {
		entryFees = entryFees.Mul(sold).Div(decimal.NewFromInt(s.position.Quantity)).Round(2)
	}
	pnl := price.Sub(s.position.AvgEntryPrice).Mul(sold).Sub(entryFees).Sub(fee)

	s.account.Cash = s.account.Cash.Add(price.Mul(sold)).Sub(fee)
	s.account.RealizedPnL = s.account.RealizedPnL.Add(pnl)
	s.account.TotalFees = s.account.TotalFees.Add(fee)
	s.fills++

	closed := &models.ClosedPosition{
		EntryTime:    s.position.EntryTime,
		ExitTime:     bar.Timestamp,
		HoldDuration: bar.Timestamp.Sub(s.position.EntryTime),
		EntryPrice:   s.position.AvgEntryPrice,
		ExitPrice:    price,
		Quantity:     qty,
		Fees:         entryFees.Add(fee),
		PnL:          pnl,
		ExitSide:     side,
	}
	closed.ID = closedID(s.instrument, closed)

	s.position.Quantity -= qty
	s.position.EntryFees = s.position.EntryFees.Sub(entryFees)
	if s.position.IsFlat() {
		s.position = models.PositionState{}
	}

	trade := &models.TradeRecord{
		Timestamp:   bar.Timestamp,
		Side:        side,
		Price:       price,
		Quantity:    qty,
		Fee:         fee,
		CashAfter:   s.account.Cash,
		RealizedPnL: pnl,
	}
	s.logFill(trade)

	return Fill{Decision: sig.Decision, Trade: trade, Closed: closed}, nil
}

// MarkToMarket revalues the holding at bar's close and returns the funds-curve row.
func (s *Simulator) MarkToMarket(bar models.Bar) models.FundsPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	positionValue := bar.Close.Mul(decimal.NewFromInt(s.position.Quantity))
	s.account.DynamicBalance = s.account.Cash.Add(positionValue)

	if s.account.DynamicBalance.IsPositive() {
		exposure := positionValue.Div(s.account.DynamicBalance)
		if exposure.GreaterThan(s.maxExposure) {
			s.maxExposure = exposure
		}
	}

	local := bar.Timestamp.In(s.loc)
	return models.FundsPoint{
		Timestamp:      bar.Timestamp,
		Date:           local.Format("20060102"),
		Close:          bar.Close,
		Position:       s.position.Quantity,
		Cash:           s.account.Cash,
		DynamicBalance: s.account.DynamicBalance,
		RealizedPnL:    s.account.RealizedPnL,
		Fees:           s.account.TotalFees,
	}
}

func (s *Simulator) Position() models.PositionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *Simulator) Account() models.AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// MaxExposure 返回回测期间记录的最大持仓占比。
func (s *Simulator) MaxExposure() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxExposure
}

// Restore replaces the position, account and peak exposure, e.g. from a checkpoint.
func (s *Simulator) Restore(pos models.PositionState, acct models.AccountState, maxExposure decimal.Decimal) error {
	if pos.Quantity < 0 {
		return fmt.Errorf("restore: negative quantity %d", pos.Quantity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
	s.account = acct
	s.maxExposure = maxExposure
	return nil
}

func (s *Simulator) logFill(t *models.TradeRecord) {
	s.logger.Info("Fill",
		zap.String("instrument", s.instrument),
		zap.Time("time", t.Timestamp),
		zap.String("side", string(t.Side)),
		zap.String("price", t.Price.String()),
		zap.Int64("quantity", t.Quantity),
		zap.String("fee", t.Fee.String()),
		zap.Int64("position", s.position.Quantity),
		zap.String("avgEntry", s.position.AvgEntryPrice.String()),
		zap.String("cash", s.account.Cash.String()),
		zap.String("realizedPnl", t.RealizedPnL.String()))
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

func roundDownToLots(qty, lotSize int64) int64 {
	if lotSize <= 0 || qty <= 0 {
		return 0
	}
	return qty / lotSize * lotSize
}

func closedID(instrument string, c *models.ClosedPosition) string {
	key := fmt.Sprintf("%s|%d|%d|%d|%s", instrument, c.EntryTime.UnixNano(), c.ExitTime.UnixNano(), c.Quantity, c.ExitSide)
	return uuid.NewSHA1(closedNamespace, []byte(key)).String()
}
