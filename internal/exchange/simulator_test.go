package exchange

import (
	"dualthrust-bt-go/internal/models"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixedFee charges a flat amount per fill.
type fixedFee struct{ amount decimal.Decimal }

func (f fixedFee) Fee(models.Side, decimal.Decimal, int64) decimal.Decimal { return f.amount }

func testConfig() *models.Config {
	return &models.Config{
		Instrument:     "HK.00700",
		LotSize:        100,
		TickSize:       d("0.01"),
		MaxPosition:    1000,
		StopLoss:       d("0.05"),
		InitialCapital: d("500000"),
	}
}

var t0 = time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)

func closeAt(ts time.Time, c string) models.Bar {
	return models.Bar{Timestamp: ts, Open: d(c), High: d(c), Low: d(c), Close: d(c)}
}

func TestSimulator_EntryScenario(t *testing.T) {
	fee := d("56.78")
	sim := NewSimulator(testConfig(), fixedFee{fee}, time.UTC, zap.NewNop())

	fill, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 1000}, closeAt(t0, "112"))
	require.NoError(t, err)
	require.NotNil(t, fill.Trade)

	assert.Equal(t, models.EnterLong, fill.Decision)
	assert.Equal(t, models.Buy, fill.Trade.Side)
	assert.Equal(t, int64(1000), fill.Trade.Quantity)
	assert.True(t, d("112").Equal(fill.Trade.Price))

	want := d("500000").Sub(d("112000")).Sub(fee)
	assert.True(t, want.Equal(sim.Account().Cash), "cash=%s", sim.Account().Cash)
	assert.True(t, want.Equal(fill.Trade.CashAfter))

	pos := sim.Position()
	assert.Equal(t, models.Long, pos.Kind())
	assert.True(t, d("112").Equal(pos.AvgEntryPrice))
	assert.Equal(t, t0, pos.EntryTime)
}

func TestSimulator_RoundTripRealizesPnL(t *testing.T) {
	sim := NewSimulator(testConfig(), fixedFee{d("10")}, time.UTC, zap.NewNop())

	_, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 1000}, closeAt(t0, "112"))
	require.NoError(t, err)

	exit := t0.Add(3 * time.Hour)
	fill, err := sim.Apply(models.Signal{Decision: models.StopOut, Quantity: 1000}, closeAt(exit, "106.4"))
	require.NoError(t, err)
	require.NotNil(t, fill.Closed)

	// (106.4 - 112) * 1000 - 10 - 10
	assert.True(t, d("-5620").Equal(fill.Closed.PnL), "pnl=%s", fill.Closed.PnL)
	assert.Equal(t, models.Stop, fill.Trade.Side)
	assert.Equal(t, models.Stop, fill.Closed.ExitSide)
	assert.Equal(t, 3*time.Hour, fill.Closed.HoldDuration)
	assert.True(t, d("20").Equal(fill.Closed.Fees))
	assert.NotEmpty(t, fill.Closed.ID)

	acct := sim.Account()
	assert.True(t, sim.Position().IsFlat())
	assert.True(t, sim.Position().AvgEntryPrice.IsZero(), "flat position must clear the entry price")
	assert.True(t, acct.Cash.Sub(d("500000")).Equal(fill.Closed.PnL), "cash delta equals round-trip pnl")
	assert.True(t, acct.RealizedPnL.Equal(fill.Closed.PnL))
	assert.True(t, d("20").Equal(acct.TotalFees))
}

func TestSimulator_EntryDegradesWhenUnaffordable(t *testing.T) {
	cfg := testConfig()
	cfg.InitialCapital = d("11000")
	sim := NewSimulator(cfg, ZeroFees{}, time.UTC, zap.NewNop())

	fill, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 100}, closeAt(t0, "112"))
	require.NoError(t, err)
	assert.Equal(t, models.Hold, fill.Decision)
	assert.Nil(t, fill.Trade)
	assert.True(t, sim.Position().IsFlat())
	assert.True(t, d("11000").Equal(sim.Account().Cash))
}

func TestSimulator_EntryWalksDownWhenFeeDoesNotFit(t *testing.T) {
	cfg := testConfig()
	// two lots cost exactly 22400, the fee pushes it over
	cfg.InitialCapital = d("22400")
	sim := NewSimulator(cfg, fixedFee{d("5")}, time.UTC, zap.NewNop())

	fill, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 200}, closeAt(t0, "112"))
	require.NoError(t, err)
	require.NotNil(t, fill.Trade)
	assert.Equal(t, int64(100), fill.Trade.Quantity)
	assert.NotEmpty(t, fill.Note)
	assert.True(t, d("11195").Equal(sim.Account().Cash))
}

func TestSimulator_OverdraftIsFatal(t *testing.T) {
	sim := NewSimulator(testConfig(), ZeroFees{}, time.UTC, zap.NewNop())
	_, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 300}, closeAt(t0, "100"))
	require.NoError(t, err)

	_, err = sim.Apply(models.Signal{Decision: models.ExitLong, Quantity: 400}, closeAt(t0.Add(time.Minute), "101"))
	var overdraft *models.OverdraftError
	require.True(t, errors.As(err, &overdraft))
	assert.Equal(t, int64(400), overdraft.Requested)
	assert.Equal(t, int64(300), overdraft.Held)
	assert.Equal(t, t0.Add(time.Minute), overdraft.Timestamp)
	assert.Equal(t, int64(300), sim.Position().Quantity, "state untouched")
}

func TestSimulator_FillPriceRoundsToTick(t *testing.T) {
	sim := NewSimulator(testConfig(), ZeroFees{}, time.UTC, zap.NewNop())
	fill, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 100}, closeAt(t0, "112.006"))
	require.NoError(t, err)
	assert.True(t, d("112.01").Equal(fill.Trade.Price))
}

func TestSimulator_RequestedQuantityRoundsDownToLots(t *testing.T) {
	sim := NewSimulator(testConfig(), ZeroFees{}, time.UTC, zap.NewNop())

	fill, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 99}, closeAt(t0, "10"))
	require.NoError(t, err)
	assert.Equal(t, models.Hold, fill.Decision)

	fill, err = sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 250}, closeAt(t0, "10"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), fill.Trade.Quantity)
}

func TestSimulator_MarkToMarketIdentity(t *testing.T) {
	sim := NewSimulator(testConfig(), fixedFee{d("3.5")}, time.UTC, zap.NewNop())

	fp := sim.MarkToMarket(closeAt(t0, "100"))
	assert.True(t, d("500000").Equal(fp.DynamicBalance))
	assert.Equal(t, "20240102", fp.Date)

	_, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 1000}, closeAt(t0, "100"))
	require.NoError(t, err)

	for i, c := range []string{"100", "103.27", "97.5"} {
		fp = sim.MarkToMarket(closeAt(t0.Add(time.Duration(i)*time.Minute), c))
		want := fp.Cash.Add(d(c).Mul(decimal.NewFromInt(fp.Position)))
		assert.True(t, want.Equal(fp.DynamicBalance), "row %d", i)
	}
	assert.True(t, sim.MaxExposure().GreaterThan(d("0.2")))
}

func TestSimulator_RestoreKeepsPeakExposure(t *testing.T) {
	sim := NewSimulator(testConfig(), ZeroFees{}, time.UTC, zap.NewNop())
	pos := models.PositionState{Quantity: 1000, AvgEntryPrice: d("100"), EntryTime: t0}
	acct := models.AccountState{Cash: d("400000"), DynamicBalance: d("500000")}
	require.NoError(t, sim.Restore(pos, acct, d("0.9")))

	fp := sim.MarkToMarket(closeAt(t0.Add(time.Minute), "100"))
	assert.True(t, d("500000").Equal(fp.DynamicBalance))
	assert.Equal(t, int64(1000), sim.Position().Quantity)
	assert.True(t, d("0.9").Equal(sim.MaxExposure()), "a lower exposure does not replace the restored peak")

	assert.Error(t, sim.Restore(models.PositionState{Quantity: -1}, acct, decimal.Zero))
}

func TestSimulator_HoldDoesNothing(t *testing.T) {
	sim := NewSimulator(testConfig(), fixedFee{d("1")}, time.UTC, zap.NewNop())
	fill, err := sim.Apply(models.Signal{Decision: models.Hold}, closeAt(t0, "100"))
	require.NoError(t, err)
	assert.Equal(t, models.Hold, fill.Decision)
	assert.Nil(t, fill.Trade)
	assert.True(t, d("500000").Equal(sim.Account().Cash))
}

func TestSimulator_ClosedIDIsDeterministic(t *testing.T) {
	run := func() string {
		sim := NewSimulator(testConfig(), ZeroFees{}, time.UTC, zap.NewNop())
		_, err := sim.Apply(models.Signal{Decision: models.EnterLong, Quantity: 100}, closeAt(t0, "10"))
		require.NoError(t, err)
		fill, err := sim.Apply(models.Signal{Decision: models.ExitLong, Quantity: 100}, closeAt(t0.Add(time.Hour), "11"))
		require.NoError(t, err)
		return fill.Closed.ID
	}
	assert.Equal(t, run(), run())
}

func TestRateSchedule(t *testing.T) {
	fees := NewRateSchedule(models.FeeConfig{
		CommissionRate: d("0.0003"),
		MinCommission:  d("3"),
		StampDutyRate:  d("0.001"),
		LevyRate:       d("0.000027"),
		TradingFeeRate: d("0.0000565"),
	})

	// notional 112000: commission 33.6, stamp 112, levy 3.024, trading 6.328
	assert.True(t, d("154.95").Equal(fees.Fee(models.Buy, d("112"), 1000)), "got %s", fees.Fee(models.Buy, d("112"), 1000))

	// notional 1050: commission floored at 3, stamp 1.05 rounds up to 2
	got := fees.Fee(models.Sell, d("10.5"), 100)
	assert.True(t, d("5.09").Equal(got), "got %s", got)

	assert.True(t, fees.Fee(models.Buy, d("10"), 0).IsZero())
}

func TestRoundToTick(t *testing.T) {
	assert.True(t, d("10.05").Equal(RoundToTick(d("10.049"), d("0.05"))))
	assert.True(t, d("10.00").Equal(RoundToTick(d("10.02"), d("0.05"))))
	assert.True(t, d("7.123").Equal(RoundToTick(d("7.123"), decimal.Zero)))
}
