package reporter

import (
	"bytes"
	"dualthrust-bt-go/internal/backtest"
	"dualthrust-bt-go/internal/models"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleResult() *backtest.Result {
	t0 := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	point := func(i int, bal string) models.FundsPoint {
		return models.FundsPoint{Timestamp: t0.Add(time.Duration(i) * time.Minute), Close: d("100"), DynamicBalance: d(bal), Cash: d(bal)}
	}
	return &backtest.Result{
		RunID:          "r1",
		Instrument:     "HK.00700",
		InitialCapital: d("1000"),
		Funds: []models.FundsPoint{
			point(0, "1000"),
			point(1, "1200"), // peak
			point(2, "900"),  // 25% below peak
			point(3, "1100"),
		},
		Trades: make([]models.TradeRecord, 6),
		Closes: []models.ClosedPosition{
			{PnL: d("300"), ExitSide: models.Sell},
			{PnL: d("-100"), ExitSide: models.Stop},
			{PnL: d("-100"), ExitSide: models.Sell},
		},
		FinalAccount: models.AccountState{Cash: d("1100"), TotalFees: d("12.5"), RealizedPnL: d("100")},
		MaxExposure:  d("0.8"),
	}
}

func TestSummarize(t *testing.T) {
	m := Summarize(sampleResult())

	assert.True(t, d("1100").Equal(m.FinalBalance))
	assert.True(t, d("100").Equal(m.TotalProfit))
	assert.True(t, d("10").Equal(m.ReturnPct), "return=%s", m.ReturnPct)
	assert.True(t, d("25").Equal(m.MaxDrawdownPct), "dd=%s", m.MaxDrawdownPct)
	assert.Equal(t, 6, m.TotalTrades)
	assert.Equal(t, 3, m.RoundTrips)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.Equal(t, 1, m.StopOuts)
	assert.True(t, d("33.3333").Equal(m.WinRatePct), "win=%s", m.WinRatePct)
	assert.True(t, d("1.5").Equal(m.ProfitFactor))
	assert.True(t, d("3").Equal(m.AvgProfitLoss))
	assert.True(t, d("33.3333").Equal(m.AvgPnL))
	assert.True(t, d("80").Equal(m.MaxExposurePct))
}

func TestSummarize_EmptyRun(t *testing.T) {
	m := Summarize(&backtest.Result{InitialCapital: d("500000")})
	assert.True(t, m.TotalProfit.IsZero())
	assert.True(t, m.MaxDrawdownPct.IsZero())
	assert.True(t, m.WinRatePct.IsZero())
	assert.True(t, d("500000").Equal(m.EndingCash))
}

func TestCalculateMaxDrawdown_FromInitialCapital(t *testing.T) {
	funds := []models.FundsPoint{{DynamicBalance: d("800")}, {DynamicBalance: d("900")}}
	assert.True(t, d("0.2").Equal(calculateMaxDrawdown(d("1000"), funds)))
}

func TestRender(t *testing.T) {
	res := sampleResult()
	m := Summarize(res)

	var buf bytes.Buffer
	Render(&buf, m)
	out := buf.String()
	assert.Contains(t, out, "HK.00700")
	assert.Contains(t, out, "Max drawdown")
	assert.Contains(t, out, "25.00%")

	buf.Reset()
	RenderCloses(&buf, res.Closes)
	assert.Contains(t, buf.String(), "STOP")
	assert.Contains(t, buf.String(), "100.00")
}

func TestLogReport(t *testing.T) {
	require.NotPanics(t, func() { LogReport(zap.NewNop().Sugar(), Summarize(sampleResult())) })
}
