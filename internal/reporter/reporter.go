package reporter

import (
	"dualthrust-bt-go/internal/backtest"
	"dualthrust-bt-go/internal/models"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Metrics 存储计算出的所有回测性能指标
type Metrics struct {
	RunID            string          `json:"run_id"`
	Instrument       string          `json:"instrument"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	FinalBalance     decimal.Decimal `json:"final_balance"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	ReturnPct        decimal.Decimal `json:"return_pct"`
	MaxDrawdownPct   decimal.Decimal `json:"max_drawdown_pct"`
	TotalTrades      int             `json:"total_trades"` // fills
	RoundTrips       int             `json:"round_trips"`
	WinningTrades    int             `json:"winning_trades"`
	LosingTrades     int             `json:"losing_trades"`
	WinRatePct       decimal.Decimal `json:"win_rate_pct"`
	ProfitFactor     decimal.Decimal `json:"profit_factor"`
	AvgProfitLoss    decimal.Decimal `json:"avg_profit_loss"` // average win / average loss
	AvgPnL           decimal.Decimal `json:"avg_pnl"`
	StopOuts         int             `json:"stop_outs"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	EndingCash       decimal.Decimal `json:"ending_cash"`
	EndingAssetValue decimal.Decimal `json:"ending_asset_value"`
	EndingPosition   int64           `json:"ending_position"`
	MaxExposurePct   decimal.Decimal `json:"max_exposure_pct"`
	BarsProcessed    int             `json:"bars_processed"`
	SkippedBars      int             `json:"skipped_bars"`
	Aborted          bool            `json:"aborted"`
}

// Summarize computes the run summary from the output streams of res.
func Summarize(res *backtest.Result) *Metrics {
	m := &Metrics{
		RunID:          res.RunID,
		Instrument:     res.Instrument,
		InitialBalance: res.InitialCapital,
		FinalBalance:   res.InitialCapital,
		TotalTrades:    len(res.Trades),
		RoundTrips:     len(res.Closes),
		TotalFees:      res.FinalAccount.TotalFees,
		RealizedPnL:    res.FinalAccount.RealizedPnL,
		EndingCash:     res.FinalAccount.Cash,
		EndingPosition: res.FinalPosition.Quantity,
		MaxExposurePct: res.MaxExposure.Mul(hundred).Round(4),
		BarsProcessed:  res.BarsProcessed,
		SkippedBars:    res.SkippedBars,
		Aborted:        res.Aborted,
	}

	if n := len(res.Funds); n > 0 {
		first, last := res.Funds[0], res.Funds[n-1]
		m.StartTime = first.Timestamp
		m.EndTime = last.Timestamp
		m.FinalBalance = last.DynamicBalance
		m.EndingAssetValue = last.Close.Mul(decimal.NewFromInt(last.Position))
	} else {
		m.EndingCash = res.InitialCapital
	}

	m.TotalProfit = m.FinalBalance.Sub(m.InitialBalance)
	if m.InitialBalance.IsPositive() {
		m.ReturnPct = m.TotalProfit.Div(m.InitialBalance).Mul(hundred).Round(4)
	}
	m.MaxDrawdownPct = calculateMaxDrawdown(res.InitialCapital, res.Funds).Mul(hundred).Round(4)

	totalWin, totalLoss, net := decimal.Zero, decimal.Zero, decimal.Zero
	for _, c := range res.Closes {
		net = net.Add(c.PnL)
		if c.PnL.IsPositive() {
			m.WinningTrades++
			totalWin = totalWin.Add(c.PnL)
		} else {
			m.LosingTrades++
			totalLoss = totalLoss.Add(c.PnL.Abs())
		}
		if c.ExitSide == models.Stop {
			m.StopOuts++
		}
	}
	if m.RoundTrips > 0 {
		rt := decimal.NewFromInt(int64(m.RoundTrips))
		m.WinRatePct = decimal.NewFromInt(int64(m.WinningTrades)).Div(rt).Mul(hundred).Round(4)
		m.AvgPnL = net.Div(rt).Round(4)
	}
	if totalLoss.IsPositive() {
		m.ProfitFactor = totalWin.Div(totalLoss).Round(4)
	}
	if m.WinningTrades > 0 && m.LosingTrades > 0 {
		avgWin := totalWin.Div(decimal.NewFromInt(int64(m.WinningTrades)))
		avgLoss := totalLoss.Div(decimal.NewFromInt(int64(m.LosingTrades)))
		m.AvgProfitLoss = avgWin.Div(avgLoss).Round(4)
	}
	return m
}

// calculateMaxDrawdown returns the largest peak-to-trough fall of the dynamic balance as a fraction.
func calculateMaxDrawdown(initial decimal.Decimal, funds []models.FundsPoint) decimal.Decimal {
	peak := initial
	maxDrawdown := decimal.Zero
	for _, fp := range funds {
		equity := fp.DynamicBalance
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if !peak.IsPositive() {
			continue
		}
		drawdown := peak.Sub(equity).Div(peak)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// Render 以表格形式打印回测结果报告
func Render(w io.Writer, m *Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Backtest %s (%s)", m.Instrument, m.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Period", fmt.Sprintf("%s to %s", fmtTime(m.StartTime), fmtTime(m.EndTime))},
		{"Bars evaluated", m.BarsProcessed},
		{"Bars skipped", m.SkippedBars},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Initial balance", m.InitialBalance.StringFixed(2)},
		{"Final balance", m.FinalBalance.StringFixed(2)},
		{"Total profit", m.TotalProfit.StringFixed(2)},
		{"Return", m.ReturnPct.StringFixed(2) + "%"},
		{"Max drawdown", m.MaxDrawdownPct.StringFixed(2) + "%"},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Fills", m.TotalTrades},
		{"Round trips", m.RoundTrips},
		{"Winning / losing", fmt.Sprintf("%d / %d", m.WinningTrades, m.LosingTrades)},
		{"Win rate", m.WinRatePct.StringFixed(2) + "%"},
		{"Profit factor", m.ProfitFactor.StringFixed(2)},
		{"Avg win / avg loss", m.AvgProfitLoss.StringFixed(2)},
		{"Avg round-trip P&L", m.AvgPnL.StringFixed(2)},
		{"Stop-outs", m.StopOuts},
		{"Total fees", m.TotalFees.StringFixed(2)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Ending cash", m.EndingCash.StringFixed(2)},
		{"Ending position", fmt.Sprintf("%d (%s)", m.EndingPosition, m.EndingAssetValue.StringFixed(2))},
		{"Max exposure", m.MaxExposurePct.StringFixed(2) + "%"},
	})
	if m.Aborted {
		t.SetCaption("run aborted: figures cover the bars processed before the abort")
	}
	t.Render()
}

// RenderCloses prints the round-trip log.
func RenderCloses(w io.Writer, closes []models.ClosedPosition) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Entry", "Exit", "Qty", "Entry Px", "Exit Px", "Fees", "P&L", "Held", "Exit"})
	total := decimal.Zero
	for i, c := range closes {
		total = total.Add(c.PnL)
		t.AppendRow(table.Row{
			i + 1,
			fmtTime(c.EntryTime),
			fmtTime(c.ExitTime),
			c.Quantity,
			c.EntryPrice.StringFixed(2),
			c.ExitPrice.StringFixed(2),
			c.Fees.StringFixed(2),
			c.PnL.StringFixed(2),
			c.HoldDuration.String(),
			string(c.ExitSide),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", total.StringFixed(2), "", ""})
	t.Render()
}

// LogReport writes the summary through the structured logger.
func LogReport(logger *zap.SugaredLogger, m *Metrics) {
	logger.Infow("========== 回测结果报告 ==========",
		"runId", m.RunID,
		"instrument", m.Instrument,
		"start", fmtTime(m.StartTime),
		"end", fmtTime(m.EndTime))
	logger.Infow("Balance",
		"initial", m.InitialBalance.StringFixed(2),
		"final", m.FinalBalance.StringFixed(2),
		"profit", m.TotalProfit.StringFixed(2),
		"returnPct", m.ReturnPct.StringFixed(2),
		"maxDrawdownPct", m.MaxDrawdownPct.StringFixed(2))
	logger.Infow("Trades",
		"fills", m.TotalTrades,
		"roundTrips", m.RoundTrips,
		"winRatePct", m.WinRatePct.StringFixed(2),
		"profitFactor", m.ProfitFactor.StringFixed(2),
		"stopOuts", m.StopOuts,
		"fees", m.TotalFees.StringFixed(2))
	logger.Infow("--- 期末资产分析 ---",
		"cash", m.EndingCash.StringFixed(2),
		"position", m.EndingPosition,
		"positionValue", m.EndingAssetValue.StringFixed(2))
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
