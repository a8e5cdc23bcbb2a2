package output

import (
	"dualthrust-bt-go/internal/backtest"
	"dualthrust-bt-go/internal/models"
	"dualthrust-bt-go/internal/reporter"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	FundsFile   = "funds.csv"
	TradesFile  = "trades.csv"
	ClosesFile  = "closes.csv"
	SignalsFile = "signals.csv"
	SummaryFile = "summary.json"
)

// WriteAll writes every artifact of res into dir, creating it if needed.
// Identical results produce byte-identical files.
func WriteAll(dir string, res *backtest.Result, metrics *reporter.Metrics) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	writers := []struct {
		name string
		fn   func(string) error
	}{
		{FundsFile, func(p string) error { return WriteFunds(p, res.Funds) }},
		{TradesFile, func(p string) error { return WriteTrades(p, res.Trades) }},
		{ClosesFile, func(p string) error { return WriteCloses(p, res.Closes) }},
		{SignalsFile, func(p string) error { return WriteSignals(p, res.Signals) }},
		{SummaryFile, func(p string) error { return WriteSummary(p, metrics) }},
	}
	for _, w := range writers {
		if err := w.fn(filepath.Join(dir, w.name)); err != nil {
			return fmt.Errorf("write %s: %w", w.name, err)
		}
	}
	return nil
}

// WriteFunds writes one row per evaluated bar.
func WriteFunds(path string, rows []models.FundsPoint) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Date,
			ts(r.Timestamp),
			r.Close.String(),
			itoa(r.Position),
			r.Cash.String(),
			r.DynamicBalance.String(),
			r.RealizedPnL.String(),
			r.Fees.String(),
		})
	}
	return writeCSV(path, []string{"date", "time", "close", "position", "cash", "dynamic_balance", "realized_pnl", "fees"}, records)
}

// WriteTrades writes one row per fill.
func WriteTrades(path string, rows []models.TradeRecord) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			ts(r.Timestamp),
			string(r.Side),
			r.Price.String(),
			itoa(r.Quantity),
			r.Fee.String(),
			r.CashAfter.String(),
			r.RealizedPnL.String(),
		})
	}
	return writeCSV(path, []string{"time", "side", "price", "quantity", "fee", "cash_after", "realized_pnl"}, records)
}

// WriteCloses writes one row per round trip.
func WriteCloses(path string, rows []models.ClosedPosition) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.ID,
			ts(r.EntryTime),
			ts(r.ExitTime),
			r.EntryPrice.String(),
			r.ExitPrice.String(),
			itoa(r.Quantity),
			r.Fees.String(),
			r.PnL.String(),
			strconv.FormatInt(int64(r.HoldDuration/time.Second), 10),
			string(r.ExitSide),
		})
	}
	return writeCSV(path, []string{"id", "entry_time", "exit_time", "entry_price", "exit_price", "quantity", "fees", "pnl", "hold_seconds", "exit_side"}, records)
}

// WriteSignals writes one row per evaluated bar, holds included.
func WriteSignals(path string, rows []models.SignalRecord) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		upper, lower, trend := "", "", ""
		if r.Channel.Ready {
			upper = r.Channel.UpperBand.String()
			lower = r.Channel.LowerBand.String()
			trend = r.Channel.TrendFilter.String()
		}
		records = append(records, []string{
			ts(r.Timestamp),
			r.Close.String(),
			upper,
			lower,
			trend,
			string(r.Requested),
			string(r.Decision),
			itoa(r.PositionBefore),
			itoa(r.PositionAfter),
			r.Note,
		})
	}
	return writeCSV(path, []string{"time", "close", "upper_band", "lower_band", "trend_filter", "requested", "decision", "position_before", "position_after", "note"}, records)
}

// WriteSummary writes the run summary as indented JSON.
func WriteSummary(path string, metrics *reporter.Metrics) error {
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func itoa(x int64) string { return strconv.FormatInt(x, 10) }
