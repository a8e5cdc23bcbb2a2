package storage

import (
	"database/sql"
	"dualthrust-bt-go/internal/backtest"
	"dualthrust-bt-go/internal/reporter"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Import the pure-Go sqlite driver
)

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
// Money columns are TEXT so decimal values round-trip exactly.
func createTables(db *sql.DB) error {
	stmts := []string{
		// One row per run; summary_json holds the full metrics.
		`CREATE TABLE IF NOT EXISTS runs (
			run_id           TEXT PRIMARY KEY,
			instrument       TEXT NOT NULL,
			start_time       INTEGER,
			end_time         INTEGER,
			initial_balance  TEXT NOT NULL,
			final_balance    TEXT NOT NULL,
			return_pct       TEXT NOT NULL,
			max_drawdown_pct TEXT NOT NULL,
			win_rate_pct     TEXT NOT NULL,
			total_trades     INTEGER NOT NULL,
			round_trips      INTEGER NOT NULL,
			total_fees       TEXT NOT NULL,
			aborted          BOOLEAN NOT NULL,
			summary_json     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS funds (
			run_id          TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			timestamp       INTEGER NOT NULL,
			date            TEXT NOT NULL,
			close           TEXT NOT NULL,
			position        INTEGER NOT NULL,
			cash            TEXT NOT NULL,
			dynamic_balance TEXT NOT NULL,
			realized_pnl    TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			run_id       TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			timestamp    INTEGER NOT NULL,
			side         TEXT NOT NULL,
			price        TEXT NOT NULL,
			quantity     INTEGER NOT NULL,
			fee          TEXT NOT NULL,
			cash_after   TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS closes (
			run_id       TEXT NOT NULL,
			id           TEXT NOT NULL,
			entry_time   INTEGER NOT NULL,
			exit_time    INTEGER NOT NULL,
			entry_price  TEXT NOT NULL,
			exit_price   TEXT NOT NULL,
			quantity     INTEGER NOT NULL,
			fees         TEXT NOT NULL,
			pnl          TEXT NOT NULL,
			hold_seconds INTEGER NOT NULL,
			exit_side    TEXT NOT NULL,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			run_id          TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			timestamp       INTEGER NOT NULL,
			close           TEXT NOT NULL,
			upper_band      TEXT,
			lower_band      TEXT,
			trend_filter    TEXT,
			requested       TEXT NOT NULL,
			decision        TEXT NOT NULL,
			position_before INTEGER NOT NULL,
			position_after  INTEGER NOT NULL,
			note            TEXT,
			PRIMARY KEY (run_id, seq)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a run and all of its output streams in one transaction.
// Saving the same run ID again replaces the earlier rows.
func SaveRun(db *sql.DB, res *backtest.Result, m *reporter.Metrics) error {
	summary, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for run %s: %w", res.RunID, err)
	}
	defer tx.Rollback() // Rollback on any error

	for _, table := range []string{"runs", "funds", "trades", "closes", "signals"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", res.RunID); err != nil {
			return fmt.Errorf("failed to clear %s for run %s: %w", table, res.RunID, err)
		}
	}

	_, err = tx.Exec(`
	INSERT INTO runs (run_id, instrument, start_time, end_time, initial_balance, final_balance, return_pct,
		max_drawdown_pct, win_rate_pct, total_trades, round_trips, total_fees, aborted, summary_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Instrument, m.StartTime.UnixMilli(), m.EndTime.UnixMilli(),
		m.InitialBalance.String(), m.FinalBalance.String(), m.ReturnPct.String(),
		m.MaxDrawdownPct.String(), m.WinRatePct.String(), m.TotalTrades, m.RoundTrips,
		m.TotalFees.String(), m.Aborted, string(summary),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", res.RunID, err)
	}

	if err := insertFunds(tx, res); err != nil {
		return err
	}
	if err := insertTrades(tx, res); err != nil {
		return err
	}
	if err := insertCloses(tx, res); err != nil {
		return err
	}
	if err := insertSignals(tx, res); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", res.RunID, err)
	}
	return nil
}

func insertFunds(tx *sql.Tx, res *backtest.Result) error {
	stmt, err := tx.Prepare(`INSERT INTO funds (run_id, seq, timestamp, date, close, position, cash, dynamic_balance, realized_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, f := range res.Funds {
		if _, err := stmt.Exec(res.RunID, i, f.Timestamp.UnixMilli(), f.Date, f.Close.String(), f.Position,
			f.Cash.String(), f.DynamicBalance.String(), f.RealizedPnL.String()); err != nil {
			return fmt.Errorf("failed to insert funds row %d: %w", i, err)
		}
	}
	return nil
}

func insertTrades(tx *sql.Tx, res *backtest.Result) error {
	stmt, err := tx.Prepare(`INSERT INTO trades (run_id, seq, timestamp, side, price, quantity, fee, cash_after, realized_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range res.Trades {
		if _, err := stmt.Exec(res.RunID, i, t.Timestamp.UnixMilli(), string(t.Side), t.Price.String(), t.Quantity,
			t.Fee.String(), t.CashAfter.String(), t.RealizedPnL.String()); err != nil {
			return fmt.Errorf("failed to insert trade %d: %w", i, err)
		}
	}
	return nil
}

func insertCloses(tx *sql.Tx, res *backtest.Result) error {
	stmt, err := tx.Prepare(`INSERT INTO closes (run_id, id, entry_time, exit_time, entry_price, exit_price, quantity, fees, pnl, hold_seconds, exit_side)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range res.Closes {
		if _, err := stmt.Exec(res.RunID, c.ID, c.EntryTime.UnixMilli(), c.ExitTime.UnixMilli(), c.EntryPrice.String(),
			c.ExitPrice.String(), c.Quantity, c.Fees.String(), c.PnL.String(), int64(c.HoldDuration.Seconds()),
			string(c.ExitSide)); err != nil {
			return fmt.Errorf("failed to insert closed position %s: %w", c.ID, err)
		}
	}
	return nil
}

func insertSignals(tx *sql.Tx, res *backtest.Result) error {
	stmt, err := tx.Prepare(`INSERT INTO signals (run_id, seq, timestamp, close, upper_band, lower_band, trend_filter,
		requested, decision, position_before, position_after, note)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, s := range res.Signals {
		var upper, lower, trend sql.NullString
		if s.Channel.Ready {
			upper = sql.NullString{String: s.Channel.UpperBand.String(), Valid: true}
			lower = sql.NullString{String: s.Channel.LowerBand.String(), Valid: true}
			trend = sql.NullString{String: s.Channel.TrendFilter.String(), Valid: true}
		}
		if _, err := stmt.Exec(res.RunID, i, s.Timestamp.UnixMilli(), s.Close.String(), upper, lower, trend,
			string(s.Requested), string(s.Decision), s.PositionBefore, s.PositionAfter, s.Note); err != nil {
			return fmt.Errorf("failed to insert signal %d: %w", i, err)
		}
	}
	return nil
}

// LoadRunSummary retrieves the stored metrics of runID.
// It returns (nil, nil) if the run is not found.
func LoadRunSummary(db *sql.DB, runID string) (*reporter.Metrics, error) {
	var raw string
	err := db.QueryRow("SELECT summary_json FROM runs WHERE run_id = ?", runID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found is not an application error.
		}
		return nil, err
	}
	var m reporter.Metrics
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode summary of run %s: %w", runID, err)
	}
	return &m, nil
}

// CountRows returns how many rows of table belong to runID.
func CountRows(db *sql.DB, table, runID string) (int, error) {
	switch table {
	case "funds", "trades", "closes", "signals":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE run_id = ?", runID).Scan(&n)
	return n, err
}
