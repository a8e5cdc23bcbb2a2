// Package sweep runs one isolated backtest per (k1, k2) pair of a parameter grid.
package sweep

import (
	"context"
	"dualthrust-bt-go/internal/backtest"
	"dualthrust-bt-go/internal/calendar"
	"dualthrust-bt-go/internal/models"
	"dualthrust-bt-go/internal/reporter"
	"fmt"
	"io"
	"runtime"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Grid is the set of band multipliers to explore.
type Grid struct {
	K1 []decimal.Decimal
	K2 []decimal.Decimal
}

// GridFrom reads the grid from cfg.Sweep, falling back to the configured k1/k2.
func GridFrom(cfg *models.Config) Grid {
	g := Grid{K1: cfg.Sweep.K1, K2: cfg.Sweep.K2}
	if len(g.K1) == 0 {
		g.K1 = []decimal.Decimal{cfg.K1}
	}
	if len(g.K2) == 0 {
		g.K2 = []decimal.Decimal{cfg.K2}
	}
	return g
}

// Outcome is the result of one grid point.
type Outcome struct {
	K1      decimal.Decimal
	K2      decimal.Decimal
	RunID   string
	Metrics *reporter.Metrics
	Result  *backtest.Result
}

// Run backtests every grid point over the same bars. Each run gets its own config copy,
// driver and account; bars and cal are only read. Outcomes are ordered by k1, then k2.
// The first failing run cancels the rest.
func Run(ctx context.Context, base *models.Config, grid Grid, bars []models.Bar, cal calendar.Calendar,
	parallelism int, logger *zap.Logger) ([]Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	k1s := sortedUnique(grid.K1)
	k2s := sortedUnique(grid.K2)
	if len(k1s) == 0 || len(k2s) == 0 {
		return nil, &models.ConfigError{Field: "sweep", Reason: "grid is empty"}
	}

	outcomes := make([]Outcome, len(k1s)*len(k2s))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, k1 := range k1s {
		for j, k2 := range k2s {
			slot := i*len(k2s) + j
			g.Go(func() error {
				cfg := *base
				cfg.K1, cfg.K2 = k1, k2
				cfg.Sweep = models.SweepConfig{}

				driver := backtest.NewDriver(&cfg, cal, logger.With(
					zap.String("k1", k1.String()),
					zap.String("k2", k2.String())))
				res, err := driver.Run(gctx, bars)
				if err != nil {
					return fmt.Errorf("sweep k1=%s k2=%s: %w", k1, k2, err)
				}
				outcomes[slot] = Outcome{
					K1:      k1,
					K2:      k2,
					RunID:   res.RunID,
					Metrics: reporter.Summarize(res),
					Result:  res,
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Best picks the outcome with the highest return, breaking ties by the smaller drawdown
// and then by grid order.
func Best(outcomes []Outcome) (Outcome, bool) {
	if len(outcomes) == 0 {
		return Outcome{}, false
	}
	best := outcomes[0]
	for _, o := range outcomes[1:] {
		switch o.Metrics.ReturnPct.Cmp(best.Metrics.ReturnPct) {
		case 1:
			best = o
		case 0:
			if o.Metrics.MaxDrawdownPct.LessThan(best.Metrics.MaxDrawdownPct) {
				best = o
			}
		}
	}
	return best, true
}

// Render prints one row per grid point.
func Render(w io.Writer, outcomes []Outcome) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Parameter sweep")
	t.AppendHeader(table.Row{"k1", "k2", "Run", "Return", "Max DD", "Round trips", "Win rate", "Stop-outs", "Final balance"})
	for _, o := range outcomes {
		m := o.Metrics
		t.AppendRow(table.Row{
			o.K1.String(),
			o.K2.String(),
			o.RunID,
			m.ReturnPct.StringFixed(2) + "%",
			m.MaxDrawdownPct.StringFixed(2) + "%",
			m.RoundTrips,
			m.WinRatePct.StringFixed(2) + "%",
			m.StopOuts,
			m.FinalBalance.StringFixed(2),
		})
	}
	t.Render()
}

func sortedUnique(values []decimal.Decimal) []decimal.Decimal {
	out := slices.Clone(values)
	slices.SortFunc(out, func(a, b decimal.Decimal) int { return a.Cmp(b) })
	return slices.CompactFunc(out, func(a, b decimal.Decimal) bool { return a.Equal(b) })
}
