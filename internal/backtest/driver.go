package backtest

import (
	"context"
	"dualthrust-bt-go/internal/calendar"
	"dualthrust-bt-go/internal/channel"
	"dualthrust-bt-go/internal/exchange"
	"dualthrust-bt-go/internal/models"
	"dualthrust-bt-go/internal/strategy"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checkpointer receives periodic run snapshots. statemanager.StateManager implements it.
type Checkpointer interface {
	Checkpoint(snapshot *models.RunSnapshot)
}

// Driver replays a bar sequence through the channel, strategy and simulator.
// A Driver can run many times; each Run starts from a fresh account.
type Driver struct {
	cfg          *models.Config
	runID        string
	cal          calendar.Calendar
	calc         *channel.Calculator
	strategy     *strategy.DualThrust
	fees         exchange.FeeSchedule
	checkpointer Checkpointer
	resume       *models.RunSnapshot
	logger       *zap.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithCheckpointer sends a snapshot every cfg.CheckpointEvery evaluated bars and at the end of the run.
func WithCheckpointer(c Checkpointer) Option {
	return func(d *Driver) { d.checkpointer = c }
}

// WithFees overrides the fee schedule built from cfg.Fees.
func WithFees(f exchange.FeeSchedule) Option {
	return func(d *Driver) { d.fees = f }
}

// WithResume continues from snapshot: bars up to its LastBarTime only feed history,
// the account starts from the saved position and cash, and the saved streams are
// carried over so the result covers the whole run.
func WithResume(snapshot *models.RunSnapshot) Option {
	return func(d *Driver) { d.resume = snapshot }
}

// NewDriver wires a driver for a validated cfg.
func NewDriver(cfg *models.Config, cal calendar.Calendar, logger *zap.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cfg:      cfg,
		runID:    RunID(cfg),
		cal:      cal,
		calc:     channel.NewCalculator(cfg.LookbackBars, cfg.TrendWindow, cfg.K1, cfg.K2),
		strategy: strategy.NewDualThrust(cfg),
		fees:     exchange.NewRateSchedule(cfg.Fees),
		logger:   logger.With(zap.String("instrument", cfg.Instrument)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunID returns the identifier of the configured run.
func (d *Driver) RunID() string { return d.runID }

// runState is everything one Run mutates.
type runState struct {
	res            *Result
	sim            *exchange.Simulator
	history        []models.Bar
	lastBar        time.Time
	lastDecision   models.Decision
	lastEntryPrice decimal.Decimal
}

// Run replays bars in order. Recoverable conditions are logged and skipped. Fatal ones
// (feed disorder, overdraft, cancellation) stop the replay and return the error with
// the partial result.
func (d *Driver) Run(ctx context.Context, bars []models.Bar) (*Result, error) {
	st := &runState{
		res: &Result{
			RunID:          d.runID,
			Instrument:     d.cfg.Instrument,
			InitialCapital: d.cfg.InitialCapital,
			Funds:          make([]models.FundsPoint, 0, len(bars)),
			Signals:        make([]models.SignalRecord, 0, len(bars)),
		},
		sim:          exchange.NewSimulator(d.cfg, d.fees, d.cal.Location(), d.logger),
		lastDecision: models.Hold,
	}
	if d.resume != nil {
		saved := d.resume.Streams
		if err := st.sim.Restore(d.resume.Position, d.resume.Account, saved.MaxExposure); err != nil {
			return st.res, err
		}
		st.lastEntryPrice = d.resume.LastEntryPrice
		st.lastDecision = d.resume.LastDecision
		st.res.BarsProcessed = d.resume.BarsProcessed
		st.res.WarmupBars = saved.WarmupBars
		st.res.SkippedBars = saved.SkippedBars
		st.res.Funds = append(st.res.Funds, saved.Funds...)
		st.res.Trades = append(st.res.Trades, saved.Trades...)
		st.res.Closes = append(st.res.Closes, saved.Closes...)
		st.res.Signals = append(st.res.Signals, saved.Signals...)
	}

	d.logger.Info("Backtest started",
		zap.String("runId", d.runID),
		zap.Int("bars", len(bars)),
		zap.Int("lookback", d.cfg.LookbackBars),
		zap.Int("trendWindow", d.cfg.TrendWindow),
		zap.String("k1", d.cfg.K1.String()),
		zap.String("k2", d.cfg.K2.String()))

	var prev time.Time
	for i, bar := range bars {
		select {
		case <-ctx.Done():
			st.res.Aborted = true
			d.finish(st, false)
			d.logger.Warn("Backtest aborted", zap.Int("atBar", i), zap.Error(ctx.Err()))
			return st.res, fmt.Errorf("%w: %v", models.ErrAborted, ctx.Err())
		default:
		}

		if i > 0 && !bar.Timestamp.After(prev) {
			d.finish(st, false)
			return st.res, &models.FeedGapError{Previous: prev, Current: bar.Timestamp}
		}
		prev = bar.Timestamp

		if !d.cfg.EndTime.IsZero() && bar.Timestamp.After(d.cfg.EndTime) {
			break
		}

		// Already counted in the resumed snapshot.
		if d.replayed(bar) {
			if d.cal.IsTradable(bar.Timestamp) {
				d.pushHistory(st, bar)
			}
			continue
		}

		if !d.cal.IsTradable(bar.Timestamp) {
			err := &models.BarTimingError{Timestamp: bar.Timestamp}
			d.logger.Warn("Skipping bar", zap.Error(err))
			st.res.SkippedBars++
			continue
		}

		if d.isWarmup(bar) {
			st.res.WarmupBars++
			d.pushHistory(st, bar)
			continue
		}

		if err := d.step(st, bar); err != nil {
			d.finish(st, false)
			d.logger.Error("Backtest failed", zap.Time("bar", bar.Timestamp), zap.Error(err))
			return st.res, err
		}

		if d.checkpointer != nil && d.cfg.CheckpointEvery > 0 && st.res.BarsProcessed%d.cfg.CheckpointEvery == 0 {
			d.checkpointer.Checkpoint(d.snapshot(st, false))
		}
	}

	d.finish(st, true)
	d.logger.Info("Backtest finished",
		zap.Int("evaluated", st.res.BarsProcessed),
		zap.Int("warmup", st.res.WarmupBars),
		zap.Int("skipped", st.res.SkippedBars),
		zap.Int("trades", len(st.res.Trades)),
		zap.String("dynamicBalance", st.res.FinalAccount.DynamicBalance.String()))
	return st.res, nil
}

func (d *Driver) isWarmup(bar models.Bar) bool {
	return !d.cfg.StartTime.IsZero() && bar.Timestamp.Before(d.cfg.StartTime)
}

func (d *Driver) replayed(bar models.Bar) bool {
	return d.resume != nil && !bar.Timestamp.After(d.resume.LastBarTime)
}

// step evaluates one tradable bar: channel, decision, fill, mark-to-market, records.
func (d *Driver) step(st *runState, bar models.Bar) error {
	before := st.sim.Position()

	state, err := d.calc.ForBar(st.history, bar)
	if err != nil && !errors.Is(err, models.ErrInsufficientHistory) {
		return err
	}

	sig := d.strategy.Evaluate(strategy.Input{
		Bar:      bar,
		Channel:  state,
		Position: before,
		Cash:     st.sim.Account().Cash,
	})

	fill, err := st.sim.Apply(sig, bar)
	if err != nil {
		return err
	}
	funds := st.sim.MarkToMarket(bar)
	after := st.sim.Position()

	note := fill.Note
	if note == "" {
		note = sig.Reason
	}
	st.res.Signals = append(st.res.Signals, models.SignalRecord{
		Timestamp:      bar.Timestamp,
		Close:          bar.Close,
		Channel:        state,
		Requested:      sig.Decision,
		Decision:       fill.Decision,
		PositionBefore: before.Quantity,
		PositionAfter:  after.Quantity,
		Note:           note,
	})
	if fill.Trade != nil {
		st.res.Trades = append(st.res.Trades, *fill.Trade)
		if fill.Trade.Side == models.Buy {
			st.lastEntryPrice = fill.Trade.Price
		}
	}
	if fill.Closed != nil {
		st.res.Closes = append(st.res.Closes, *fill.Closed)
	}
	st.res.Funds = append(st.res.Funds, funds)

	if fill.Decision != models.Hold {
		st.lastDecision = fill.Decision
	}
	st.res.BarsProcessed++
	st.lastBar = bar.Timestamp
	d.pushHistory(st, bar)

	d.logger.Debug("Bar evaluated",
		zap.Time("bar", bar.Timestamp),
		zap.String("close", bar.Close.String()),
		zap.Bool("ready", state.Ready),
		zap.String("upper", state.UpperBand.String()),
		zap.String("lower", state.LowerBand.String()),
		zap.String("trend", state.TrendFilter.String()),
		zap.String("decision", string(fill.Decision)),
		zap.Int64("position", after.Quantity))
	return nil
}

// pushHistory appends bar and keeps only the bars the calculator can still use.
func (d *Driver) pushHistory(st *runState, bar models.Bar) {
	st.history = append(st.history, bar)
	keep := d.calc.RequiredHistory()
	if keep < 1 {
		keep = 1
	}
	if len(st.history) > 2*keep+16 {
		st.history = append(st.history[:0:0], st.history[len(st.history)-keep:]...)
	}
}

func (d *Driver) finish(st *runState, completed bool) {
	st.res.FinalPosition = st.sim.Position()
	st.res.FinalAccount = st.sim.Account()
	st.res.MaxExposure = st.sim.MaxExposure()
	st.res.Snapshot = d.snapshot(st, completed)
	if d.checkpointer != nil {
		d.checkpointer.Checkpoint(st.res.Snapshot)
	}
}

func (d *Driver) snapshot(st *runState, completed bool) *models.RunSnapshot {
	lastBar := st.lastBar
	if lastBar.IsZero() && d.resume != nil {
		lastBar = d.resume.LastBarTime
	}
	return &models.RunSnapshot{
		RunID:          d.runID,
		Instrument:     d.cfg.Instrument,
		Version:        models.SnapshotVersion,
		BarsProcessed:  st.res.BarsProcessed,
		LastBarTime:    lastBar,
		LastDecision:   st.lastDecision,
		LastEntryPrice: st.lastEntryPrice,
		Position:       st.sim.Position(),
		Account:        st.sim.Account(),
		Completed:      completed,
		// Rows are append-only, so the snapshot can share them up to its length.
		Streams: models.RunStreams{
			Funds:       slices.Clip(st.res.Funds),
			Trades:      slices.Clip(st.res.Trades),
			Closes:      slices.Clip(st.res.Closes),
			Signals:     slices.Clip(st.res.Signals),
			WarmupBars:  st.res.WarmupBars,
			SkippedBars: st.res.SkippedBars,
			MaxExposure: st.sim.MaxExposure(),
		},
	}
}
