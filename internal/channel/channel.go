package channel

import (
	"dualthrust-bt-go/internal/models"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Calculator derives the DualThrust breakout channel from a trailing window of bars.
// It holds no state between calls.
type Calculator struct {
	lookback    int
	trendWindow int
	k1          decimal.Decimal
	k2          decimal.Decimal
}

// NewCalculator returns a calculator using lookback prior bars for the range
// and trendWindow closes for the moving-average filter.
func NewCalculator(lookback, trendWindow int, k1, k2 decimal.Decimal) *Calculator {
	return &Calculator{lookback: lookback, trendWindow: trendWindow, k1: k1, k2: k2}
}

// RequiredHistory is the number of prior bars needed before a channel can be computed.
// The trend filter includes the current close, so it needs one bar less than its window.
func (c *Calculator) RequiredHistory() int {
	if c.trendWindow-1 > c.lookback {
		return c.trendWindow - 1
	}
	return c.lookback
}

// ForBar assembles the inputs for current from the prior bars in history and computes its channel.
func (c *Calculator) ForBar(history []models.Bar, current models.Bar) (models.ChannelState, error) {
	if len(history) < c.RequiredHistory() {
		return models.ChannelState{}, models.ErrInsufficientHistory
	}
	window := history[len(history)-c.lookback:]

	trendCloses := make([]decimal.Decimal, 0, c.trendWindow)
	for _, b := range history[len(history)-(c.trendWindow-1):] {
		trendCloses = append(trendCloses, b.Close)
	}
	trendCloses = append(trendCloses, current.Close)

	return c.Compute(window, current.Open, trendCloses)
}

// Compute returns the channel for a bar opening at todayOpen.
// window must hold at least lookback bars and trendCloses at least trendWindow closes;
// only the most recent ones are used.
func (c *Calculator) Compute(window []models.Bar, todayOpen decimal.Decimal, trendCloses []decimal.Decimal) (models.ChannelState, error) {
	if len(window) < c.lookback || len(window) == 0 {
		return models.ChannelState{}, models.ErrInsufficientHistory
	}
	window = window[len(window)-c.lookback:]

	hh, ll, hc, lc := Extremes(window)
	rng := decimal.Max(hh.Sub(lc), hc.Sub(ll))

	trend, err := SMA(trendCloses, c.trendWindow)
	if err != nil {
		return models.ChannelState{}, err
	}

	return models.ChannelState{
		Ready:       true,
		Range:       rng,
		UpperBand:   todayOpen.Add(c.k1.Mul(rng)),
		LowerBand:   todayOpen.Sub(c.k2.Mul(rng)),
		TrendFilter: trend,
	}, nil
}

// Extremes scans window for the highest high, lowest low, highest close and lowest close.
func Extremes(window []models.Bar) (hh, ll, hc, lc decimal.Decimal) {
	if len(window) == 0 {
		return
	}
	hh, ll = window[0].High, window[0].Low
	hc, lc = window[0].Close, window[0].Close
	for _, b := range window[1:] {
		hh = decimal.Max(hh, b.High)
		ll = decimal.Min(ll, b.Low)
		hc = decimal.Max(hc, b.Close)
		lc = decimal.Min(lc, b.Close)
	}
	return hh, ll, hc, lc
}

// SMA computes the simple moving average of the last period values.
func SMA(values []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, errors.New("period must be positive")
	}
	if len(values) < period {
		return decimal.Zero, fmt.Errorf("sma(%d) over %d values: %w", period, len(values), models.ErrInsufficientHistory)
	}
	tail := values[len(values)-period:]
	return decimal.Avg(tail[0], tail[1:]...), nil
}
