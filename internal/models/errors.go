package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientHistory is returned by the channel calculator while the trailing window is short.
// The driver treats it as a HOLD, never as a failure.
var ErrInsufficientHistory = errors.New("insufficient history")

// ErrAborted is returned when the run context is cancelled between bars.
var ErrAborted = errors.New("backtest aborted")

// ConfigError rejects a configuration before any bar is processed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// BarTimingError marks a bar outside every trading session. The bar is skipped.
type BarTimingError struct {
	Timestamp time.Time
}

func (e *BarTimingError) Error() string {
	return fmt.Sprintf("bar at %s is outside trading sessions", e.Timestamp.Format(time.RFC3339))
}

// OverdraftError is an invariant violation: a sell larger than the held quantity.
type OverdraftError struct {
	Timestamp time.Time
	Requested int64
	Held      int64
}

func (e *OverdraftError) Error() string {
	return fmt.Sprintf("overdraft at %s: sell %d exceeds held %d",
		e.Timestamp.Format(time.RFC3339), e.Requested, e.Held)
}

// FeedGapError reports a duplicate or out-of-order timestamp in the bar feed.
type FeedGapError struct {
	Previous time.Time
	Current  time.Time
}

func (e *FeedGapError) Error() string {
	return fmt.Sprintf("feed not strictly increasing: %s follows %s",
		e.Current.Format(time.RFC3339), e.Previous.Format(time.RFC3339))
}
