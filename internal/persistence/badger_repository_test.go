package persistence

import (
	"dualthrust-bt-go/internal/models"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *BadgerRepository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSnapshotRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	var _ StateRepository = repo

	missing, err := repo.LoadSnapshot("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	snap := &models.RunSnapshot{
		RunID:          "run1",
		Instrument:     "HK.00700",
		Version:        models.SnapshotVersion,
		BarsProcessed:  42,
		LastBarTime:    time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC),
		LastDecision:   models.EnterLong,
		LastEntryPrice: decimal.RequireFromString("112"),
		Position:       models.PositionState{Quantity: 1000, AvgEntryPrice: decimal.RequireFromString("112")},
		Account:        models.AccountState{Cash: decimal.RequireFromString("387943.22")},
	}
	require.NoError(t, repo.SaveSnapshot(snap))

	loaded, err := repo.LoadSnapshot("run1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 42, loaded.BarsProcessed)
	assert.Equal(t, int64(1000), loaded.Position.Quantity)
	assert.True(t, snap.Account.Cash.Equal(loaded.Account.Cash))
	assert.True(t, snap.LastBarTime.Equal(loaded.LastBarTime))

	snap.BarsProcessed = 43
	require.NoError(t, repo.SaveSnapshot(snap))
	loaded, err = repo.LoadSnapshot("run1")
	require.NoError(t, err)
	assert.Equal(t, 43, loaded.BarsProcessed, "later checkpoints replace earlier ones")
}

func TestSnapshotRejectsOtherVersion(t *testing.T) {
	repo := openTestRepo(t)
	require.NoError(t, repo.SaveSnapshot(&models.RunSnapshot{RunID: "old", Version: 99}))
	_, err := repo.LoadSnapshot("old")
	assert.Error(t, err)

	assert.Error(t, repo.SaveSnapshot(&models.RunSnapshot{}))
}

func TestBarCache(t *testing.T) {
	repo := openTestRepo(t)
	var _ BarCache = repo

	cached, err := repo.LoadBars("HK.00700/5m")
	require.NoError(t, err)
	assert.Nil(t, cached)

	bars := []models.Bar{
		{Timestamp: time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC), Open: decimal.RequireFromString("300.2"), Close: decimal.RequireFromString("301")},
		{Timestamp: time.Date(2024, 1, 2, 1, 35, 0, 0, time.UTC), Open: decimal.RequireFromString("301"), Close: decimal.RequireFromString("300.8")},
	}
	require.NoError(t, repo.SaveBars("HK.00700/5m", bars))

	cached, err = repo.LoadBars("HK.00700/5m")
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.True(t, bars[1].Close.Equal(cached[1].Close))
	assert.True(t, bars[0].Timestamp.Equal(cached[0].Timestamp))
}

func TestSnapshotKeepsStreams(t *testing.T) {
	repo := openTestRepo(t)
	ts := time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC)
	snap := &models.RunSnapshot{
		RunID:         "run2",
		Version:       models.SnapshotVersion,
		BarsProcessed: 2,
		LastBarTime:   ts.Add(5 * time.Minute),
		Streams: models.RunStreams{
			Funds: []models.FundsPoint{
				{Timestamp: ts, DynamicBalance: decimal.RequireFromString("500000")},
				{Timestamp: ts.Add(5 * time.Minute), DynamicBalance: decimal.RequireFromString("500120.5")},
			},
			Trades:      []models.TradeRecord{{Timestamp: ts, Side: models.Buy, Quantity: 1000, Price: decimal.RequireFromString("300.2")}},
			Signals:     []models.SignalRecord{{Timestamp: ts, Decision: models.EnterLong}, {Timestamp: ts.Add(5 * time.Minute), Decision: models.Hold}},
			WarmupBars:  10,
			SkippedBars: 3,
			MaxExposure: decimal.RequireFromString("0.6"),
		},
	}
	require.NoError(t, repo.SaveSnapshot(snap))

	loaded, err := repo.LoadSnapshot("run2")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Streams.Funds, 2)
	assert.True(t, decimal.RequireFromString("500120.5").Equal(loaded.Streams.Funds[1].DynamicBalance))
	require.Len(t, loaded.Streams.Trades, 1)
	assert.Equal(t, models.Buy, loaded.Streams.Trades[0].Side)
	assert.True(t, ts.Equal(loaded.Streams.Trades[0].Timestamp))
	require.Len(t, loaded.Streams.Signals, 2)
	assert.Empty(t, loaded.Streams.Closes)
	assert.Equal(t, 10, loaded.Streams.WarmupBars)
	assert.Equal(t, 3, loaded.Streams.SkippedBars)
	assert.True(t, decimal.RequireFromString("0.6").Equal(loaded.Streams.MaxExposure))
}
