package downloader

import (
	"context"
	"dualthrust-bt-go/internal/feed"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource serves one-minute klines from a fixed start, two per page.
type fakeSource struct {
	base  int64
	count int
	calls int
	err   error
}

func (f *fakeSource) Klines(_ context.Context, _, _ string, startMs int64, _ int) ([]*binance.Kline, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*binance.Kline
	for i := 0; i < f.count && len(out) < 2; i++ {
		open := f.base + int64(i)*60_000
		if open < startMs {
			continue
		}
		price := strconv.Itoa(100 + i)
		out = append(out, &binance.Kline{
			OpenTime:  open,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    "1.5",
			CloseTime: open + 59_999,
		})
	}
	return out, nil
}

func newTestDownloader(src klineSource) *KlineDownloader {
	return &KlineDownloader{source: src, logger: zap.NewNop().Sugar()}
}

func TestDownloadKlines_WritesFeedCSV(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{base: start.UnixMilli(), count: 5}
	path := filepath.Join(t.TempDir(), "data", "BTCUSDT.csv")

	// The window ends before the fifth kline.
	err := newTestDownloader(src).DownloadKlines(context.Background(), "BTCUSDT", "1m", path, start, start.Add(4*time.Minute))
	require.NoError(t, err)

	bars, err := feed.LoadCSV(path, time.UTC)
	require.NoError(t, err)
	require.Len(t, bars, 4)
	assert.True(t, start.Equal(bars[0].Timestamp))
	assert.Equal(t, "103", bars[3].Close.String())
	assert.Equal(t, "1.5", bars[3].Volume.String())
	assert.Equal(t, 2, src.calls)

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.part-*"))
	assert.Empty(t, matches)
}

func TestDownloadKlines_CacheHit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cached.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,open,high,low,close,volume\n"), 0o644))

	src := &fakeSource{}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, newTestDownloader(src).DownloadKlines(context.Background(), "BTCUSDT", "1m", path, start, start.Add(time.Hour)))
	assert.Zero(t, src.calls)
}

func TestDownloadKlines_SourceErrorLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.csv")
	src := &fakeSource{err: errors.New("rate limited")}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := newTestDownloader(src).DownloadKlines(context.Background(), "BTCUSDT", "1m", path, start, start.Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadKlines_EmptyWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	err := newTestDownloader(&fakeSource{}).DownloadKlines(context.Background(), "BTCUSDT", "1m",
		filepath.Join(t.TempDir(), "x.csv"), start, start)
	assert.Error(t, err)
}
