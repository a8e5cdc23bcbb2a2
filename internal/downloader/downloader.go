package downloader

import (
	"context"
	"dualthrust-bt-go/internal/feed"
	"dualthrust-bt-go/internal/models"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// pageLimit 币安单次请求最多1000条
const pageLimit = 1000

// klineSource is the part of the exchange API the downloader needs.
type klineSource interface {
	Klines(ctx context.Context, symbol, interval string, startMs int64, limit int) ([]*binance.Kline, error)
}

type binanceSource struct {
	client *binance.Client
}

func (s binanceSource) Klines(ctx context.Context, symbol, interval string, startMs int64, limit int) ([]*binance.Kline, error) {
	return s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMs).
		Limit(limit).
		Do(ctx)
}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	source klineSource
	logger *zap.SugaredLogger
	pause  time.Duration
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader(logger *zap.SugaredLogger) *KlineDownloader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KlineDownloader{
		source: binanceSource{client: binance.NewClient("", "")}, // 公共接口不需要API Key
		logger: logger,
		pause:  200 * time.Millisecond,
	}
}

// DownloadKlines 下载指定交易对和时间范围 [start, end) 内的K线数据，并以 feed CSV 格式保存。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, start, end time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Infow("从缓存加载数据", "path", filePath)
		return nil
	}
	if !start.Before(end) {
		return fmt.Errorf("empty download window %s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	d.logger.Infow("开始下载K线数据",
		"symbol", symbol,
		"interval", interval,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"))

	bars, err := d.fetch(ctx, symbol, interval, start, end)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}
	// Written to a temp file first so an interrupted download never looks like a cache hit.
	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".part-*")
	if err != nil {
		return fmt.Errorf("无法创建文件: %w", err)
	}
	if err := feed.WriteCSV(tmp, bars); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("写入CSV失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	d.logger.Infow("成功下载K线数据", "path", filePath, "bars", len(bars))
	return nil
}

func (d *KlineDownloader) fetch(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.Bar, error) {
	var bars []models.Bar
	endMs := end.UnixMilli()
	for t := start.UnixMilli(); t < endMs; {
		klines, err := d.source.Klines(ctx, symbol, interval, t, pageLimit)
		if err != nil {
			return nil, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			if k.OpenTime >= endMs {
				return bars, nil
			}
			bar, err := toBar(k)
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
		}

		// 更新下一次请求的开始时间
		t = klines[len(klines)-1].CloseTime + 1
		d.logger.Debugw("已下载数据", "upTo", time.UnixMilli(t).UTC().Format("2006-01-02 15:04:05"), "bars", len(bars))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pause): // 避免过于频繁的请求
		}
	}
	return bars, nil
}

func toBar(k *binance.Kline) (models.Bar, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return models.Bar{}, fmt.Errorf("kline at %d: bad value %q: %w", k.OpenTime, f, err)
		}
		values[i] = v
	}
	return models.Bar{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
