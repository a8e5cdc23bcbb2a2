package main

import (
	"context"
	"dualthrust-bt-go/internal/backtest"
	"dualthrust-bt-go/internal/calendar"
	"dualthrust-bt-go/internal/config"
	"dualthrust-bt-go/internal/downloader"
	"dualthrust-bt-go/internal/feed"
	"dualthrust-bt-go/internal/logger"
	"dualthrust-bt-go/internal/models"
	"dualthrust-bt-go/internal/output"
	"dualthrust-bt-go/internal/persistence"
	"dualthrust-bt-go/internal/reporter"
	"dualthrust-bt-go/internal/statemanager"
	"dualthrust-bt-go/internal/storage"
	"dualthrust-bt-go/internal/sweep"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type options struct {
	configPath string
	mode       string
	dataPath   string
	symbol     string
	interval   string
	start      string
	end        string
	outDir     string
	resume     bool
}

func main() {
	// --- 命令行参数定义 ---
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.yaml", "path to the config file (.yaml or .json)")
	flag.StringVar(&opts.mode, "mode", "backtest", "running mode: backtest, sweep or download")
	flag.StringVar(&opts.dataPath, "data", "", "path to the bar CSV file")
	flag.StringVar(&opts.symbol, "symbol", "", "symbol to download (e.g., BTCUSDT)")
	flag.StringVar(&opts.interval, "interval", "", "kline interval to download (defaults to bar_period)")
	flag.StringVar(&opts.start, "start", "", "first evaluated bar, overrides the config")
	flag.StringVar(&opts.end, "end", "", "last evaluated bar, overrides the config")
	flag.StringVar(&opts.outDir, "out", "", "output directory, overrides the config")
	flag.BoolVar(&opts.resume, "resume", false, "continue from the last checkpoint of the same run")
	flag.Parse()

	// 先用默认配置初始化日志，加载配置文件时也能记录
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if found, err := config.LoadEnv(); err != nil {
		logger.S().Fatalf("加载 .env 失败: %v", err)
	} else if found {
		logger.S().Info("成功从 .env 文件加载配置。")
	} else {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.S().Fatalf("配置无效: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch opts.mode {
	case "backtest":
		err = runBacktest(ctx, cfg, opts)
	case "sweep":
		err = runSweep(ctx, cfg, opts)
	case "download":
		_, err = download(ctx, cfg, opts)
	default:
		err = fmt.Errorf("未知的运行模式: %s。请选择 'backtest'、'sweep' 或 'download'。", opts.mode)
	}
	if err != nil {
		logger.S().Errorf("运行失败: %v", err)
		logger.S().Sync()
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies env and flag overrides, then validates once.
func loadConfig(opts options) (*models.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if opts.start != "" {
		cfg.Start = opts.start
	}
	if opts.end != "" {
		cfg.End = opts.end
	}
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runBacktest runs a single backtest. Outputs are written even when the run stops early.
func runBacktest(ctx context.Context, cfg *models.Config, opts options) error {
	logger.S().Info("--- 启动回测模式 ---")
	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return err
	}

	var repo *persistence.BadgerRepository
	if cfg.DBPath != "" {
		if repo, err = persistence.NewBadgerRepository(cfg.DBPath); err != nil {
			return err
		}
		defer repo.Close()
	}

	bars, err := loadBars(ctx, cfg, opts, cal.Location(), barCache(repo))
	if err != nil {
		return err
	}

	var driverOpts []backtest.Option
	if repo != nil {
		runID := backtest.RunID(cfg)
		if opts.resume {
			snapshot, err := repo.LoadSnapshot(runID)
			if err != nil {
				return err
			}
			if snapshot != nil && !snapshot.Completed {
				logger.S().Infof("从检查点恢复: %d 根K线已处理, 最后时间 %s", snapshot.BarsProcessed, snapshot.LastBarTime.Format(time.RFC3339))
				driverOpts = append(driverOpts, backtest.WithResume(snapshot))
			}
		}
		sm := statemanager.NewStateManager(nil, repo, logger.L())
		sm.Start()
		defer sm.Stop()
		driverOpts = append(driverOpts, backtest.WithCheckpointer(sm))
	}

	driver := backtest.NewDriver(cfg, cal, logger.L(), driverOpts...)
	res, runErr := driver.Run(ctx, bars)
	if res == nil {
		return runErr
	}

	metrics := reporter.Summarize(res)
	reporter.Render(os.Stdout, metrics)
	if len(res.Closes) > 0 {
		reporter.RenderCloses(os.Stdout, res.Closes)
	}
	reporter.LogReport(logger.S(), metrics)

	if err := output.WriteAll(cfg.Output.Dir, res, metrics); err != nil {
		return errors.Join(runErr, err)
	}
	logger.S().Infof("回测结果已写入 %s", cfg.Output.Dir)

	if err := record(cfg, []*backtest.Result{res}, []*reporter.Metrics{metrics}); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// runSweep backtests the k1/k2 grid and writes each run under its run ID.
func runSweep(ctx context.Context, cfg *models.Config, opts options) error {
	logger.S().Info("--- 启动参数扫描模式 ---")
	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return err
	}

	var repo *persistence.BadgerRepository
	if cfg.DBPath != "" {
		if repo, err = persistence.NewBadgerRepository(cfg.DBPath); err != nil {
			return err
		}
		defer repo.Close()
	}
	bars, err := loadBars(ctx, cfg, opts, cal.Location(), barCache(repo))
	if err != nil {
		return err
	}

	outcomes, err := sweep.Run(ctx, cfg, sweep.GridFrom(cfg), bars, cal, cfg.Sweep.Parallelism, logger.L())
	if err != nil {
		return err
	}
	sweep.Render(os.Stdout, outcomes)

	results := make([]*backtest.Result, len(outcomes))
	metrics := make([]*reporter.Metrics, len(outcomes))
	for i, o := range outcomes {
		results[i], metrics[i] = o.Result, o.Metrics
		if err := output.WriteAll(filepath.Join(cfg.Output.Dir, o.RunID), o.Result, o.Metrics); err != nil {
			return err
		}
	}
	if best, ok := sweep.Best(outcomes); ok {
		logger.S().Infow("最佳参数",
			"k1", best.K1.String(),
			"k2", best.K2.String(),
			"runId", best.RunID,
			"returnPct", best.Metrics.ReturnPct.StringFixed(2),
			"maxDrawdownPct", best.Metrics.MaxDrawdownPct.StringFixed(2))
	}
	return record(cfg, results, metrics)
}

// download fetches klines for -symbol over [-start, -end) and returns the CSV path.
func download(ctx context.Context, cfg *models.Config, opts options) (string, error) {
	symbol := opts.symbol
	if symbol == "" {
		symbol = cfg.Instrument
	}
	if cfg.StartTime.IsZero() || cfg.EndTime.IsZero() {
		return "", errors.New("下载需要通过 -start 和 -end 指定时间范围")
	}
	interval := opts.interval
	if interval == "" {
		interval = cfg.BarPeriod
	}

	path := opts.dataPath
	if path == "" {
		path = filepath.Join("data", fmt.Sprintf("%s-%s-%s-%s.csv", symbol, interval,
			cfg.StartTime.Format("20060102"), cfg.EndTime.Format("20060102")))
	}
	d := downloader.NewKlineDownloader(logger.S())
	if err := d.DownloadKlines(ctx, symbol, interval, path, cfg.StartTime, cfg.EndTime); err != nil {
		return "", fmt.Errorf("下载数据失败: %w", err)
	}
	return path, nil
}

// loadBars reads the feed from the badger bar cache when possible, otherwise from the CSV file.
// Without -data the file is downloaded first.
func loadBars(ctx context.Context, cfg *models.Config, opts options, loc *time.Location, cache persistence.BarCache) ([]models.Bar, error) {
	path := opts.dataPath
	if path == "" {
		if opts.symbol == "" {
			return nil, errors.New("需要通过 -data 或 -symbol/-start/-end 参数指定数据源")
		}
		var err error
		if path, err = download(ctx, cfg, opts); err != nil {
			return nil, err
		}
	}

	var key string
	if cache != nil {
		var err error
		if key, err = barCacheKey(cfg, path, loc); err != nil {
			return nil, err
		}
		bars, err := cache.LoadBars(key)
		if err != nil {
			logger.S().Warnf("读取K线缓存失败, 将重新解析文件: %v", err)
		} else if len(bars) > 0 {
			logger.S().Infow("从缓存加载K线", "key", key, "bars", len(bars))
			return bars, nil
		}
	}

	bars, err := feed.LoadCSV(path, loc)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("历史数据文件 %s 为空", path)
	}
	logger.S().Infow("已加载K线", "path", path, "bars", len(bars))

	if cache != nil {
		if err := cache.SaveBars(key, bars); err != nil {
			logger.S().Warnf("写入K线缓存失败: %v", err)
		}
	}
	return bars, nil
}

// barCacheKey changes whenever the file content or the zone its local timestamps are read in changes.
func barCacheKey(cfg *models.Config, path string, loc *time.Location) (string, error) {
	sum, err := feed.Fingerprint(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/%s", cfg.Instrument, cfg.BarPeriod, loc.String(), sum), nil
}

func barCache(repo *persistence.BadgerRepository) persistence.BarCache {
	if repo == nil {
		return nil
	}
	return repo
}

// record stores the runs in the sqlite database when one is configured.
func record(cfg *models.Config, results []*backtest.Result, metrics []*reporter.Metrics) error {
	if cfg.Output.SQLitePath == "" {
		return nil
	}
	db, err := storage.InitDB(cfg.Output.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	for i, res := range results {
		if err := storage.SaveRun(db, res, metrics[i]); err != nil {
			return err
		}
	}
	logger.L().Info("Runs recorded", zap.String("path", cfg.Output.SQLitePath), zap.Int("runs", len(results)))
	return nil
}
