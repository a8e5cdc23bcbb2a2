package config

import (
	"dualthrust-bt-go/internal/models"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
instrument: HK.00700
bar_period: 5m
lookback_bars: 10
k1: "0.7"
k2: "0.7"
lot_size: 100
tick_size: "0.01"
max_position: 1000
stop_loss: "0.05"
initial_capital: "500000"
`

func validConfig(t *testing.T) *models.Config {
	t.Helper()
	cfg, err := Parse([]byte(minimalYAML), ".yaml")
	require.NoError(t, err)
	return cfg
}

func TestParse_YAMLDefaults(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, "HK.00700", cfg.Instrument)
	assert.True(t, decimal.RequireFromString("0.7").Equal(cfg.K1))
	assert.Equal(t, 20, cfg.TrendWindow)
	assert.Equal(t, "HK", cfg.Calendar.Market)
	assert.Equal(t, "outputs_bt", cfg.Output.Dir)
	assert.Equal(t, "info", cfg.LogConfig.Level)
	require.NoError(t, Validate(cfg))
}

func TestParse_ExplicitZeroTrendWindowIsRejected(t *testing.T) {
	for _, doc := range []struct{ data, ext string }{
		{minimalYAML + "trend_window: 0\n", ".yaml"},
		{`{"instrument":"HK.00700","lookback_bars":10,"trend_window":0}`, ".json"},
	} {
		cfg, err := Parse([]byte(doc.data), doc.ext)
		require.NoError(t, err)
		assert.Zero(t, cfg.TrendWindow, doc.ext)

		var cfgErr *models.ConfigError
		require.True(t, errors.As(Validate(cfg), &cfgErr), doc.ext)
		assert.Equal(t, "trend_window", cfgErr.Field)
	}

	cfg, err := Parse([]byte(minimalYAML+"trend_window: 5\n"), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.TrendWindow)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(minimalYAML+"grid_spacing: 0.01\n"), ".yml")
	var cfgErr *models.ConfigError
	require.True(t, errors.As(err, &cfgErr))

	_, err = Parse([]byte(`{"instrument":"X","leverage":3}`), ".json")
	require.True(t, errors.As(err, &cfgErr))
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"instrument":"BTCUSDT","k1":"0.5","k2":0.4,"calendar":{"market":"24x7"}}`), ".json")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cfg.Instrument)
	assert.True(t, decimal.RequireFromString("0.4").Equal(cfg.K2))
	assert.Equal(t, "24x7", cfg.Calendar.Market)
}

func TestLoadConfig_SampleFileIsValid(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.False(t, cfg.StartTime.IsZero())
	assert.Len(t, cfg.Sweep.K1, 4)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Config)
		field  string
	}{
		{"zero stop loss", func(c *models.Config) { c.StopLoss = decimal.Zero }, "stop_loss"},
		{"stop loss of one", func(c *models.Config) { c.StopLoss = decimal.NewFromInt(1) }, "stop_loss"},
		{"negative k1", func(c *models.Config) { c.K1 = decimal.RequireFromString("-0.1") }, "k1"},
		{"negative k2", func(c *models.Config) { c.K2 = decimal.RequireFromString("-0.1") }, "k2"},
		{"no instrument", func(c *models.Config) { c.Instrument = "" }, "instrument"},
		{"zero lookback", func(c *models.Config) { c.LookbackBars = 0 }, "lookback_bars"},
		{"zero lot", func(c *models.Config) { c.LotSize = 0 }, "lot_size"},
		{"zero tick", func(c *models.Config) { c.TickSize = decimal.Zero }, "tick_size"},
		{"max below lot", func(c *models.Config) { c.MaxPosition = 50 }, "max_position"},
		{"no capital", func(c *models.Config) { c.InitialCapital = decimal.Zero }, "initial_capital"},
		{"negative fee", func(c *models.Config) { c.Fees.LevyRate = decimal.RequireFromString("-0.01") }, "fees.levy_rate"},
		{"unknown market", func(c *models.Config) { c.Calendar.Market = "NYSE" }, "calendar"},
		{"unknown bar stamp", func(c *models.Config) { c.Calendar.BarStamp = "middle" }, "calendar"},
		{"bad start", func(c *models.Config) { c.Start = "soon" }, "start"},
		{"end before start", func(c *models.Config) { c.Start, c.End = "2024-02-01", "2024-01-01" }, "end"},
		{"negative parallelism", func(c *models.Config) { c.Sweep.Parallelism = -1 }, "sweep.parallelism"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Validate(cfg)
			var cfgErr *models.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidate_ResolvesTimesInCalendarZone(t *testing.T) {
	cfg := validConfig(t)
	cfg.Start = "2024-01-02 09:30"
	cfg.End = "2024-01-31"
	require.NoError(t, Validate(cfg))

	hk, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 1, 2, 9, 30, 0, 0, hk).Equal(cfg.StartTime))
	assert.True(t, time.Date(2024, 1, 31, 0, 0, 0, 0, hk).Equal(cfg.EndTime))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DT_INSTRUMENT", "HK.00005")
	t.Setenv("DT_INITIAL_CAPITAL", "250000")
	t.Setenv("DT_OUTPUT_DIR", "elsewhere")
	cfg := validConfig(t)
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, "HK.00005", cfg.Instrument)
	assert.True(t, decimal.NewFromInt(250000).Equal(cfg.InitialCapital))
	assert.Equal(t, "elsewhere", cfg.Output.Dir)

	t.Setenv("DT_INITIAL_CAPITAL", "lots")
	var cfgErr *models.ConfigError
	assert.True(t, errors.As(ApplyEnv(cfg), &cfgErr))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	found, err := LoadEnv(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.False(t, found)

	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DT_TEST_ONLY_KEY=present\n"), 0o644))
	t.Setenv("DT_TEST_ONLY_KEY", "")
	os.Unsetenv("DT_TEST_ONLY_KEY")
	found, err = LoadEnv(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "present", os.Getenv("DT_TEST_ONLY_KEY"))
}
