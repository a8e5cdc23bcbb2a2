package config

import (
	"bytes"
	"dualthrust-bt-go/internal/models"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// LoadConfig 从指定路径加载配置文件。
// .yaml/.yml files are decoded with yaml.v3, anything else as JSON. Unknown fields are rejected.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// defaultTrendWindow applies only when trend_window is absent; an explicit 0 fails Validate.
const defaultTrendWindow = 20

// Parse decodes raw config bytes. ext selects the format (".yaml", ".yml" or ".json").
func Parse(data []byte, ext string) (*models.Config, error) {
	cfg := &models.Config{TrendWindow: defaultTrendWindow}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, &models.ConfigError{Field: "file", Reason: err.Error()}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, &models.ConfigError{Field: "file", Reason: err.Error()}
		}
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadEnv loads a .env file if one exists. A missing file is not an error.
func LoadEnv(paths ...string) (bool, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false, nil
		}
	}
	if err := godotenv.Load(paths...); err != nil {
		return false, fmt.Errorf("load env: %w", err)
	}
	return true, nil
}

// ApplyEnv overrides a fixed set of fields from the environment.
func ApplyEnv(cfg *models.Config) error {
	if v := os.Getenv("DT_INSTRUMENT"); v != "" {
		cfg.Instrument = v
	}
	if v := os.Getenv("DT_INITIAL_CAPITAL"); v != "" {
		capital, err := decimal.NewFromString(v)
		if err != nil {
			return &models.ConfigError{Field: "DT_INITIAL_CAPITAL", Reason: err.Error()}
		}
		cfg.InitialCapital = capital
	}
	if v := os.Getenv("DT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DT_SQLITE_PATH"); v != "" {
		cfg.Output.SQLitePath = v
	}
	if v := os.Getenv("DT_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("DT_LOG_LEVEL"); v != "" {
		cfg.LogConfig.Level = v
	}
	return nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.Calendar.Market == "" {
		cfg.Calendar.Market = "HK"
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "outputs_bt"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}
