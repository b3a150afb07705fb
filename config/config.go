// Package config loads the runtime configuration: a YAML file overlaid on the
// defaults, then environment overrides (a .env file is loaded by main).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"optiflow/logger"
	"optiflow/market"
	"optiflow/mcp"
	"optiflow/model"
)

const (
	MarketModeStatic = "static"
	MarketModeHTTP   = "http"

	ResearchModeStatic     = "static"
	ResearchModeVolatility = "volatility"
)

// Defaults replace market observations the source could not provide.
type Defaults struct {
	Spot         float64 `yaml:"spot"`
	IV           float64 `yaml:"iv"`
	DaysToExpiry int     `yaml:"days_to_expiry"`
}

type MonitorConfig struct {
	MoveThreshold float64 `yaml:"move_threshold"`
}

type StrategyConfig struct {
	Override  string  `yaml:"override"`
	SigmaMult float64 `yaml:"sigma_mult"`
}

type ResearchConfig struct {
	Mode         string  `yaml:"mode"`
	CalmBelow    float64 `yaml:"calm_below"`
	VolatileFrom float64 `yaml:"volatile_from"`
}

type OracleConfig struct {
	mcp.Config `yaml:",inline"`
	RiskAudit  bool `yaml:"risk_audit"`
}

type MarketConfig struct {
	Mode              string `yaml:"mode"`
	market.HTTPConfig `yaml:",inline"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Symbol     string         `yaml:"symbol"`
	LotSize    int            `yaml:"lot_size"`
	Defaults   Defaults       `yaml:"defaults"`
	MinIV      float64        `yaml:"min_iv"`
	Monitor    MonitorConfig  `yaml:"monitor"`
	Strategy   StrategyConfig `yaml:"strategy"`
	Research   ResearchConfig `yaml:"research"`
	Oracle     OracleConfig   `yaml:"oracle"`
	Market     MarketConfig   `yaml:"market"`
	PromptsDir string         `yaml:"prompts_dir"`
	Database   DatabaseConfig `yaml:"database"`
	Server     ServerConfig   `yaml:"server"`
	Log        logger.Config  `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Symbol:  "NIFTY",
		LotSize: 50,
		Defaults: Defaults{
			Spot:         22000,
			IV:           15,
			DaysToExpiry: 5,
		},
		MinIV:    11,
		Monitor:  MonitorConfig{MoveThreshold: 0.01},
		Research: ResearchConfig{Mode: ResearchModeStatic, CalmBelow: 12, VolatileFrom: 20},
		Market:   MarketConfig{Mode: MarketModeHTTP},
		Database: DatabaseConfig{Path: "data/optiflow.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Log:      logger.Config{Level: "info", Format: "text"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result. A missing file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("OPTIFLOW_SYMBOL")); v != "" {
		c.Symbol = strings.ToUpper(v)
	}
	if v := os.Getenv("OPTIFLOW_LOT_SIZE"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("OPTIFLOW_LOT_SIZE: %w", err)
		}
		c.LotSize = n
	}
	if v := os.Getenv("OPTIFLOW_MIN_IV"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("OPTIFLOW_MIN_IV: %w", err)
		}
		c.MinIV = f
	}
	if v := strings.TrimSpace(os.Getenv("OPTIFLOW_STRATEGY")); v != "" {
		c.Strategy.Override = v
	}
	if v := strings.TrimSpace(os.Getenv("OPTIFLOW_DB_PATH")); v != "" {
		c.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("OPTIFLOW_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("OPTIFLOW_LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("OPTIFLOW_MARKET_MODE")); v != "" {
		c.Market.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		c.Oracle.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_MODEL")); v != "" {
		c.Oracle.Model = v
	}
	return nil
}

// Validate rejects values no run could use.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Symbol) == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	if c.LotSize <= 0 {
		errs = append(errs, fmt.Errorf("lot_size must be positive, got %d", c.LotSize))
	}
	if c.Defaults.Spot <= 0 {
		errs = append(errs, fmt.Errorf("defaults.spot must be positive, got %v", c.Defaults.Spot))
	}
	if c.Defaults.IV < 0 {
		errs = append(errs, fmt.Errorf("defaults.iv must not be negative, got %v", c.Defaults.IV))
	}
	if c.Defaults.DaysToExpiry < 0 {
		errs = append(errs, fmt.Errorf("defaults.days_to_expiry must not be negative, got %d", c.Defaults.DaysToExpiry))
	}
	if c.MinIV < 0 {
		errs = append(errs, fmt.Errorf("min_iv must not be negative, got %v", c.MinIV))
	}
	if c.Monitor.MoveThreshold < 0 {
		errs = append(errs, fmt.Errorf("monitor.move_threshold must not be negative, got %v", c.Monitor.MoveThreshold))
	}
	if c.Strategy.Override != "" {
		if _, ok := model.ParseStrategy(c.Strategy.Override); !ok {
			errs = append(errs, fmt.Errorf("strategy.override %q is not Strangle or Straddle", c.Strategy.Override))
		}
	}
	if c.Strategy.SigmaMult < 0 {
		errs = append(errs, fmt.Errorf("strategy.sigma_mult must not be negative, got %v", c.Strategy.SigmaMult))
	}
	switch c.Research.Mode {
	case ResearchModeStatic:
	case ResearchModeVolatility:
		if c.Research.CalmBelow <= 0 || c.Research.VolatileFrom <= c.Research.CalmBelow {
			errs = append(errs, fmt.Errorf("research thresholds must satisfy 0 < calm_below < volatile_from, got %v / %v",
				c.Research.CalmBelow, c.Research.VolatileFrom))
		}
	default:
		errs = append(errs, fmt.Errorf("research.mode %q is not static or volatility", c.Research.Mode))
	}
	switch c.Market.Mode {
	case MarketModeStatic, MarketModeHTTP:
	default:
		errs = append(errs, fmt.Errorf("market.mode %q is not static or http", c.Market.Mode))
	}
	if c.Oracle.RiskAudit && !c.Oracle.Enabled() {
		errs = append(errs, errors.New("oracle.risk_audit requires oracle.base_url and oracle.model"))
	}
	return errors.Join(errs...)
}
