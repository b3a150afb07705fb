package main

import (
	"fmt"

	"optiflow/config"
	"optiflow/decision"
	"optiflow/logger"
	"optiflow/market"
	"optiflow/mcp"
	"optiflow/metrics"
	"optiflow/monitor"
	"optiflow/pipeline"
	"optiflow/risk"
	"optiflow/store"
)

// app holds everything a command needs, built once from the configuration.
type app struct {
	cfg      *config.Config
	store    *store.Store
	prompts  *decision.PromptManager
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline
}

// newApp opens the history database and wires the pipeline. withHistory
// false leaves the store nil: no monitor, nothing recorded.
func newApp(cfg *config.Config, withHistory, withRuntimeMetrics bool) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New(withRuntimeMetrics)}

	a.prompts = decision.NewPromptManager()
	if cfg.PromptsDir != "" {
		if err := a.prompts.LoadTemplates(cfg.PromptsDir); err != nil {
			logger.Warnf("using built-in prompts: %v", err)
		}
	}

	var mon *monitor.PositionMonitor
	if withHistory {
		st, err := store.New(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		a.store = st
		mon = monitor.New(st.Orders(), st.Adjustments(), cfg.Monitor.MoveThreshold)
	}

	var oracle mcp.AIClient
	if cfg.Oracle.Enabled() {
		client, err := mcp.NewClient(cfg.Oracle.Config, mcp.WithLogger(logger.NewMCPLogger()))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("oracle: %w", err)
		}
		oracle = client
		logger.Infof("recommendation oracle: %s at %s", cfg.Oracle.Model, cfg.Oracle.BaseURL)
	} else {
		logger.Infof("no recommendation oracle configured, strategist falls back to Strangle")
	}

	p, err := pipeline.Build(pipeline.Deps{
		Source:     marketSource(cfg),
		Researcher: researcher(cfg),
		Oracle:     oracle,
		Prompts:    a.prompts,
		Gate:       risk.NewGate(cfg.MinIV),
		Monitor:    mon,
		Metrics:    a.metrics,
	}, pipeline.Options{
		Symbol: cfg.Symbol,
		Defaults: pipeline.Defaults{
			Spot:         cfg.Defaults.Spot,
			IV:           cfg.Defaults.IV,
			DaysToExpiry: cfg.Defaults.DaysToExpiry,
		},
		LotSize:           cfg.LotSize,
		StrategyOverride:  cfg.Strategy.Override,
		SigmaOverride:     cfg.Strategy.SigmaMult,
		ConsultRiskOracle: cfg.Oracle.RiskAudit,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = p
	return a, nil
}

func marketSource(cfg *config.Config) market.Source {
	if cfg.Market.Mode == config.MarketModeHTTP {
		return market.NewHTTPSource(cfg.Market.HTTPConfig)
	}
	return market.StaticSource{Spot: cfg.Defaults.Spot, VIX: cfg.Defaults.IV}
}

func researcher(cfg *config.Config) market.Researcher {
	if cfg.Research.Mode == config.ResearchModeVolatility {
		return market.VolatilityResearcher{Calm: cfg.Research.CalmBelow, Volatile: cfg.Research.VolatileFrom}
	}
	return market.NewStaticResearcher()
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("failed to close database: %v", err)
		}
	}
}
