// Package pipeline wires the decision steps into a task graph:
//
//	market_scanner -> position_monitor  -> strategist -> executor -> risk_manager
//	               -> market_researcher ->
//
// Every step after the scanner is gated: once the state carries an error the
// rest of the run is skipped and the document is returned as is.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"optiflow/decision"
	"optiflow/graph"
	"optiflow/logger"
	"optiflow/market"
	"optiflow/mcp"
	"optiflow/metrics"
	"optiflow/model"
	"optiflow/monitor"
	"optiflow/risk"
)

// Node names.
const (
	NodeMarketScanner    = "market_scanner"
	NodePositionMonitor  = "position_monitor"
	NodeMarketResearcher = "market_researcher"
	NodeStrategist       = "strategist"
	NodeExecutor         = "executor"
	NodeRiskManager      = "risk_manager"
)

// Oracle call purposes, as reported to metrics.
const (
	purposeStrategist = "strategist"
	purposeRiskAudit  = "risk_audit"
)

const DefaultLotSize = 50

// Defaults stand in for market observations the source could not provide.
type Defaults struct {
	Spot         float64
	IV           float64
	DaysToExpiry int
}

var DefaultMarket = Defaults{Spot: 22000, IV: 15, DaysToExpiry: 5}

// Deps are the collaborators of the nodes. Source is required; a nil Oracle
// means no recommendation is ever requested.
type Deps struct {
	Source     market.Source
	Researcher market.Researcher
	Oracle     mcp.AIClient
	Prompts    *decision.PromptManager
	Gate       *risk.Gate
	Monitor    *monitor.PositionMonitor
	Metrics    *metrics.Metrics
	Observer   graph.Observer
	Clock      func() time.Time
}

type Options struct {
	Symbol            string
	Defaults          Defaults
	LotSize           int
	StrategyOverride  string
	SigmaOverride     float64
	ConsultRiskOracle bool
}

// Request carries per-run overrides. They take precedence over Options.
type Request struct {
	Strategy  string  `json:"strategy,omitempty"`
	SigmaMult float64 `json:"sigma_mult,omitempty"`
}

// Outcome is a completed run.
type Outcome struct {
	RunID string
	State graph.State
	Trace []graph.NodeRecord
}

// Status classifies the run for metrics and logs.
func (o *Outcome) Status() string {
	if o.State.Err() != "" {
		return metrics.OutcomeSoftError
	}
	if status, _, _ := RiskOf(o.State); status == model.RiskApproved {
		return metrics.OutcomeApproved
	}
	return metrics.OutcomeRejected
}

type Pipeline struct {
	deps  Deps
	opts  Options
	graph *graph.Graph
}

// Build fills in defaults and compiles the graph. The result is safe for
// concurrent runs.
func Build(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, errors.New("pipeline: market source is required")
	}
	if deps.Researcher == nil {
		deps.Researcher = market.NewStaticResearcher()
	}
	if deps.Prompts == nil {
		deps.Prompts = decision.NewPromptManager()
	}
	if deps.Gate == nil {
		deps.Gate = risk.NewGate(risk.DefaultMinIV)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	opts.Symbol = strings.ToUpper(strings.TrimSpace(opts.Symbol))
	if opts.Symbol == "" {
		opts.Symbol = "NIFTY"
	}
	if opts.Defaults.Spot <= 0 {
		opts.Defaults.Spot = DefaultMarket.Spot
	}
	if opts.Defaults.IV <= 0 {
		opts.Defaults.IV = DefaultMarket.IV
	}
	if opts.Defaults.DaysToExpiry <= 0 {
		opts.Defaults.DaysToExpiry = DefaultMarket.DaysToExpiry
	}
	if opts.LotSize <= 0 {
		opts.LotSize = DefaultLotSize
	}

	p := &Pipeline{deps: deps, opts: opts}
	g, err := graph.NewBuilder().
		AddNode(NodeMarketScanner, p.scanMarket).
		AddNode(NodePositionMonitor, p.monitorPosition, graph.Gated()).
		AddNode(NodeMarketResearcher, p.research, graph.Gated()).
		AddNode(NodeStrategist, p.strategize, graph.Gated()).
		AddNode(NodeExecutor, p.execute, graph.Gated()).
		AddNode(NodeRiskManager, p.manageRisk, graph.Gated()).
		AddEdge(NodeMarketScanner, NodePositionMonitor).
		AddEdge(NodeMarketScanner, NodeMarketResearcher).
		AddEdge(NodePositionMonitor, NodeStrategist).
		AddEdge(NodeMarketResearcher, NodeStrategist).
		AddEdge(NodeStrategist, NodeExecutor).
		AddEdge(NodeExecutor, NodeRiskManager).
		AddEdge(NodeRiskManager, graph.End).
		Compile()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p.graph = g
	return p, nil
}

// Graph exposes the compiled topology.
func (p *Pipeline) Graph() *graph.Graph { return p.graph }

// RunOnce executes the graph with a fresh run ID. A soft failure is reported
// through the error field of the returned state; only engine faults are
// returned as errors.
func (p *Pipeline) RunOnce(ctx context.Context, req Request) (*Outcome, error) {
	runID := uuid.NewString()
	initial := graph.State{FieldRunID: runID}
	if s := strings.TrimSpace(req.Strategy); s != "" {
		initial[FieldUserStrategy] = s
	}
	if req.SigmaMult > 0 {
		initial[FieldSigmaOverride] = req.SigmaMult
	}

	log := logger.WithFields(logrus.Fields{"run_id": runID, "symbol": p.opts.Symbol})
	opts := []graph.RunOption{
		graph.WithObserver(p.deps.Observer),
		graph.WithObserver(nodeLogger{log: log}),
	}
	if p.deps.Metrics != nil {
		opts = append(opts, graph.WithObserver(p.deps.Metrics))
	}

	start := time.Now()
	res, err := p.graph.Execute(ctx, initial, opts...)
	elapsed := time.Since(start)
	if err != nil {
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveRun(metrics.OutcomeFault, elapsed)
		}
		log.Errorf("run failed after %s: %v", elapsed.Round(time.Millisecond), err)
		return nil, err
	}

	out := &Outcome{RunID: runID, State: res.State, Trace: res.Trace}
	status := out.Status()
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveRun(status, elapsed)
	}
	if msg := out.State.Err(); msg != "" {
		log.Warnf("run ended with error after %s: %s (skipped %s)", elapsed.Round(time.Millisecond), msg, strings.Join(res.Skipped(), ", "))
	} else {
		_, reason, _ := RiskOf(out.State)
		log.Infof("run %s in %s: %s", status, elapsed.Round(time.Millisecond), reason)
	}
	return out, nil
}

func (p *Pipeline) now() time.Time { return p.deps.Clock() }

// nodeLogger traces node progress at debug level.
type nodeLogger struct {
	log *logrus.Entry
}

func (l nodeLogger) NodeStarted(node string) {
	l.log.WithField("node", node).Debug("node started")
}

func (l nodeLogger) NodeFinished(node string, status graph.NodeStatus, elapsed time.Duration, err error) {
	entry := l.log.WithFields(logrus.Fields{"node": node, "status": status, "elapsed": elapsed})
	if err != nil {
		entry.Errorf("node failed: %v", err)
		return
	}
	entry.Debug("node finished")
}
