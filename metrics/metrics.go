// Package metrics exposes Prometheus instrumentation for pipeline runs.
//
// Metrics:
//   - optiflow_runs_total{outcome}                  runs by outcome (approved|rejected|soft_error|fault)
//   - optiflow_run_duration_seconds                 wall time of a run
//   - optiflow_node_executions_total{node,status}   node finishes (executed|skipped|failed)
//   - optiflow_node_duration_seconds{node}          node body time
//   - optiflow_risk_verdicts_total{verdict,reason}  risk gate outcomes
//   - optiflow_oracle_calls_total{purpose,result}   oracle calls (ok|error)
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optiflow/graph"
)

// Run outcomes.
const (
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeSoftError = "soft_error"
	OutcomeFault     = "fault"
)

// Metrics owns its own registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	NodeExecutions *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	RiskVerdicts   *prometheus.CounterVec
	OracleCalls    *prometheus.CounterVec
}

// New creates the collectors. withRuntime adds the Go and process
// collectors, which only make sense for the long-running server.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optiflow_runs_total",
			Help: "Pipeline runs by outcome",
		}, []string{"outcome"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "optiflow_run_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		NodeExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optiflow_node_executions_total",
			Help: "Node finishes by status",
		}, []string{"node", "status"}),
		NodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optiflow_node_duration_seconds",
			Help:    "Time spent in a node body",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"node"}),
		RiskVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optiflow_risk_verdicts_total",
			Help: "Risk gate verdicts",
		}, []string{"verdict", "reason"}),
		OracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "optiflow_oracle_calls_total",
			Help: "Recommendation oracle calls",
		}, []string{"purpose", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and for callers adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveRun(outcome string, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveVerdict(approved bool, reason string) {
	verdict := OutcomeRejected
	if approved {
		verdict = OutcomeApproved
	}
	m.RiskVerdicts.WithLabelValues(verdict, reason).Inc()
}

func (m *Metrics) ObserveOracleCall(purpose string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OracleCalls.WithLabelValues(purpose, result).Inc()
}

// NodeStarted implements graph.Observer.
func (m *Metrics) NodeStarted(string) {}

// NodeFinished implements graph.Observer.
func (m *Metrics) NodeFinished(node string, status graph.NodeStatus, elapsed time.Duration, _ error) {
	m.NodeExecutions.WithLabelValues(node, string(status)).Inc()
	if status != graph.StatusSkipped {
		m.NodeDuration.WithLabelValues(node).Observe(elapsed.Seconds())
	}
}

var _ graph.Observer = (*Metrics)(nil)
