package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics.
//
// Metrics exposed (all namespaced with "foundry_"):
//
// 1. inflight_runs (gauge): runs currently executing nodes.
//
// 2. step_latency_ms (histogram): node execution duration in milliseconds.
// Labels: node_id, status (success/error).
//
// 3. runs_total (counter): Run and Resume calls by outcome.
// Labels: outcome (paused/done/failed/aborted).
//
// 4. store_failures_total (counter): checkpoint writes the engine could not
// persist. Labels: op (save_step/save_checkpoint).
//
// Thread IDs are deliberately not used as labels; they are unbounded.
type PrometheusMetrics struct {
	inflightRuns  prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	storeFailures *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the engine metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		inflightRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "foundry",
			Name:      "inflight_runs",
			Help:      "Workflow runs currently executing nodes",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "foundry",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 10, 100, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"node_id", "status"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foundry",
			Name:      "runs_total",
			Help:      "Run and resume calls by outcome",
		}, []string{"outcome"}),
		storeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foundry",
			Name:      "store_failures_total",
			Help:      "Checkpoint writes that failed",
		}, []string{"op"}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency observes one node execution.
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// RecordRunOutcome counts a finished Run or Resume call.
func (pm *PrometheusMetrics) RecordRunOutcome(outcome string) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(outcome).Inc()
}

// IncrementStoreFailures counts a failed checkpoint write.
func (pm *PrometheusMetrics) IncrementStoreFailures(op string) {
	if !pm.on() {
		return
	}
	pm.storeFailures.WithLabelValues(op).Inc()
}

// RunStarted increments the inflight gauge.
func (pm *PrometheusMetrics) RunStarted() {
	if pm.on() {
		pm.inflightRuns.Inc()
	}
}

// RunFinished decrements the inflight gauge.
func (pm *PrometheusMetrics) RunFinished() {
	if pm.on() {
		pm.inflightRuns.Dec()
	}
}

// Disable stops recording. Useful in tests that share a registry.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
