package service

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the run service's Prometheus collectors.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	RunCycles     prometheus.Histogram
	FinalScore    prometheus.Histogram
	ActiveRuns    prometheus.Gauge
	PublishErrors *prometheus.CounterVec
}

// NewMetrics registers the collectors with the default registry once per process.
//
// Metrics:
//   - archagent_runs_total{outcome} - accepted, rejected, failed or cancelled
//   - archagent_stage_duration_seconds{stage}
//   - archagent_run_cycles
//   - archagent_final_score
//   - archagent_active_runs
//   - archagent_publish_errors_total{publisher}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "archagent",
					Name:      "runs_total",
					Help:      "Finished refinement runs by outcome",
				},
				[]string{"outcome"},
			),
			StageDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "archagent",
					Name:      "stage_duration_seconds",
					Help:      "Duration of generate, render and validate stages",
					Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
				},
				[]string{"stage"},
			),
			RunCycles: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "archagent",
					Name:      "run_cycles",
					Help:      "Refinement cycles used per run",
					Buckets:   prometheus.LinearBuckets(1, 1, 10),
				},
			),
			FinalScore: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "archagent",
					Name:      "final_score",
					Help:      "Validator score of the final design",
					Buckets:   prometheus.LinearBuckets(10, 10, 10),
				},
			),
			ActiveRuns: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "archagent",
					Name:      "active_runs",
					Help:      "Runs currently executing",
				},
			),
			PublishErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "archagent",
					Name:      "publish_errors_total",
					Help:      "Failed attempts to publish an accepted design",
				},
				[]string{"publisher"},
			),
		}
	})
	return globalMetrics
}
