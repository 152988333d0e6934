package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Wall time per pipeline step. Watch for: build steps dominating the
	// run, capture time growing with the source tree.
	StepDuration *prometheus.HistogramVec

	// Step failures by step name. A coverage run is fail-fast, so any
	// non-zero rate here means aborted runs.
	StepFailuresTotal *prometheus.CounterVec

	// Completed runs by outcome ("rendered" or "aborted").
	RunsTotal *prometheus.CounterVec

	// Line coverage percentage of the last rendered report.
	LineCoveragePercent prometheus.Gauge

	// Branch coverage percentage of the last rendered report.
	BranchCoveragePercent prometheus.Gauge

	// Report server request rate by method, route, and coarse status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// Rate limit denials on the report server.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverageStepDurationSeconds",
			Help:    "Wall time per coverage pipeline step in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"step"},
	)
	StepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverageStepFailuresTotal",
			Help: "Total number of failed coverage pipeline steps",
		},
		[]string{"step"},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverageRunsTotal",
			Help: "Total number of coverage runs by outcome",
		},
		[]string{"outcome"},
	)
	LineCoveragePercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coverageLinePercent",
			Help: "Line coverage percentage of the last rendered report",
		},
	)
	BranchCoveragePercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coverageBranchPercent",
			Help: "Branch coverage percentage of the last rendered report",
		},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of report server HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of report server requests denied by rate limiting",
		},
	)

	registry.MustRegister(
		StepDuration,
		StepFailuresTotal,
		RunsTotal,
		LineCoveragePercent,
		BranchCoveragePercent,
		HTTPRequestsTotal,
		RateLimitDeniedTotal,
	)
}

// ObserveStep records one step execution.
func ObserveStep(step string, d time.Duration, err error) {
	StepDuration.WithLabelValues(step).Observe(d.Seconds())
	if err != nil {
		StepFailuresTotal.WithLabelValues(step).Inc()
	}
}

// RecordRunOutcome counts a finished run.
func RecordRunOutcome(outcome string) {
	RunsTotal.WithLabelValues(outcome).Inc()
}

// SetCoverage publishes the final report percentages.
func SetCoverage(linePct, branchPct float64) {
	LineCoveragePercent.Set(linePct)
	BranchCoveragePercent.Set(branchPct)
}

// MetricsHandler returns the Prometheus scrape handler for the orchestrator's
// own registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
