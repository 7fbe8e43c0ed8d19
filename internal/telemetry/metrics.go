package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vigil gate.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	RequestDurationMs   *prometheus.HistogramVec
	StageDurationMs     *prometheus.HistogramVec
	ShortCircuitTotal   prometheus.Counter
	PatternTimeoutTotal *prometheus.CounterVec
	BranchCallTotal     *prometheus.CounterVec
	PIIEntityTotal      *prometheus.CounterVec
	RemovalPct          prometheus.Histogram
	RateLimitHitTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor registers the metrics on a specific registry. Tests use a
// fresh registry so parallel packages never collide.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_request_total",
			Help: "Total number of checked requests by final decision.",
		}, []string{"decision", "overridden"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_request_duration_ms",
			Help:    "End-to-end check duration in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"decision"}),

		StageDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_stage_duration_ms",
			Help:    "Per-stage duration in milliseconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 500, 2500},
		}, []string{"stage"}),

		ShortCircuitTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_prefilter_short_circuit_total",
			Help: "Requests allowed on an empty prefilter candidate set.",
		}),

		PatternTimeoutTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_pattern_timeout_total",
			Help: "Pattern evaluations abandoned for exceeding the time budget.",
		}, []string{"pattern"}),

		BranchCallTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_branch_call_total",
			Help: "Arbiter branch call outcomes.",
		}, []string{"branch", "available"}),

		PIIEntityTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_pii_entity_total",
			Help: "Merged PII entities by type and source.",
		}, []string{"type", "source"}),

		RemovalPct: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_removal_pct",
			Help:    "Share of the input removed by sanitization, in percent.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 75, 100},
		}),

		RateLimitHitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_rate_limit_hit_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"dimension"}),
	}
}

// RecordCheck records the outcome of one completed check.
func (m *Metrics) RecordCheck(decision string, overridden bool, durationMs float64) {
	o := "false"
	if overridden {
		o = "true"
	}
	m.RequestTotal.WithLabelValues(decision, o).Inc()
	m.RequestDurationMs.WithLabelValues(decision).Observe(durationMs)
}

// RecordStage records one stage's duration.
func (m *Metrics) RecordStage(stage string, durationMs float64) {
	m.StageDurationMs.WithLabelValues(stage).Observe(durationMs)
}

// RecordPatternTimeout records an abandoned pattern evaluation.
func (m *Metrics) RecordPatternTimeout(pattern string) {
	m.PatternTimeoutTotal.WithLabelValues(pattern).Inc()
}

// RecordBranch records one arbiter branch call outcome.
func (m *Metrics) RecordBranch(branch string, available bool) {
	a := "false"
	if available {
		a = "true"
	}
	m.BranchCallTotal.WithLabelValues(branch, a).Inc()
}

// RecordPIIEntity counts one merged entity.
func (m *Metrics) RecordPIIEntity(entityType, source string) {
	m.PIIEntityTotal.WithLabelValues(entityType, source).Inc()
}

// RecordRateLimitHit records a rejected request.
func (m *Metrics) RecordRateLimitHit(dimension string) {
	m.RateLimitHitTotal.WithLabelValues(dimension).Inc()
}
